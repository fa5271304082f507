// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package dispatch maps hook names to the handler that runs for them.
package dispatch

import (
	"context"
	"fmt"
	"sort"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/juju/keystone-agent/hook"
)

// Handler runs the body of one hook against its snapshot.
type Handler func(context.Context, *hook.Context) error

// Logger represents the logging methods called.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
}

// UnregisteredHookError is returned when no handler is registered for a
// hook name.
type UnregisteredHookError struct {
	Name string
}

// Error is part of error.
func (e *UnregisteredHookError) Error() string {
	return e.Name
}

// IsUnregisteredHook reports whether the cause of err is an
// UnregisteredHookError.
func IsUnregisteredHook(err error) bool {
	var target *UnregisteredHookError
	return errors.As(errors.Cause(err), &target)
}

// Registry holds the handler for every hook the agent implements.
type Registry struct {
	clock    clock.Clock
	logger   Logger
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry(clk clock.Clock, logger Logger) *Registry {
	return &Registry{
		clock:    clk,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Register registers handler for each of names. Registering a name twice
// panics.
func (r *Registry) Register(handler Handler, names ...string) {
	if handler == nil {
		panic("nil handler")
	}
	for _, name := range names {
		if _, ok := r.handlers[name]; ok {
			panic(fmt.Sprintf("hook %q already registered", name))
		}
		r.handlers[name] = handler
	}
}

// HookNames returns the registered hook names, sorted.
func (r *Registry) HookNames() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the handler registered for name.
func (r *Registry) Lookup(name string) (Handler, error) {
	handler, ok := r.handlers[name]
	if !ok {
		return nil, &UnregisteredHookError{Name: name}
	}
	return handler, nil
}

// Dispatch runs the one handler registered for the hook in hctx. An
// unregistered hook is logged and skipped without error.
func (r *Registry) Dispatch(ctx context.Context, hctx *hook.Context) error {
	handler, err := r.Lookup(hctx.Info.Name)
	if IsUnregisteredHook(err) {
		r.logger.Warningf("Unknown hook %s - skipping.", err)
		return nil
	}
	start := r.clock.Now()
	r.logger.Debugf("running hook %s", hctx.Info)
	err = handler(ctx, hctx)
	r.logger.Debugf("hook %s finished in %v", hctx.Info.Name, r.clock.Now().Sub(start))
	return errors.Trace(err)
}
