// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package restart restarts services after, and only after, the files they
// read have changed.
package restart

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/juju/keystone-agent/hook"
)

// Logger represents the logging methods called.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
}

// ServiceManager controls services by name.
type ServiceManager interface {
	Restart(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Start(ctx context.Context, name string) error
}

// Entry maps a file to the services that read it.
type Entry struct {
	Path     string
	Services []string
}

// Map is an ordered list of entries. Services restart in the order they
// first appear.
type Map []Entry

// Coordinator wraps hook bodies with a before and after comparison of the
// mapped files. A Coordinator is immutable; the builder methods return
// modified copies.
type Coordinator struct {
	restartMap Map
	manager    ServiceManager
	logger     Logger
	stopStart  bool
	force      func() bool
}

// OnChange returns a Coordinator restarting services from restartMap
// through manager.
func OnChange(restartMap Map, manager ServiceManager, logger Logger) *Coordinator {
	return &Coordinator{
		restartMap: restartMap,
		manager:    manager,
		logger:     logger,
	}
}

// StopStart returns a Coordinator that stops every affected service and
// then starts them all, instead of restarting each in turn.
func (c *Coordinator) StopStart() *Coordinator {
	copied := *c
	copied.stopStart = true
	return &copied
}

// ForceWhen returns a Coordinator that restarts every mapped service when
// force reports true after the body ran, whether or not any file changed.
// It is meant for package upgrades done by the body.
func (c *Coordinator) ForceWhen(force func() bool) *Coordinator {
	copied := *c
	copied.force = force
	return &copied
}

// Wrap returns body surrounded by the restart check. If body fails no
// service is touched and its error is returned. The body may call Flush
// to restart services it needs running before it returns.
func (c *Coordinator) Wrap(body func(context.Context, *hook.Context) error) func(context.Context, *hook.Context) error {
	return func(ctx context.Context, hctx *hook.Context) error {
		before, err := c.snapshot()
		if err != nil {
			return errors.Trace(err)
		}
		p := &pending{coordinator: c, before: before}
		if err := body(context.WithValue(ctx, flushKey{}, p), hctx); err != nil {
			return errors.Trace(err)
		}
		after, err := c.snapshot()
		if err != nil {
			return errors.Trace(err)
		}
		forced := c.force != nil && c.force()
		services := c.affected(p.before, after, forced)
		if len(services) == 0 {
			c.logger.Debugf("no configuration changed, not restarting")
			return nil
		}
		return errors.Trace(c.restart(ctx, services))
	}
}

type flushKey struct{}

// pending tracks the file hashes a wrapped body last restarted against.
type pending struct {
	coordinator *Coordinator
	before      map[string]string
}

func (p *pending) flush(ctx context.Context) error {
	now, err := p.coordinator.snapshot()
	if err != nil {
		return errors.Trace(err)
	}
	services := p.coordinator.affected(p.before, now, false)
	p.before = now
	if len(services) == 0 {
		return nil
	}
	return errors.Trace(p.coordinator.restart(ctx, services))
}

// Flush restarts the services whose files changed so far in the body
// wrapped by ctx's Coordinator. Those services are not restarted again
// when the body returns unless their files change once more. Outside a
// wrapped body Flush does nothing.
func Flush(ctx context.Context) error {
	p, ok := ctx.Value(flushKey{}).(*pending)
	if !ok {
		return nil
	}
	return errors.Trace(p.flush(ctx))
}

// Services returns every mapped service, in restart order.
func (c *Coordinator) Services() []string {
	return c.affected(nil, nil, true)
}

func (c *Coordinator) affected(before, after map[string]string, forced bool) []string {
	var services []string
	seen := set.NewStrings()
	for _, e := range c.restartMap {
		if !forced && before[e.Path] == after[e.Path] {
			continue
		}
		for _, s := range e.Services {
			if !seen.Contains(s) {
				seen.Add(s)
				services = append(services, s)
			}
		}
	}
	return services
}

func (c *Coordinator) restart(ctx context.Context, services []string) error {
	if c.stopStart {
		c.logger.Infof("stopping and starting %v", services)
		for _, s := range services {
			if err := c.manager.Stop(ctx, s); err != nil {
				return errors.Annotatef(err, "stopping %s", s)
			}
		}
		for _, s := range services {
			if err := c.manager.Start(ctx, s); err != nil {
				return errors.Annotatef(err, "starting %s", s)
			}
		}
		return nil
	}
	c.logger.Infof("restarting %v", services)
	for _, s := range services {
		if err := c.manager.Restart(ctx, s); err != nil {
			return errors.Annotatef(err, "restarting %s", s)
		}
	}
	return nil
}

// snapshot hashes every mapped file. Missing files hash to "".
func (c *Coordinator) snapshot() (map[string]string, error) {
	hashes := make(map[string]string, len(c.restartMap))
	for _, e := range c.restartMap {
		if _, ok := hashes[e.Path]; ok {
			continue
		}
		data, err := os.ReadFile(e.Path)
		if os.IsNotExist(err) {
			hashes[e.Path] = ""
			continue
		} else if err != nil {
			return nil, errors.Annotatef(err, "hashing %s", e.Path)
		}
		sum := sha256.Sum256(data)
		hashes[e.Path] = hex.EncodeToString(sum[:])
	}
	return hashes, nil
}
