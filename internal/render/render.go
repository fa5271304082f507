// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package render produces keystone's configuration files from the current
// contexts and writes them only when their content changes.
package render

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/utils/v4"

	"github.com/juju/keystone-agent/charm"
	"github.com/juju/keystone-agent/hook"
	"github.com/juju/keystone-agent/internal/contexts"
)

// Logger represents the logging methods called.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
}

// ContextSource resolves the contexts artifacts render from.
type ContextSource interface {
	Contexts(ctx context.Context, cfg charm.Config) (map[string]contexts.Context, error)
}

// Artifact is one managed configuration file.
type Artifact struct {
	Name string
	Path string
	Perm os.FileMode

	// Enabled, when set, decides whether the artifact is written at all.
	// A disabled artifact is left untouched on disk.
	Enabled func(Data) bool

	Render func(Data) ([]byte, error)
}

// Config holds the dependencies of a Renderer.
type Config struct {
	Contexts ContextSource

	// Hook is the snapshot of the current invocation.
	Hook *hook.Context

	// AdminToken returns the token keystone.conf grants admin access
	// with.
	AdminToken func(context.Context) (string, error)

	Paths     Paths
	Artifacts []Artifact
	Logger    Logger
}

// Validate returns an error if the config cannot be used.
func (config Config) Validate() error {
	if config.Contexts == nil {
		return errors.NotValidf("nil Contexts")
	}
	if config.Hook == nil {
		return errors.NotValidf("nil Hook")
	}
	if config.AdminToken == nil {
		return errors.NotValidf("nil AdminToken")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	seen := make(map[string]bool)
	for _, a := range config.Artifacts {
		if a.Name == "" || a.Path == "" || a.Render == nil {
			return errors.NotValidf("artifact %q", a.Name)
		}
		if seen[a.Name] {
			return errors.NotValidf("duplicate artifact %q", a.Name)
		}
		seen[a.Name] = true
	}
	return nil
}

// Renderer writes artifacts. It keeps nothing between calls: every Render
// resolves the contexts again and compares against what is on disk.
type Renderer struct {
	config Config
}

// NewRenderer returns a Renderer for the configured artifacts.
func NewRenderer(config Config) (*Renderer, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Renderer{config: config}, nil
}

// Render writes the named artifact and reports whether its content
// changed.
func (r *Renderer) Render(ctx context.Context, name string) (bool, error) {
	a, ok := r.artifact(name)
	if !ok {
		return false, errors.NotFoundf("artifact %q", name)
	}
	data, err := r.data(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	changed, err := r.write(a, data)
	return changed, errors.Annotatef(err, "rendering %s", name)
}

// RenderAll writes every artifact, in registration order, and reports
// which of them changed.
func (r *Renderer) RenderAll(ctx context.Context) (map[string]bool, error) {
	data, err := r.data(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	result := make(map[string]bool, len(r.config.Artifacts))
	for _, a := range r.config.Artifacts {
		changed, err := r.write(a, data)
		if err != nil {
			return nil, errors.Annotatef(err, "rendering %s", a.Name)
		}
		result[a.Name] = changed
	}
	return result, nil
}

// Paths returns the artifact paths, keyed by artifact name.
func (r *Renderer) Paths() map[string]string {
	result := make(map[string]string, len(r.config.Artifacts))
	for _, a := range r.config.Artifacts {
		result[a.Name] = a.Path
	}
	return result
}

func (r *Renderer) artifact(name string) (Artifact, bool) {
	for _, a := range r.config.Artifacts {
		if a.Name == name {
			return a, true
		}
	}
	return Artifact{}, false
}

func (r *Renderer) data(ctx context.Context) (Data, error) {
	all, err := r.config.Contexts.Contexts(ctx, r.config.Hook.Config)
	if err != nil {
		return Data{}, errors.Trace(err)
	}
	token, err := r.config.AdminToken(ctx)
	if err != nil {
		return Data{}, errors.Annotate(err, "getting admin token")
	}
	return Data{
		Config:         r.config.Hook.Config,
		Contexts:       all,
		UnitName:       r.config.Hook.UnitName,
		PrivateAddress: r.config.Hook.PrivateAddress,
		AdminToken:     token,
		Paths:          r.config.Paths,
	}, nil
}

func (r *Renderer) write(a Artifact, data Data) (bool, error) {
	if a.Enabled != nil && !a.Enabled(data) {
		r.config.Logger.Debugf("%s disabled, not writing %s", a.Name, a.Path)
		return false, nil
	}
	content, err := a.Render(data)
	if err != nil {
		return false, errors.Trace(err)
	}
	existing, err := os.ReadFile(a.Path)
	if err == nil && bytes.Equal(existing, content) {
		return false, nil
	} else if err != nil && !os.IsNotExist(err) {
		return false, errors.Trace(err)
	}
	if err := os.MkdirAll(filepath.Dir(a.Path), 0755); err != nil {
		return false, errors.Trace(err)
	}
	perm := a.Perm
	if perm == 0 {
		perm = 0644
	}
	if err := utils.AtomicWriteFile(a.Path, content, perm); err != nil {
		return false, errors.Trace(err)
	}
	r.config.Logger.Infof("wrote %s", a.Path)
	return true, nil
}
