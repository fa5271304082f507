// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package contexts merges relation data and charm config into the named
// contexts that configuration is rendered from, and decides which of them
// hold enough data to act on.
package contexts

import (
	"context"
	"sort"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/kr/pretty"

	"github.com/juju/keystone-agent/charm"
	"github.com/juju/keystone-agent/core/relation"
)

// Logger represents the logging methods called.
type Logger interface {
	Debugf(string, ...interface{})
	Tracef(string, ...interface{})
	IsTraceEnabled() bool
}

// Schema declares how one context is assembled.
type Schema struct {
	// Name is the context name, eg "shared-db".
	Name string

	// Relation is the name of the relation the context draws from. A
	// schema without a relation is sourced from charm config alone.
	Relation string

	// Required keys must all be present and non-empty for the context to
	// be complete.
	Required []string

	// Optional keys are carried through when present.
	Optional []string

	// Config contributes values from the charm config. They are merged
	// after relation data, so config wins.
	Config func(charm.Config) relation.Settings
}

func (s Schema) keys() set.Strings {
	keys := set.NewStrings(s.Required...)
	keys = keys.Union(set.NewStrings(s.Optional...))
	return keys
}

// UnitSettings is the data one remote unit contributed to a context.
type UnitSettings struct {
	RelationId string
	Unit       string
	Settings   relation.Settings
}

// Context is a snapshot of one schema's merged data. It is derived fresh on
// every call and carries nothing between invocations.
type Context struct {
	Name string

	// Values holds the merged schema keys.
	Values relation.Settings

	// Units lists every contributing unit, in relation id then unit
	// order.
	Units []UnitSettings

	Complete bool

	// Missing names the required keys without a value, sorted.
	Missing []string
}

// Aggregator computes contexts from a relation store.
type Aggregator struct {
	store   relation.Store
	schemas []Schema
	logger  Logger
}

// NewAggregator returns an Aggregator over the given schemas. Schema names
// must be unique.
func NewAggregator(store relation.Store, logger Logger, schemas ...Schema) *Aggregator {
	seen := set.NewStrings()
	for _, s := range schemas {
		if seen.Contains(s.Name) {
			panic("duplicate context schema " + s.Name)
		}
		seen.Add(s.Name)
	}
	return &Aggregator{store: store, schemas: schemas, logger: logger}
}

// Contexts resolves every schema.
func (a *Aggregator) Contexts(ctx context.Context, cfg charm.Config) (map[string]Context, error) {
	result := make(map[string]Context, len(a.schemas))
	for _, s := range a.schemas {
		c, err := a.resolve(ctx, cfg, s)
		if err != nil {
			return nil, errors.Annotatef(err, "resolving %q context", s.Name)
		}
		result[s.Name] = c
	}
	if a.logger.IsTraceEnabled() {
		a.logger.Tracef("resolved contexts: %# v", pretty.Formatter(result))
	}
	return result, nil
}

// CompleteContexts returns the names of the complete contexts.
func (a *Aggregator) CompleteContexts(ctx context.Context, cfg charm.Config) (set.Strings, error) {
	all, err := a.Contexts(ctx, cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return Complete(all), nil
}

// Context resolves a single named context.
func (a *Aggregator) Context(ctx context.Context, cfg charm.Config, name string) (Context, error) {
	for _, s := range a.schemas {
		if s.Name == name {
			c, err := a.resolve(ctx, cfg, s)
			return c, errors.Annotatef(err, "resolving %q context", name)
		}
	}
	return Context{}, errors.NotFoundf("context %q", name)
}

// Complete returns the names of the complete contexts in all.
func Complete(all map[string]Context) set.Strings {
	names := set.NewStrings()
	for name, c := range all {
		if c.Complete {
			names.Add(name)
		}
	}
	return names
}

func (a *Aggregator) resolve(ctx context.Context, cfg charm.Config, s Schema) (Context, error) {
	result := Context{
		Name:   s.Name,
		Values: make(relation.Settings),
	}
	keys := s.keys()
	contributed := s.Relation == ""
	if s.Relation != "" {
		ids, err := a.store.RelationIds(ctx, s.Relation)
		if err != nil {
			return Context{}, errors.Trace(err)
		}
		for _, id := range ids {
			units, err := a.store.RelatedUnits(ctx, id)
			if err != nil {
				return Context{}, errors.Trace(err)
			}
			for _, unit := range units {
				settings, err := a.store.Get(ctx, id, unit)
				if errors.IsNotFound(err) {
					// The unit left between listing and reading.
					continue
				} else if err != nil {
					return Context{}, errors.Trace(err)
				}
				contributed = true
				result.Units = append(result.Units, UnitSettings{
					RelationId: id,
					Unit:       unit,
					Settings:   settings,
				})
				for _, k := range settings.Keys() {
					if keys.Contains(k) {
						result.Values[k], _ = settings.Get(k)
					}
				}
			}
		}
	}
	if s.Config != nil {
		for k, v := range s.Config(cfg) {
			if charm.IsSet(v) {
				result.Values[k] = v
			}
		}
	}
	for _, k := range s.Required {
		if _, ok := result.Values.Get(k); !ok {
			result.Missing = append(result.Missing, k)
		}
	}
	sort.Strings(result.Missing)
	result.Complete = contributed && len(result.Missing) == 0
	if !result.Complete {
		a.logger.Debugf("%s context incomplete, missing %v", s.Name, result.Missing)
	}
	return result, nil
}
