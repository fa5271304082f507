// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"context"
	"sort"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/testing"

	"github.com/juju/keystone-agent/core/relation"
)

// SetCall records one write to the store.
type SetCall struct {
	RelationId string
	Settings   relation.Settings
}

// Store is an in-memory relation.Store. Remote data is seeded by the test;
// the local unit's writes are recorded and visible through Local.
type Store struct {
	testing.Stub

	mu        sync.Mutex
	localUnit string
	remote    map[string]map[string]relation.Settings
	local     map[string]relation.Settings
	sets      []SetCall
}

var _ relation.Store = (*Store)(nil)

// NewStore returns an empty store for the given local unit.
func NewStore(localUnit string) *Store {
	return &Store{
		localUnit: localUnit,
		remote:    make(map[string]map[string]relation.Settings),
		local:     make(map[string]relation.Settings),
	}
}

// AddRelation makes a relation known with no remote units in scope.
func (s *Store) AddRelation(relationId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.remote[relationId]; !ok {
		s.remote[relationId] = make(map[string]relation.Settings)
	}
}

// SetRemote replaces the settings published by a remote unit, adding the
// relation and unit if needed.
func (s *Store) SetRemote(relationId, unit string, settings relation.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	units, ok := s.remote[relationId]
	if !ok {
		units = make(map[string]relation.Settings)
		s.remote[relationId] = units
	}
	copied := make(relation.Settings, len(settings))
	for k, v := range settings {
		copied[k] = v
	}
	units[unit] = copied
}

// RemoveUnit takes a remote unit out of scope.
func (s *Store) RemoveUnit(relationId, unit string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.remote[relationId], unit)
}

// Local returns a copy of the local unit's settings on the relation.
func (s *Store) Local(relationId string) relation.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(relation.Settings)
	for k, v := range s.local[relationId] {
		result[k] = v
	}
	return result
}

// Sets returns every write made through the store, in order.
func (s *Store) Sets() []SetCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SetCall(nil), s.sets...)
}

// ResetSets forgets the recorded writes, keeping the data.
func (s *Store) ResetSets() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets = nil
}

// RelationIds is part of relation.Store.
func (s *Store) RelationIds(ctx context.Context, name string) ([]string, error) {
	s.MethodCall(s, "RelationIds", name)
	if err := s.NextErr(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id := range s.remote {
		if relation.Id(id).Name() == name {
			ids = append(ids, id)
		}
	}
	relation.SortIds(ids)
	return ids, nil
}

// RelatedUnits is part of relation.Store.
func (s *Store) RelatedUnits(ctx context.Context, relationId string) ([]string, error) {
	s.MethodCall(s, "RelatedUnits", relationId)
	if err := s.NextErr(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	units, ok := s.remote[relationId]
	if !ok {
		return nil, errors.NotFoundf("relation %q", relationId)
	}
	result := make([]string, 0, len(units))
	for unit := range units {
		result = append(result, unit)
	}
	relation.SortUnits(result)
	return result, nil
}

// Get is part of relation.Store.
func (s *Store) Get(ctx context.Context, relationId, unit string) (relation.Settings, error) {
	s.MethodCall(s, "Get", relationId, unit)
	if err := s.NextErr(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var settings relation.Settings
	if unit == s.localUnit {
		settings = s.local[relationId]
	} else {
		units, ok := s.remote[relationId]
		if !ok {
			return nil, errors.NotFoundf("relation %q", relationId)
		}
		if settings, ok = units[unit]; !ok {
			return nil, errors.NotFoundf("unit %q in relation %q", unit, relationId)
		}
	}
	result := make(relation.Settings, len(settings))
	for k, v := range settings {
		result[k] = v
	}
	return result, nil
}

// Set is part of relation.Store.
func (s *Store) Set(ctx context.Context, relationId string, settings relation.Settings) error {
	s.MethodCall(s, "Set", relationId, settings)
	if err := s.NextErr(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.remote[relationId]; !ok {
		return errors.NotFoundf("relation %q", relationId)
	}
	local, ok := s.local[relationId]
	if !ok {
		local = make(relation.Settings)
		s.local[relationId] = local
	}
	copied := make(relation.Settings, len(settings))
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := settings[k]
		copied[k] = v
		if v == "" {
			delete(local, k)
		} else {
			local[k] = v
		}
	}
	s.sets = append(s.sets, SetCall{RelationId: relationId, Settings: copied})
	return nil
}
