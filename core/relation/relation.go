// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package relation defines the shared data channels through which
// cooperating units exchange settings.
package relation

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/names/v5"
)

// unset is what the charm tooling writes for keys that have no value.
const unset = "None"

// Settings holds the key/value data one unit has published on a relation.
type Settings map[string]string

// Get returns the value for key. Empty values and the "None" placeholder
// are both reported as absent.
func (s Settings) Get(key string) (string, bool) {
	v, ok := s[key]
	if !ok || v == "" || v == unset {
		return "", false
	}
	return v, true
}

// Keys returns the keys with a value, sorted.
func (s Settings) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		if _, ok := s.Get(k); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Store gives access to the relations the local unit participates in.
// Writes only ever touch the local unit's settings; other units observe
// them on their next invocation.
type Store interface {
	// RelationIds returns the ids of every relation with the given name.
	RelationIds(ctx context.Context, name string) ([]string, error)

	// RelatedUnits returns the remote units currently in scope for the
	// relation.
	RelatedUnits(ctx context.Context, relationId string) ([]string, error)

	// Get returns the settings the given unit published on the relation.
	Get(ctx context.Context, relationId, unit string) (Settings, error)

	// Set merges settings into the local unit's data on the relation. An
	// empty value removes the key.
	Set(ctx context.Context, relationId string, settings Settings) error
}

// Id identifies a relation in "name:number" form, eg "shared-db:3".
type Id string

// ParseId validates a relation id.
func ParseId(s string) (Id, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return "", errors.NotValidf("relation id %q", s)
	}
	if _, err := strconv.Atoi(s[i+1:]); err != nil {
		return "", errors.NotValidf("relation id %q", s)
	}
	return Id(s), nil
}

// Name returns the relation name part of the id.
func (id Id) Name() string {
	s := string(id)
	if i := strings.LastIndex(s, ":"); i > 0 {
		return s[:i]
	}
	return s
}

// Number returns the numeric part of the id, or -1 if it has none.
func (id Id) Number() int {
	s := string(id)
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return -1
	}
	n, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return -1
	}
	return n
}

// SortIds orders relation ids by name and then number.
func SortIds(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := Id(ids[i]), Id(ids[j])
		if a.Name() != b.Name() {
			return a.Name() < b.Name()
		}
		return a.Number() < b.Number()
	})
}

// SortUnits orders unit names by application and then unit number, so that
// "keystone/10" sorts after "keystone/9". Invalid names sort last, lexically.
func SortUnits(units []string) {
	sort.Slice(units, func(i, j int) bool {
		a, b := units[i], units[j]
		va, vb := names.IsValidUnit(a), names.IsValidUnit(b)
		if va != vb {
			return va
		}
		if !va {
			return a < b
		}
		appA, _ := names.UnitApplication(a)
		appB, _ := names.UnitApplication(b)
		if appA != appB {
			return appA < appB
		}
		return names.NewUnitTag(a).Number() < names.NewUnitTag(b).Number()
	})
}
