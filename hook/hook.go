// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hook describes the lifecycle events that the keystone agent is
// invoked for, one per process.
package hook

import (
	"strings"

	"github.com/juju/errors"
)

// Kind enumerates the different kinds of hook that exist.
type Kind string

const (
	Install       Kind = "install"
	Start         Kind = "start"
	Stop          Kind = "stop"
	ConfigChanged Kind = "config-changed"
	UpgradeCharm  Kind = "upgrade-charm"

	RelationJoined   Kind = "relation-joined"
	RelationChanged  Kind = "relation-changed"
	RelationDeparted Kind = "relation-departed"
	RelationBroken   Kind = "relation-broken"

	// Unknown is reported for names that do not name a hook kind known to
	// this agent. Such hooks are still dispatched, so that they can be
	// reported and skipped.
	Unknown Kind = "unknown"
)

// IsRelation returns whether the Kind represents a relation hook.
func (kind Kind) IsRelation() bool {
	switch kind {
	case RelationJoined, RelationChanged, RelationDeparted, RelationBroken:
		return true
	}
	return false
}

var unitKinds = map[Kind]bool{
	Install:       true,
	Start:         true,
	Stop:          true,
	ConfigChanged: true,
	UpgradeCharm:  true,
}

// Info holds details of a single hook invocation. It is never modified
// after Parse or FromEnvironment returns it.
type Info struct {
	// Name is the hook name as invoked, eg "shared-db-relation-changed".
	Name string

	Kind Kind

	// RelationName is set for relation hooks only, eg "shared-db".
	RelationName string

	// RelationId identifies the relation associated with the hook,
	// eg "shared-db:3". It is only set for relation hooks.
	RelationId string

	// RemoteUnit is the name of the unit that triggered the hook. It is
	// only set for relation hooks other than relation-broken.
	RemoteUnit string
}

// Parse splits a hook name into its kind and, for relation hooks, the
// relation name. Names that are well formed but not recognised parse as
// Unknown rather than failing.
func Parse(name string) (Info, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Info{}, errors.NotValidf("empty hook name")
	}
	info := Info{Name: name, Kind: Unknown}
	if unitKinds[Kind(name)] {
		info.Kind = Kind(name)
		return info, nil
	}
	const sep = "-relation-"
	i := strings.LastIndex(name, sep)
	if i <= 0 {
		return info, nil
	}
	kind := Kind("relation-" + name[i+len(sep):])
	if !kind.IsRelation() {
		return info, nil
	}
	info.Kind = kind
	info.RelationName = name[:i]
	return info, nil
}

// String returns the hook name.
func (hi Info) String() string {
	if hi.RemoteUnit != "" {
		return hi.Name + " (" + hi.RemoteUnit + ")"
	}
	return hi.Name
}
