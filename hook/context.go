// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hook

import (
	"github.com/juju/errors"

	"github.com/juju/keystone-agent/charm"
)

// Environment variables set by the unit agent for every hook.
const (
	EnvHookName   = "JUJU_HOOK_NAME"
	EnvUnitName   = "JUJU_UNIT_NAME"
	EnvRemoteUnit = "JUJU_REMOTE_UNIT"
	EnvRelation   = "JUJU_RELATION"
	EnvRelationId = "JUJU_RELATION_ID"
	EnvContextId  = "JUJU_CONTEXT_ID"
	EnvCharmDir   = "CHARM_DIR"
)

// FromEnvironment builds the Info for the current process. If name is empty
// the hook name is taken from JUJU_HOOK_NAME.
func FromEnvironment(name string, getenv func(string) string) (Info, error) {
	if name == "" {
		name = getenv(EnvHookName)
	}
	info, err := Parse(name)
	if err != nil {
		return Info{}, errors.Trace(err)
	}
	if info.Kind.IsRelation() {
		info.RelationId = getenv(EnvRelationId)
		if info.Kind != RelationBroken {
			info.RemoteUnit = getenv(EnvRemoteUnit)
		}
	}
	return info, nil
}

// Context is the snapshot a handler runs against: the event, the charm
// config read once for this invocation, and facts about the local unit.
type Context struct {
	Info   Info
	Config charm.Config

	// UnitName is the local unit, eg "keystone/0".
	UnitName string

	// PrivateAddress is the local unit's private address.
	PrivateAddress string
}

// WithRelation returns a copy of the context targeting another relation
// and remote unit, as used when fanning a relation hook body out to every
// related unit.
func (ctx *Context) WithRelation(relationId, remoteUnit string) *Context {
	c := *ctx
	c.Info.RelationId = relationId
	c.Info.RemoteUnit = remoteUnit
	return &c
}
