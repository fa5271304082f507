// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hook_test

import (
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/keystone-agent/hook"
)

type hookSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&hookSuite{})

func (s *hookSuite) TestParse(c *gc.C) {
	for i, test := range []struct {
		name     string
		kind     hook.Kind
		relation string
	}{
		{"install", hook.Install, ""},
		{"config-changed", hook.ConfigChanged, ""},
		{"upgrade-charm", hook.UpgradeCharm, ""},
		{"shared-db-relation-joined", hook.RelationJoined, "shared-db"},
		{"shared-db-relation-changed", hook.RelationChanged, "shared-db"},
		{"identity-service-relation-departed", hook.RelationDeparted, "identity-service"},
		{"ha-relation-broken", hook.RelationBroken, "ha"},
		{"cluster-relation-changed", hook.RelationChanged, "cluster"},
		{"update-status", hook.Unknown, ""},
		{"foo-relation-exploded", hook.Unknown, ""},
		{"-relation-changed", hook.Unknown, ""},
	} {
		c.Logf("test %d: %s", i, test.name)
		info, err := hook.Parse(test.name)
		c.Assert(err, jc.ErrorIsNil)
		c.Check(info.Name, gc.Equals, test.name)
		c.Check(info.Kind, gc.Equals, test.kind)
		c.Check(info.RelationName, gc.Equals, test.relation)
	}
}

func (s *hookSuite) TestParseEmpty(c *gc.C) {
	_, err := hook.Parse("  ")
	c.Assert(err, jc.Satisfies, errors.IsNotValid)
}

func (s *hookSuite) TestFromEnvironment(c *gc.C) {
	env := map[string]string{
		hook.EnvHookName:   "shared-db-relation-changed",
		hook.EnvRelationId: "shared-db:4",
		hook.EnvRemoteUnit: "mysql/0",
	}
	info, err := hook.FromEnvironment("", func(k string) string { return env[k] })
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info, jc.DeepEquals, hook.Info{
		Name:         "shared-db-relation-changed",
		Kind:         hook.RelationChanged,
		RelationName: "shared-db",
		RelationId:   "shared-db:4",
		RemoteUnit:   "mysql/0",
	})
	c.Check(info.String(), gc.Equals, "shared-db-relation-changed (mysql/0)")
}

func (s *hookSuite) TestFromEnvironmentUnitHookIgnoresRelation(c *gc.C) {
	env := map[string]string{
		hook.EnvRelationId: "shared-db:4",
		hook.EnvRemoteUnit: "mysql/0",
	}
	info, err := hook.FromEnvironment("install", func(k string) string { return env[k] })
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.RelationId, gc.Equals, "")
	c.Check(info.RemoteUnit, gc.Equals, "")
}

func (s *hookSuite) TestFromEnvironmentBrokenHasNoRemoteUnit(c *gc.C) {
	env := map[string]string{
		hook.EnvRelationId: "ha:1",
		hook.EnvRemoteUnit: "hacluster/0",
	}
	info, err := hook.FromEnvironment("ha-relation-broken", func(k string) string { return env[k] })
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.RelationId, gc.Equals, "ha:1")
	c.Check(info.RemoteUnit, gc.Equals, "")
}

func (s *hookSuite) TestWithRelation(c *gc.C) {
	hctx := &hook.Context{
		Info:     hook.Info{Name: "config-changed", Kind: hook.ConfigChanged},
		UnitName: "keystone/0",
	}
	other := hctx.WithRelation("identity-service:7", "nova/1")
	c.Check(other.Info.RelationId, gc.Equals, "identity-service:7")
	c.Check(other.Info.RemoteUnit, gc.Equals, "nova/1")
	c.Check(other.UnitName, gc.Equals, "keystone/0")
	c.Check(hctx.Info.RelationId, gc.Equals, "")
}
