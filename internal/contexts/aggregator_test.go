// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package contexts_test

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/keystone-agent/charm"
	"github.com/juju/keystone-agent/core/relation"
	relationtesting "github.com/juju/keystone-agent/core/relation/testing"
	"github.com/juju/keystone-agent/internal/contexts"
)

type aggregatorSuite struct {
	testing.IsolationSuite

	store *relationtesting.Store
	agg   *contexts.Aggregator
	cfg   charm.Config
}

var _ = gc.Suite(&aggregatorSuite{})

func (s *aggregatorSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.store = relationtesting.NewStore("keystone/0")
	s.agg = contexts.NewAggregator(s.store, loggo.GetLogger("test"), contexts.KeystoneSchemas()...)
	var err error
	s.cfg, err = charm.ParseConfig(nil)
	c.Assert(err, jc.ErrorIsNil)
}

func (s *aggregatorSuite) TestNoRelationsIsIncomplete(c *gc.C) {
	complete, err := s.agg.CompleteContexts(context.Background(), s.cfg)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(complete.SortedValues(), gc.HasLen, 0)

	all, err := s.agg.Contexts(context.Background(), s.cfg)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(all[contexts.SharedDB].Complete, jc.IsFalse)
	c.Check(all[contexts.SharedDB].Missing, jc.DeepEquals, []string{"hostname", "password"})
}

func (s *aggregatorSuite) TestRelationWithoutUnitsIsIncomplete(c *gc.C) {
	s.store.AddRelation("ha:1")
	cfg := s.cfg
	cfg.VIP = "10.0.0.100"
	ha, err := s.agg.Context(context.Background(), cfg, contexts.HA)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ha.Complete, jc.IsFalse)
	c.Check(ha.Missing, jc.DeepEquals, []string{"clustered"})
}

func (s *aggregatorSuite) TestMissingHostname(c *gc.C) {
	s.store.SetRemote("shared-db:1", "mysql/0", relation.Settings{"password": "s3cret"})
	complete, err := s.agg.CompleteContexts(context.Background(), s.cfg)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(complete.Contains(contexts.SharedDB), jc.IsFalse)
}

func (s *aggregatorSuite) TestMergeAcrossUnits(c *gc.C) {
	s.store.SetRemote("shared-db:1", "mysql/0", relation.Settings{"hostname": "10.0.0.1", "password": "old"})
	s.store.SetRemote("shared-db:1", "mysql/1", relation.Settings{"password": "new", "allowed_units": "keystone/0 keystone/1"})
	s.store.SetRemote("shared-db:1", "mysql/2", relation.Settings{"hostname": "None", "unrelated": "x"})

	db, err := s.agg.Context(context.Background(), s.cfg, contexts.SharedDB)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(db.Complete, jc.IsTrue)
	c.Check(db.Values, jc.DeepEquals, relation.Settings{
		"hostname":      "10.0.0.1",
		"password":      "new",
		"allowed_units": "keystone/0 keystone/1",
		"database":      "keystone",
		"username":      "keystone",
	})
	c.Check(db.Units, gc.HasLen, 3)

	typed, err := contexts.ParseSharedDB(db)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(typed, jc.DeepEquals, contexts.SharedDBContext{
		Host:         "10.0.0.1",
		Port:         3306,
		Database:     "keystone",
		User:         "keystone",
		Password:     "new",
		AllowedUnits: []string{"keystone/0", "keystone/1"},
	})
	c.Check(typed.Allows("keystone/0"), jc.IsTrue)
	c.Check(typed.Allows("keystone/7"), jc.IsFalse)
}

func (s *aggregatorSuite) TestParseSharedDBIncomplete(c *gc.C) {
	_, err := contexts.ParseSharedDB(contexts.Context{Name: contexts.SharedDB})
	c.Assert(err, jc.Satisfies, errors.IsNotValid)
}

func (s *aggregatorSuite) TestConfigOnlyContext(c *gc.C) {
	cfg := s.cfg
	cfg.SSLCert = "Y2VydA=="
	complete, err := s.agg.CompleteContexts(context.Background(), cfg)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(complete.Contains(contexts.HTTPS), jc.IsFalse)

	cfg.SSLKey = "a2V5"
	complete, err = s.agg.CompleteContexts(context.Background(), cfg)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(complete.Contains(contexts.HTTPS), jc.IsTrue)
}

func (s *aggregatorSuite) TestClustered(c *gc.C) {
	cfg := s.cfg
	cfg.VIP = "10.0.0.100"
	s.store.SetRemote("ha:3", "hacluster/0", relation.Settings{"clustered": "None"})
	all, err := s.agg.Contexts(context.Background(), cfg)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(contexts.Clustered(all), jc.IsFalse)

	s.store.SetRemote("ha:3", "hacluster/0", relation.Settings{"clustered": "yes"})
	all, err = s.agg.Contexts(context.Background(), cfg)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(contexts.Clustered(all), jc.IsTrue)
}

func (s *aggregatorSuite) TestPeers(c *gc.C) {
	s.store.SetRemote("cluster:0", "keystone/2", relation.Settings{"private-address": "10.0.0.12"})
	s.store.SetRemote("cluster:0", "keystone/1", relation.Settings{"private-address": "10.0.0.11"})
	s.store.SetRemote("cluster:0", "keystone/3", relation.Settings{})
	cl, err := s.agg.Context(context.Background(), s.cfg, contexts.Cluster)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cl.Complete, jc.IsTrue)
	c.Check(contexts.Peers(cl), jc.DeepEquals, []contexts.Peer{
		{Unit: "keystone/1", Address: "10.0.0.11"},
		{Unit: "keystone/2", Address: "10.0.0.12"},
	})
}

func (s *aggregatorSuite) TestStoreErrorPropagates(c *gc.C) {
	s.store.SetErrors(errors.New("boom"))
	_, err := s.agg.Contexts(context.Background(), s.cfg)
	c.Assert(err, gc.ErrorMatches, `resolving "shared-db" context: boom`)
}

func (s *aggregatorSuite) TestUnknownContext(c *gc.C) {
	_, err := s.agg.Context(context.Background(), s.cfg, "nope")
	c.Assert(err, jc.Satisfies, errors.IsNotFound)
}

func (s *aggregatorSuite) TestDuplicateSchemaPanics(c *gc.C) {
	c.Assert(func() {
		contexts.NewAggregator(s.store, loggo.GetLogger("test"), contexts.Schema{Name: "a"}, contexts.Schema{Name: "a"})
	}, gc.PanicMatches, "duplicate context schema a")
}
