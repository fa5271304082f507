// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"context"
	"os"
	"path/filepath"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/keystone-agent/database"
	databasetesting "github.com/juju/keystone-agent/database/testing"
	"github.com/juju/keystone-agent/domain/credential"
)

type stateSuite struct {
	testing.IsolationSuite

	db    *sqlair.DB
	state *State
}

var _ = gc.Suite(&stateSuite{})

func (s *stateSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.db, _ = databasetesting.OpenDB(c)
	s.AddCleanup(func(*gc.C) { _ = s.db.PlainDB().Close() })
	s.state = NewState(func(context.Context) (*sqlair.DB, error) {
		return s.db, nil
	}, loggo.GetLogger("test"))
}

func (s *stateSuite) TestLoadEmpty(c *gc.C) {
	creds, err := s.state.Load(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(creds, jc.DeepEquals, credential.Credentials{})
}

func (s *stateSuite) TestSaveAndLoad(c *gc.C) {
	ctx := context.Background()
	creds := credential.Credentials{
		AdminToken:    "ubuntutesting",
		AdminPassword: "openstack",
		Services:      map[string]string{"glance": "secret", "nova": "other"},
	}
	changed, err := s.state.Save(ctx, creds)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(changed, jc.IsTrue)

	loaded, err := s.state.Load(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(loaded, jc.DeepEquals, creds)
}

func (s *stateSuite) TestSaveUnchanged(c *gc.C) {
	ctx := context.Background()
	creds := credential.Credentials{AdminToken: "ubuntutesting"}
	_, err := s.state.Save(ctx, creds)
	c.Assert(err, jc.ErrorIsNil)

	changed, err := s.state.Save(ctx, creds)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(changed, jc.IsFalse)
}

func (s *stateSuite) TestSaveReplaces(c *gc.C) {
	ctx := context.Background()
	_, err := s.state.Save(ctx, credential.Credentials{
		AdminToken: "old",
		Services:   map[string]string{"glance": "secret"},
	})
	c.Assert(err, jc.ErrorIsNil)

	changed, err := s.state.Save(ctx, credential.Credentials{AdminToken: "new"})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(changed, jc.IsTrue)

	loaded, err := s.state.Load(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(loaded, jc.DeepEquals, credential.Credentials{AdminToken: "new"})
}

func (s *stateSuite) TestOpenError(c *gc.C) {
	st := NewState(func(context.Context) (*sqlair.DB, error) {
		return nil, errors.New("boom")
	}, loggo.GetLogger("test"))
	_, err := st.Load(context.Background())
	c.Assert(err, gc.ErrorMatches, "opening credential cache: boom")
}

func (s *stateSuite) TestLazyOpener(c *gc.C) {
	path := filepath.Join(c.MkDir(), "charm-credentials.db")
	opener := database.NewOpener(path)
	s.AddCleanup(func(*gc.C) { _ = opener.Close() })
	st := NewState(opener.DB, loggo.GetLogger("test"))

	_, err := os.Stat(path)
	c.Assert(err, jc.Satisfies, os.IsNotExist)

	_, err = st.Save(context.Background(), credential.Credentials{AdminPassword: "openstack"})
	c.Assert(err, jc.ErrorIsNil)
	info, err := os.Stat(path)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(info.Mode().Perm(), gc.Equals, os.FileMode(0600))
}
