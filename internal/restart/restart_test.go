// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package restart_test

import (
	"context"
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"

	"github.com/juju/keystone-agent/hook"
	"github.com/juju/keystone-agent/internal/restart"
)

type restartSuite struct {
	testing.IsolationSuite

	manager    *MockServiceManager
	keystone   string
	haproxy    string
	restartMap restart.Map
}

var _ = gc.Suite(&restartSuite{})

func (s *restartSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	dir := c.MkDir()
	s.keystone = filepath.Join(dir, "keystone.conf")
	s.haproxy = filepath.Join(dir, "haproxy.cfg")
	s.restartMap = restart.Map{
		{Path: s.keystone, Services: []string{"keystone"}},
		{Path: filepath.Join(dir, "logging.conf"), Services: []string{"keystone"}},
		{Path: s.haproxy, Services: []string{"haproxy"}},
	}
}

func (s *restartSuite) setupMocks(c *gc.C) *gomock.Controller {
	ctrl := gomock.NewController(c)
	s.manager = NewMockServiceManager(ctrl)
	return ctrl
}

func (s *restartSuite) coordinator() *restart.Coordinator {
	return restart.OnChange(s.restartMap, s.manager, loggo.GetLogger("test"))
}

func write(path, content string) func(context.Context, *hook.Context) error {
	return func(context.Context, *hook.Context) error {
		return os.WriteFile(path, []byte(content), 0644)
	}
}

func (s *restartSuite) TestNoChangeNoRestart(c *gc.C) {
	defer s.setupMocks(c).Finish()
	c.Assert(os.WriteFile(s.keystone, []byte("a"), 0644), jc.ErrorIsNil)

	err := s.coordinator().Wrap(write(s.keystone, "a"))(context.Background(), &hook.Context{})
	c.Assert(err, jc.ErrorIsNil)
}

func (s *restartSuite) TestChangeRestartsOnce(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.manager.EXPECT().Restart(gomock.Any(), "keystone").Return(nil)

	body := func(ctx context.Context, hctx *hook.Context) error {
		if err := write(s.keystone, "a")(ctx, hctx); err != nil {
			return err
		}
		return write(filepath.Join(filepath.Dir(s.keystone), "logging.conf"), "b")(ctx, hctx)
	}
	err := s.coordinator().Wrap(body)(context.Background(), &hook.Context{})
	c.Assert(err, jc.ErrorIsNil)
}

func (s *restartSuite) TestRestartOrder(c *gc.C) {
	defer s.setupMocks(c).Finish()
	gomock.InOrder(
		s.manager.EXPECT().Restart(gomock.Any(), "keystone").Return(nil),
		s.manager.EXPECT().Restart(gomock.Any(), "haproxy").Return(nil),
	)

	body := func(ctx context.Context, hctx *hook.Context) error {
		if err := write(s.haproxy, "h")(ctx, hctx); err != nil {
			return err
		}
		return write(s.keystone, "k")(ctx, hctx)
	}
	err := s.coordinator().Wrap(body)(context.Background(), &hook.Context{})
	c.Assert(err, jc.ErrorIsNil)
}

func (s *restartSuite) TestStopStart(c *gc.C) {
	defer s.setupMocks(c).Finish()
	gomock.InOrder(
		s.manager.EXPECT().Stop(gomock.Any(), "keystone").Return(nil),
		s.manager.EXPECT().Stop(gomock.Any(), "haproxy").Return(nil),
		s.manager.EXPECT().Start(gomock.Any(), "keystone").Return(nil),
		s.manager.EXPECT().Start(gomock.Any(), "haproxy").Return(nil),
	)

	body := func(ctx context.Context, hctx *hook.Context) error {
		if err := write(s.haproxy, "h")(ctx, hctx); err != nil {
			return err
		}
		return write(s.keystone, "k")(ctx, hctx)
	}
	err := s.coordinator().StopStart().Wrap(body)(context.Background(), &hook.Context{})
	c.Assert(err, jc.ErrorIsNil)
}

func (s *restartSuite) TestBodyErrorSkipsRestart(c *gc.C) {
	defer s.setupMocks(c).Finish()

	body := func(ctx context.Context, hctx *hook.Context) error {
		_ = write(s.keystone, "k")(ctx, hctx)
		return errors.New("migration failed")
	}
	err := s.coordinator().Wrap(body)(context.Background(), &hook.Context{})
	c.Assert(err, gc.ErrorMatches, "migration failed")
}

func (s *restartSuite) TestForceWhen(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.manager.EXPECT().Restart(gomock.Any(), "keystone").Return(nil)
	s.manager.EXPECT().Restart(gomock.Any(), "haproxy").Return(nil)

	upgraded := false
	body := func(context.Context, *hook.Context) error {
		upgraded = true
		return nil
	}
	coord := s.coordinator().ForceWhen(func() bool { return upgraded })
	err := coord.Wrap(body)(context.Background(), &hook.Context{})
	c.Assert(err, jc.ErrorIsNil)
}

func (s *restartSuite) TestForceWhenFalse(c *gc.C) {
	defer s.setupMocks(c).Finish()

	coord := s.coordinator().ForceWhen(func() bool { return false })
	err := coord.Wrap(func(context.Context, *hook.Context) error { return nil })(context.Background(), &hook.Context{})
	c.Assert(err, jc.ErrorIsNil)
}

func (s *restartSuite) TestRestartErrorPropagates(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.manager.EXPECT().Restart(gomock.Any(), "keystone").Return(errors.New(`job "restart" failed`))

	err := s.coordinator().Wrap(write(s.keystone, "k"))(context.Background(), &hook.Context{})
	c.Assert(err, gc.ErrorMatches, `restarting keystone: job "restart" failed`)
}

func (s *restartSuite) TestServices(c *gc.C) {
	defer s.setupMocks(c).Finish()
	c.Check(s.coordinator().Services(), jc.DeepEquals, []string{"keystone", "haproxy"})
}

func (s *restartSuite) TestBuildersDoNotMutate(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.manager.EXPECT().Restart(gomock.Any(), "keystone").Return(nil)

	base := s.coordinator()
	_ = base.StopStart()
	err := base.Wrap(write(s.keystone, "k"))(context.Background(), &hook.Context{})
	c.Assert(err, jc.ErrorIsNil)
}

func (s *restartSuite) TestFlushRestartsOnce(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.manager.EXPECT().Restart(gomock.Any(), "keystone").Return(nil)

	body := func(ctx context.Context, hctx *hook.Context) error {
		if err := write(s.keystone, "k")(ctx, hctx); err != nil {
			return err
		}
		return restart.Flush(ctx)
	}
	err := s.coordinator().Wrap(body)(context.Background(), &hook.Context{})
	c.Assert(err, jc.ErrorIsNil)
}

func (s *restartSuite) TestFlushThenLaterChange(c *gc.C) {
	defer s.setupMocks(c).Finish()
	gomock.InOrder(
		s.manager.EXPECT().Restart(gomock.Any(), "keystone").Return(nil),
		s.manager.EXPECT().Restart(gomock.Any(), "haproxy").Return(nil),
	)

	body := func(ctx context.Context, hctx *hook.Context) error {
		if err := write(s.keystone, "k")(ctx, hctx); err != nil {
			return err
		}
		if err := restart.Flush(ctx); err != nil {
			return err
		}
		return write(s.haproxy, "h")(ctx, hctx)
	}
	err := s.coordinator().Wrap(body)(context.Background(), &hook.Context{})
	c.Assert(err, jc.ErrorIsNil)
}

func (s *restartSuite) TestFlushOutsideWrap(c *gc.C) {
	defer s.setupMocks(c).Finish()
	c.Assert(restart.Flush(context.Background()), jc.ErrorIsNil)
}
