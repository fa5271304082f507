// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charm_test

import (
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/keystone-agent/charm"
)

type configSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&configSuite{})

func (s *configSuite) TestDefaults(c *gc.C) {
	cfg, err := charm.ParseConfig(nil)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.Database, gc.Equals, "keystone")
	c.Check(cfg.DatabaseUser, gc.Equals, "keystone")
	c.Check(cfg.AdminUser, gc.Equals, "admin")
	c.Check(cfg.AdminRole, gc.Equals, "Admin")
	c.Check(cfg.Region, gc.Equals, "RegionOne")
	c.Check(cfg.ServicePort, gc.Equals, 5000)
	c.Check(cfg.AdminPort, gc.Equals, 35357)
	c.Check(cfg.HAMcastPort, gc.Equals, 5403)
	c.Check(cfg.LogLevel, gc.Equals, "WARNING")
	c.Check(cfg.AdminPasswordSet(), jc.IsFalse)
	c.Check(cfg.AdminTokenSet(), jc.IsFalse)
}

func (s *configSuite) TestOverrides(c *gc.C) {
	cfg, err := charm.ParseConfig(map[string]interface{}{
		"admin-password": "sekrit",
		"service-port":   "5001",
		"debug":          true,
		"vip":            "10.0.0.100",
		"unknown-option": "ignored",
		"ssl_cert":       nil,
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(cfg.AdminPassword, gc.Equals, "sekrit")
	c.Check(cfg.AdminPasswordSet(), jc.IsTrue)
	c.Check(cfg.ServicePort, gc.Equals, 5001)
	c.Check(cfg.Debug, jc.IsTrue)
	c.Check(cfg.VIP, gc.Equals, "10.0.0.100")
	c.Check(cfg.SSLCert, gc.Equals, "")
}

func (s *configSuite) TestInvalidLogLevel(c *gc.C) {
	_, err := charm.ParseConfig(map[string]interface{}{"log-level": "LOUD"})
	c.Assert(err, gc.ErrorMatches, `invalid charm config: log-level: .*`)
}

func (s *configSuite) TestInvalidPort(c *gc.C) {
	_, err := charm.ParseConfig(map[string]interface{}{"admin-port": 0})
	c.Assert(err, jc.Satisfies, errors.IsNotValid)
}

func (s *configSuite) TestHAConfig(c *gc.C) {
	cfg, err := charm.ParseConfig(map[string]interface{}{"vip": "10.0.0.100"})
	c.Assert(err, jc.ErrorIsNil)
	ha, err := cfg.HAConfig()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ha, jc.DeepEquals, charm.HAConfig{
		VIP:           "10.0.0.100",
		VIPCidr:       24,
		VIPIface:      "eth0",
		BindIface:     "eth0",
		MulticastPort: 5403,
	})
}

func (s *configSuite) TestHAConfigMissingVIP(c *gc.C) {
	cfg, err := charm.ParseConfig(nil)
	c.Assert(err, jc.ErrorIsNil)
	_, err = cfg.HAConfig()
	c.Assert(err, jc.Satisfies, errors.IsNotValid)
	c.Assert(err, gc.ErrorMatches, "missing vip not valid")
}

func (s *configSuite) TestIsSet(c *gc.C) {
	c.Check(charm.IsSet(""), jc.IsFalse)
	c.Check(charm.IsSet("None"), jc.IsFalse)
	c.Check(charm.IsSet("x"), jc.IsTrue)
}
