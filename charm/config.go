// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package charm

import (
	"github.com/juju/errors"
	"github.com/juju/schema"
)

// Unset is the value the charm tooling uses for options that were never
// given a value.
const Unset = "None"

// Config is an immutable snapshot of the keystone charm options, read once
// per hook invocation.
type Config struct {
	OpenstackOrigin string
	Database        string
	DatabaseUser    string

	AdminUser     string
	AdminPassword string
	AdminRole     string
	AdminToken    string
	Region        string

	ServicePort int
	AdminPort   int

	Debug    bool
	Verbose  bool
	LogLevel string

	VIP         string
	VIPCidr     int
	VIPIface    string
	HABindIface string
	HAMcastPort int

	SSLCert string
	SSLKey  string
}

// HAConfig holds the options required to hand cluster resources to the
// hacluster subordinate.
type HAConfig struct {
	VIP           string
	VIPCidr       int
	VIPIface      string
	BindIface     string
	MulticastPort int
}

var configFields = schema.Fields{
	"openstack-origin": schema.String(),
	"database":         schema.String(),
	"database-user":    schema.String(),
	"admin-user":       schema.String(),
	"admin-password":   schema.String(),
	"admin-role":       schema.String(),
	"admin-token":      schema.String(),
	"region":           schema.String(),
	"service-port":     schema.ForceInt(),
	"admin-port":       schema.ForceInt(),
	"debug":            schema.Bool(),
	"verbose":          schema.Bool(),
	"log-level":        schema.OneOf(schema.Const("DEBUG"), schema.Const("INFO"), schema.Const("WARNING"), schema.Const("ERROR")),
	"vip":              schema.String(),
	"vip_cidr":         schema.ForceInt(),
	"vip_iface":        schema.String(),
	"ha-bindiface":     schema.String(),
	"ha-mcastport":     schema.ForceInt(),
	"ssl_cert":         schema.String(),
	"ssl_key":          schema.String(),
}

var configDefaults = schema.Defaults{
	"openstack-origin": "distro",
	"database":         "keystone",
	"database-user":    "keystone",
	"admin-user":       "admin",
	"admin-password":   Unset,
	"admin-role":       "Admin",
	"admin-token":      Unset,
	"region":           "RegionOne",
	"service-port":     5000,
	"admin-port":       35357,
	"debug":            false,
	"verbose":          false,
	"log-level":        "WARNING",
	"vip":              "",
	"vip_cidr":         24,
	"vip_iface":        "eth0",
	"ha-bindiface":     "eth0",
	"ha-mcastport":     5403,
	"ssl_cert":         "",
	"ssl_key":          "",
}

var configChecker = schema.FieldMap(configFields, configDefaults)

// ParseConfig coerces the raw option values reported by config-get into a
// Config, applying the charm defaults for anything missing. Keys that the
// charm does not know about are ignored.
func ParseConfig(raw map[string]interface{}) (Config, error) {
	known := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if _, ok := configFields[k]; !ok {
			continue
		}
		// config-get reports unset string options as null.
		if v == nil {
			continue
		}
		known[k] = v
	}
	v, err := configChecker.Coerce(known, nil)
	if err != nil {
		return Config{}, errors.Annotate(err, "invalid charm config")
	}
	m := v.(map[string]interface{})
	cfg := Config{
		OpenstackOrigin: m["openstack-origin"].(string),
		Database:        m["database"].(string),
		DatabaseUser:    m["database-user"].(string),
		AdminUser:       m["admin-user"].(string),
		AdminPassword:   m["admin-password"].(string),
		AdminRole:       m["admin-role"].(string),
		AdminToken:      m["admin-token"].(string),
		Region:          m["region"].(string),
		ServicePort:     m["service-port"].(int),
		AdminPort:       m["admin-port"].(int),
		Debug:           m["debug"].(bool),
		Verbose:         m["verbose"].(bool),
		LogLevel:        m["log-level"].(string),
		VIP:             m["vip"].(string),
		VIPCidr:         m["vip_cidr"].(int),
		VIPIface:        m["vip_iface"].(string),
		HABindIface:     m["ha-bindiface"].(string),
		HAMcastPort:     m["ha-mcastport"].(int),
		SSLCert:         m["ssl_cert"].(string),
		SSLKey:          m["ssl_key"].(string),
	}
	if cfg.ServicePort <= 0 || cfg.AdminPort <= 0 {
		return Config{}, errors.NotValidf("service-port %d, admin-port %d", cfg.ServicePort, cfg.AdminPort)
	}
	return cfg, nil
}

// AdminPasswordSet reports whether the operator supplied an admin password.
func (c Config) AdminPasswordSet() bool {
	return IsSet(c.AdminPassword)
}

// AdminTokenSet reports whether the operator supplied an admin token.
func (c Config) AdminTokenSet() bool {
	return IsSet(c.AdminToken)
}

// HAConfig returns the hacluster options, or a NotValid error naming the
// first missing option.
func (c Config) HAConfig() (HAConfig, error) {
	switch {
	case !IsSet(c.VIP):
		return HAConfig{}, errors.NotValidf("missing vip")
	case c.VIPCidr <= 0:
		return HAConfig{}, errors.NotValidf("missing vip_cidr")
	case !IsSet(c.VIPIface):
		return HAConfig{}, errors.NotValidf("missing vip_iface")
	case !IsSet(c.HABindIface):
		return HAConfig{}, errors.NotValidf("missing ha-bindiface")
	case c.HAMcastPort <= 0:
		return HAConfig{}, errors.NotValidf("missing ha-mcastport")
	}
	return HAConfig{
		VIP:           c.VIP,
		VIPCidr:       c.VIPCidr,
		VIPIface:      c.VIPIface,
		BindIface:     c.HABindIface,
		MulticastPort: c.HAMcastPort,
	}, nil
}

// IsSet reports whether v holds a real value; the empty string and "None"
// both mean unset.
func IsSet(v string) bool {
	return v != "" && v != Unset
}
