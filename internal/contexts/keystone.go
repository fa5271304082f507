// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package contexts

import (
	"strings"

	"github.com/juju/errors"
	"github.com/juju/schema"

	"github.com/juju/keystone-agent/charm"
	"github.com/juju/keystone-agent/core/relation"
)

// The contexts keystone renders from.
const (
	SharedDB        = "shared-db"
	IdentityService = "identity-service"
	Cluster         = "cluster"
	HA              = "ha"
	HTTPS           = "https"
)

// KeystoneSchemas returns the context schemas of the keystone charm.
func KeystoneSchemas() []Schema {
	return []Schema{{
		Name:     SharedDB,
		Relation: "shared-db",
		Required: []string{"hostname", "password"},
		Optional: []string{"port", "allowed_units"},
		Config: func(cfg charm.Config) relation.Settings {
			return relation.Settings{
				"database": cfg.Database,
				"username": cfg.DatabaseUser,
			}
		},
	}, {
		Name:     IdentityService,
		Relation: "identity-service",
		Required: []string{"service", "region", "public_url", "admin_url", "internal_url"},
		Optional: []string{"requested_roles"},
	}, {
		Name:     Cluster,
		Relation: "cluster",
		Required: []string{"private-address"},
		Optional: []string{"ssh_pub_key", "service_credentials"},
	}, {
		Name:     HA,
		Relation: "ha",
		Required: []string{"clustered", "vip"},
		Config: func(cfg charm.Config) relation.Settings {
			return relation.Settings{"vip": cfg.VIP}
		},
	}, {
		Name:     HTTPS,
		Required: []string{"ssl_cert", "ssl_key"},
		Config: func(cfg charm.Config) relation.Settings {
			return relation.Settings{
				"ssl_cert": cfg.SSLCert,
				"ssl_key":  cfg.SSLKey,
			}
		},
	}}
}

// SharedDBContext is the typed form of a complete shared-db context.
type SharedDBContext struct {
	Host         string
	Port         int
	Database     string
	User         string
	Password     string
	AllowedUnits []string
}

// Allows reports whether the database has granted access to unit. A
// database that publishes no allowed_units list grants everyone.
func (c SharedDBContext) Allows(unit string) bool {
	if len(c.AllowedUnits) == 0 {
		return true
	}
	for _, u := range c.AllowedUnits {
		if u == unit {
			return true
		}
	}
	return false
}

var sharedDBChecker = schema.FieldMap(
	schema.Fields{
		"hostname":      schema.String(),
		"password":      schema.String(),
		"port":          schema.ForceInt(),
		"allowed_units": schema.String(),
		"database":      schema.String(),
		"username":      schema.String(),
	},
	schema.Defaults{
		"port":          3306,
		"allowed_units": "",
		"database":      "keystone",
		"username":      "keystone",
	},
)

// ParseSharedDB returns the typed shared-db data. The context must be
// complete.
func ParseSharedDB(c Context) (SharedDBContext, error) {
	if !c.Complete {
		return SharedDBContext{}, errors.NotValidf("incomplete %s context", c.Name)
	}
	v, err := sharedDBChecker.Coerce(stringMap(c.Values), nil)
	if err != nil {
		return SharedDBContext{}, errors.Annotatef(err, "%s context", c.Name)
	}
	m := v.(map[string]interface{})
	return SharedDBContext{
		Host:         m["hostname"].(string),
		Port:         m["port"].(int),
		Database:     m["database"].(string),
		User:         m["username"].(string),
		Password:     m["password"].(string),
		AllowedUnits: strings.Fields(m["allowed_units"].(string)),
	}, nil
}

// Peer is one member of the keystone peer relation.
type Peer struct {
	Unit    string
	Address string
}

// Peers returns the peers that have published an address, in unit order.
func Peers(c Context) []Peer {
	var peers []Peer
	for _, u := range c.Units {
		if addr, ok := u.Settings.Get("private-address"); ok {
			peers = append(peers, Peer{Unit: u.Unit, Address: addr})
		}
	}
	return peers
}

// Clustered reports whether the hacluster subordinate has formed the
// cluster: the ha context needs a non-empty, non-"None" clustered flag.
func Clustered(all map[string]Context) bool {
	ha, ok := all[HA]
	if !ok {
		return false
	}
	return ha.Complete
}

func stringMap(s relation.Settings) map[string]interface{} {
	m := make(map[string]interface{}, len(s))
	for k, v := range s {
		m[k] = v
	}
	return m
}
