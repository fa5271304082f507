// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package render

import (
	"path/filepath"

	"github.com/juju/keystone-agent/charm"
	"github.com/juju/keystone-agent/internal/contexts"
)

// Paths holds the location of every file the renderer manages.
type Paths struct {
	KeystoneConf      string
	LoggingConf       string
	LogFile           string
	SQLiteDB          string
	HAProxyConf       string
	HAProxyDefault    string
	ApacheSite        string
	// ApacheEnabledSite is the link a2ensite makes to ApacheSite.
	ApacheEnabledSite string
	SSLDir            string
	ScriptRC          string
}

// DefaultPaths returns the paths used on a keystone unit.
func DefaultPaths(charmDir string) Paths {
	return Paths{
		KeystoneConf:      "/etc/keystone/keystone.conf",
		LoggingConf:       "/etc/keystone/logging.conf",
		LogFile:           "/var/log/keystone/keystone.log",
		SQLiteDB:          "/var/lib/keystone/keystone.db",
		HAProxyConf:       "/etc/haproxy/haproxy.cfg",
		HAProxyDefault:    "/etc/default/haproxy",
		ApacheSite:        "/etc/apache2/sites-available/openstack_https_frontend.conf",
		ApacheEnabledSite: "/etc/apache2/sites-enabled/openstack_https_frontend.conf",
		SSLDir:            "/etc/apache2/ssl/keystone",
		ScriptRC:          filepath.Join(charmDir, "scripts", "scriptrc"),
	}
}

// SSLCert returns the path of the frontend certificate.
func (p Paths) SSLCert() string {
	return filepath.Join(p.SSLDir, "cert")
}

// SSLKey returns the path of the frontend key.
func (p Paths) SSLKey() string {
	return filepath.Join(p.SSLDir, "key")
}

// Data is what artifacts render from. It is computed once per Render or
// RenderAll call.
type Data struct {
	Config         charm.Config
	Contexts       map[string]contexts.Context
	UnitName       string
	PrivateAddress string
	AdminToken     string
	Paths          Paths
}

// HTTPS reports whether the TLS frontend is configured.
func (d Data) HTTPS() bool {
	return d.Contexts[contexts.HTTPS].Complete
}

// Clustered reports whether the hacluster subordinate formed the cluster.
func (d Data) Clustered() bool {
	return contexts.Clustered(d.Contexts)
}

// Peers returns the other keystone units that published an address.
func (d Data) Peers() []contexts.Peer {
	return contexts.Peers(d.Contexts[contexts.Cluster])
}

// Proxied reports whether haproxy fronts keystone on this unit.
func (d Data) Proxied() bool {
	return len(d.Peers()) > 0 || d.Clustered()
}

// APIPort returns the port keystone itself listens on for a public port.
// Each proxy layer in front of it, haproxy when there are peers and apache
// when https is on, takes the port and pushes keystone 10 lower.
func (d Data) APIPort(public int) int {
	layers := 0
	if d.Proxied() {
		layers++
	}
	if d.HTTPS() {
		layers++
	}
	return public - layers*10
}

// HAProxyPort returns the port haproxy listens on for a public port.
func (d Data) HAProxyPort(public int) int {
	if d.HTTPS() {
		return public - 10
	}
	return public
}
