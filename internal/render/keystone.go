// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package render

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/juju/errors"
	"gopkg.in/ini.v1"

	"github.com/juju/keystone-agent/internal/contexts"
)

// The names of the keystone artifacts.
const (
	KeystoneConf   = "keystone.conf"
	LoggingConf    = "logging.conf"
	HAProxyConf    = "haproxy.cfg"
	HAProxyDefault = "haproxy-default"
	ApacheSite     = "https-frontend"
	SSLCert        = "ssl-cert"
	SSLKey         = "ssl-key"
	ScriptRC       = "scriptrc"
)

// KeystoneArtifacts returns every artifact of a keystone unit.
func KeystoneArtifacts(paths Paths) []Artifact {
	return []Artifact{{
		Name:   KeystoneConf,
		Path:   paths.KeystoneConf,
		Perm:   0640,
		Render: renderKeystoneConf,
	}, {
		Name:   LoggingConf,
		Path:   paths.LoggingConf,
		Render: renderLoggingConf,
	}, {
		Name:   HAProxyConf,
		Path:   paths.HAProxyConf,
		Render: renderHAProxyConf,
	}, {
		Name:   HAProxyDefault,
		Path:   paths.HAProxyDefault,
		Render: renderHAProxyDefault,
	}, {
		Name:    ApacheSite,
		Path:    paths.ApacheSite,
		Enabled: Data.HTTPS,
		Render:  renderApacheSite,
	}, {
		Name:    SSLCert,
		Path:    paths.SSLCert(),
		Enabled: Data.HTTPS,
		Render:  renderCert,
	}, {
		Name:    SSLKey,
		Path:    paths.SSLKey(),
		Perm:    0600,
		Enabled: Data.HTTPS,
		Render:  renderKey,
	}, {
		Name:   ScriptRC,
		Path:   paths.ScriptRC,
		Perm:   0755,
		Render: renderScriptRC,
	}}
}

// Connection returns the SQL connection keystone uses. Without a usable
// shared-db context keystone falls back to a local sqlite database.
func (d Data) Connection() string {
	db, err := contexts.ParseSharedDB(d.Contexts[contexts.SharedDB])
	if err != nil || !db.Allows(d.UnitName) {
		return "sqlite:///" + d.Paths.SQLiteDB
	}
	return fmt.Sprintf("mysql://%s:%s@%s:%d/%s", db.User, db.Password, db.Host, db.Port, db.Database)
}

type iniFile struct {
	*ini.File
}

func (f iniFile) set(section string, kv ...string) {
	sec := f.Section(section)
	for i := 0; i+1 < len(kv); i += 2 {
		sec.Key(kv[i]).SetValue(kv[i+1])
	}
}

func (f iniFile) bytes() ([]byte, error) {
	var buf bytes.Buffer
	// keystone reads [DEFAULT] like any other section.
	if sec, err := f.GetSection(ini.DefaultSection); err == nil && len(sec.Keys()) > 0 {
		buf.WriteString("[" + ini.DefaultSection + "]\n")
	}
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, errors.Trace(err)
	}
	return buf.Bytes(), nil
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func renderKeystoneConf(d Data) ([]byte, error) {
	f := iniFile{ini.Empty()}
	f.set(ini.DefaultSection,
		"admin_token", d.AdminToken,
		"admin_port", strconv.Itoa(d.APIPort(d.Config.AdminPort)),
		"public_port", strconv.Itoa(d.APIPort(d.Config.ServicePort)),
		"use_syslog", "False",
		"log_config", d.Paths.LoggingConf,
		"debug", pyBool(d.Config.Debug),
		"verbose", pyBool(d.Config.Verbose),
	)
	f.set("sql",
		"connection", d.Connection(),
		"idle_timeout", "200",
	)
	f.set("identity", "driver", "keystone.identity.backends.sql.Identity")
	f.set("credential", "driver", "keystone.credential.backends.sql.Credential")
	f.set("catalog", "driver", "keystone.catalog.backends.sql.Catalog")
	f.set("token", "driver", "keystone.token.backends.sql.Token")
	f.set("policy", "driver", "keystone.policy.backends.sql.Policy")
	f.set("ec2", "driver", "keystone.contrib.ec2.backends.sql.Ec2")
	f.set("ssl", "enable", "False")
	f.set("signing", "token_format", "UUID")
	return f.bytes()
}

func renderLoggingConf(d Data) ([]byte, error) {
	f := iniFile{ini.Empty()}
	f.DeleteSection(ini.DefaultSection)
	f.set("loggers", "keys", "root")
	f.set("formatters", "keys", "normal,normal_with_name,debug")
	f.set("handlers", "keys", "production,file,devel")
	f.set("logger_root",
		"level", d.Config.LogLevel,
		"handlers", "file",
	)
	f.set("handler_production",
		"class", "handlers.SysLogHandler",
		"level", "ERROR",
		"formatter", "normal_with_name",
		"args", "(('localhost', handlers.SYSLOG_UDP_PORT), handlers.SysLogHandler.LOG_USER)",
	)
	f.set("handler_file",
		"class", "FileHandler",
		"level", "DEBUG",
		"formatter", "normal_with_name",
		"args", fmt.Sprintf("('%s', 'a')", d.Paths.LogFile),
	)
	f.set("handler_devel",
		"class", "StreamHandler",
		"level", "NOTSET",
		"formatter", "debug",
		"args", "(sys.stdout,)",
	)
	f.set("formatter_normal", "format", "%(asctime)s %(levelname)s %(message)s")
	f.set("formatter_normal_with_name", "format", "(%(name)s): %(asctime)s %(levelname)s %(message)s")
	f.set("formatter_debug", "format", "(%(name)s): %(asctime)s %(levelname)s %(module)s %(funcName)s %(message)s")
	return f.bytes()
}

func renderScriptRC(d Data) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("#!/bin/bash\n")
	fmt.Fprintf(&buf, "export OPENSTACK_PORT_ADMIN=%d\n", d.APIPort(d.Config.AdminPort))
	fmt.Fprintf(&buf, "export OPENSTACK_PORT_PUBLIC=%d\n", d.APIPort(d.Config.ServicePort))
	buf.WriteString("export OPENSTACK_SERVICE_KEYSTONE=keystone\n")
	return buf.Bytes(), nil
}
