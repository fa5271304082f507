// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package render

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/juju/errors"
)

type haproxyBackend struct {
	Name    string
	Address string
	Port    int
}

type haproxyListener struct {
	Name     string
	Port     int
	Backends []haproxyBackend
}

var haproxyTemplate = template.Must(template.New("haproxy").Parse(`global
    log 127.0.0.1 local0
    log 127.0.0.1 local1 notice
    maxconn 20000
    user haproxy
    group haproxy
    spread-checks 0

defaults
    log global
    mode tcp
    option tcplog
    option dontlognull
    retries 3
    timeout queue 1000
    timeout connect 1000
    timeout client 30000
    timeout server 30000

listen stats :8888
    mode http
    stats enable
    stats hide-version
    stats realm Haproxy\ Statistics
    stats uri /
    stats auth admin:password
{{range .}}
listen {{.Name}} 0.0.0.0:{{.Port}}
    balance roundrobin
    option tcplog
{{- range .Backends}}
    server {{.Name}} {{.Address}}:{{.Port}} check
{{- end}}
{{end}}`))

func backendName(unit string) string {
	return strings.Replace(unit, "/", "-", -1)
}

// renderHAProxyConf leaves out the keystone listeners on a lone unit,
// where keystone holds the public ports itself.
func renderHAProxyConf(d Data) ([]byte, error) {
	if !d.Proxied() {
		return executeHAProxy(nil)
	}
	var listeners []haproxyListener
	for _, l := range []struct {
		name string
		port int
	}{
		{"keystone_admin", d.Config.AdminPort},
		{"keystone_public", d.Config.ServicePort},
	} {
		api := d.APIPort(l.port)
		backends := []haproxyBackend{{
			Name:    backendName(d.UnitName),
			Address: d.PrivateAddress,
			Port:    api,
		}}
		for _, p := range d.Peers() {
			backends = append(backends, haproxyBackend{
				Name:    backendName(p.Unit),
				Address: p.Address,
				Port:    api,
			})
		}
		listeners = append(listeners, haproxyListener{
			Name:     l.name,
			Port:     d.HAProxyPort(l.port),
			Backends: backends,
		})
	}
	return executeHAProxy(listeners)
}

func executeHAProxy(listeners []haproxyListener) ([]byte, error) {
	var buf bytes.Buffer
	if err := haproxyTemplate.Execute(&buf, listeners); err != nil {
		return nil, errors.Trace(err)
	}
	return buf.Bytes(), nil
}

func renderHAProxyDefault(d Data) ([]byte, error) {
	if !d.Proxied() {
		return []byte("ENABLED=0\n"), nil
	}
	return []byte("ENABLED=1\n"), nil
}
