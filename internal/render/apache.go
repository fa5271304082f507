// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package render

import (
	"bytes"
	"encoding/base64"
	"text/template"

	"github.com/juju/errors"
)

type apacheEndpoint struct {
	ExternalPort int
	InternalPort int
}

type apacheSite struct {
	Address   string
	CertFile  string
	KeyFile   string
	Endpoints []apacheEndpoint
}

var apacheTemplate = template.Must(template.New("apache").Parse(`{{range .Endpoints -}}
Listen {{.ExternalPort}}
NameVirtualHost *:{{.ExternalPort}}
<VirtualHost *:{{.ExternalPort}}>
    ServerName {{$.Address}}
    SSLEngine on
    SSLCertificateFile {{$.CertFile}}
    SSLCertificateKeyFile {{$.KeyFile}}
    ProxyPass / http://localhost:{{.InternalPort}}/
    ProxyPassReverse / http://localhost:{{.InternalPort}}/
    ProxyPreserveHost on
</VirtualHost>
{{end -}}
<Proxy *>
    Order deny,allow
    Allow from all
</Proxy>
<Location />
    Order allow,deny
    Allow from all
</Location>
`))

func renderApacheSite(d Data) ([]byte, error) {
	site := apacheSite{
		Address:  d.PrivateAddress,
		CertFile: d.Paths.SSLCert(),
		KeyFile:  d.Paths.SSLKey(),
	}
	for _, port := range []int{d.Config.AdminPort, d.Config.ServicePort} {
		site.Endpoints = append(site.Endpoints, apacheEndpoint{
			ExternalPort: port,
			InternalPort: d.HAProxyPort(port),
		})
	}
	var buf bytes.Buffer
	if err := apacheTemplate.Execute(&buf, site); err != nil {
		return nil, errors.Trace(err)
	}
	return buf.Bytes(), nil
}

func renderCert(d Data) ([]byte, error) {
	return decodeOption("ssl_cert", d.Config.SSLCert)
}

func renderKey(d Data) ([]byte, error) {
	return decodeOption("ssl_key", d.Config.SSLKey)
}

// decodeOption decodes a base64 encoded charm option.
func decodeOption(name, value string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, errors.NotValidf("%s: %v", name, err)
	}
	return b, nil
}
