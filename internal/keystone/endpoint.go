// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package keystone

import (
	"fmt"

	"github.com/juju/keystone-agent/domain/identity/service"
	"github.com/juju/keystone-agent/hook"
	"github.com/juju/keystone-agent/internal/contexts"
)

// Endpoint is where keystone is reached. Clients always see the
// configured ports; the layers in front of keystone take them.
type Endpoint struct {
	Host        string
	Protocol    string
	ServicePort int
	AdminPort   int
}

// resolveEndpoint returns the VIP once clustered and the local address
// otherwise, over https when the frontend is configured.
func resolveEndpoint(hctx *hook.Context, all map[string]contexts.Context) Endpoint {
	e := Endpoint{
		Host:        hctx.PrivateAddress,
		Protocol:    "http",
		ServicePort: hctx.Config.ServicePort,
		AdminPort:   hctx.Config.AdminPort,
	}
	if contexts.Clustered(all) {
		e.Host = hctx.Config.VIP
	}
	if all[contexts.HTTPS].Complete {
		e.Protocol = "https"
	}
	return e
}

// URLs returns keystone's identity endpoint URLs.
func (e Endpoint) URLs() service.EndpointURLs {
	public := fmt.Sprintf("%s://%s:%d/v2.0", e.Protocol, e.Host, e.ServicePort)
	return service.EndpointURLs{
		Public:   public,
		Admin:    fmt.Sprintf("%s://%s:%d/v2.0", e.Protocol, e.Host, e.AdminPort),
		Internal: public,
	}
}
