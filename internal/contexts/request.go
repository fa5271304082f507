// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package contexts

import (
	"sort"
	"strings"

	"github.com/juju/keystone-agent/core/relation"
)

// EndpointRequest is one service endpoint a downstream unit asks to have
// registered.
type EndpointRequest struct {
	Service     string
	Region      string
	PublicURL   string
	AdminURL    string
	InternalURL string
}

// Request is everything one downstream unit asked for on an
// identity-service relation.
type Request struct {
	Endpoints      []EndpointRequest
	RequestedRoles []string
}

var endpointKeys = []string{"service", "region", "public_url", "admin_url", "internal_url"}

// ParseRequest reads a downstream unit's settings. Units either publish one
// endpoint with unprefixed keys (service, region, public_url, ...), or
// several with a per-endpoint prefix (nova_service, nova_region, ...). The
// returned missing list names every absent key, prefixed as published;
// the request is only actionable when it is empty and at least one
// endpoint was found.
func ParseRequest(settings relation.Settings) (Request, []string) {
	var req Request
	var missing []string
	if roles, ok := settings.Get("requested_roles"); ok {
		for _, role := range strings.Split(roles, ",") {
			if role = strings.TrimSpace(role); role != "" {
				req.RequestedRoles = append(req.RequestedRoles, role)
			}
		}
	}

	var prefixes []string
	if _, ok := settings.Get("service"); ok {
		prefixes = []string{""}
	} else {
		for _, k := range settings.Keys() {
			if strings.HasSuffix(k, "_service") {
				prefixes = append(prefixes, strings.TrimSuffix(k, "service"))
			}
		}
		sort.Strings(prefixes)
	}
	if len(prefixes) == 0 {
		return req, []string{"service"}
	}
	for _, prefix := range prefixes {
		values := make(map[string]string, len(endpointKeys))
		for _, k := range endpointKeys {
			v, ok := settings.Get(prefix + k)
			if !ok {
				missing = append(missing, prefix+k)
				continue
			}
			values[k] = v
		}
		req.Endpoints = append(req.Endpoints, EndpointRequest{
			Service:     values["service"],
			Region:      values["region"],
			PublicURL:   values["public_url"],
			AdminURL:    values["admin_url"],
			InternalURL: values["internal_url"],
		})
	}
	return req, missing
}
