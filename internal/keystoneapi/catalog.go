// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package keystoneapi

import (
	"context"
	"net/http"
	"net/url"

	"github.com/juju/errors"

	"github.com/juju/keystone-agent/domain/identity"
)

// EnsureService creates the named service unless it exists, and returns
// it.
func (c *Client) EnsureService(ctx context.Context, svc identity.Service) (identity.Service, bool, error) {
	var list serviceList
	if err := c.request(http.MethodGet, "/OS-KSADM/services", nil, &list, http.StatusOK); err != nil {
		return identity.Service{}, false, errors.Annotate(err, "listing services")
	}
	for _, s := range list.Services {
		if s.Name == svc.Name {
			return fromService(s), false, nil
		}
	}
	req := serviceBody{Service: service{
		Name:        svc.Name,
		Type:        svc.Type,
		Description: svc.Description,
	}}
	var created serviceBody
	if err := c.request(http.MethodPost, "/OS-KSADM/services", req, &created, http.StatusOK, http.StatusCreated); err != nil {
		return identity.Service{}, false, errors.Annotatef(err, "creating service %q", svc.Name)
	}
	c.config.Logger.Infof("created service %q of type %q", svc.Name, svc.Type)
	return fromService(created.Service), true, nil
}

// EnsureEndpoint makes ep the service's only endpoint in its region. An
// endpoint with other URLs is deleted and recreated, since the v2.0 API
// cannot update one.
func (c *Client) EnsureEndpoint(ctx context.Context, ep identity.Endpoint) (identity.Endpoint, bool, error) {
	var list endpointList
	if err := c.request(http.MethodGet, "/endpoints", nil, &list, http.StatusOK); err != nil {
		return identity.Endpoint{}, false, errors.Annotate(err, "listing endpoints")
	}
	var found bool
	for _, e := range list.Endpoints {
		if e.ServiceID != ep.ServiceID || e.Region != ep.Region {
			continue
		}
		existing := fromEndpoint(e)
		if existing.SameURLs(ep) && !found {
			found = true
			ep = existing
			continue
		}
		c.config.Logger.Infof("replacing endpoint %s of service %s in %s", e.ID, e.ServiceID, e.Region)
		if err := c.request(http.MethodDelete, "/endpoints/"+url.PathEscape(e.ID), nil, nil, http.StatusOK, http.StatusNoContent); err != nil {
			return identity.Endpoint{}, false, errors.Annotatef(err, "deleting endpoint %s", e.ID)
		}
	}
	if found {
		return ep, false, nil
	}
	req := endpointBody{Endpoint: endpoint{
		Region:      ep.Region,
		ServiceID:   ep.ServiceID,
		PublicURL:   ep.PublicURL,
		AdminURL:    ep.AdminURL,
		InternalURL: ep.InternalURL,
	}}
	var created endpointBody
	if err := c.request(http.MethodPost, "/endpoints", req, &created, http.StatusOK, http.StatusCreated); err != nil {
		return identity.Endpoint{}, false, errors.Annotatef(err, "creating endpoint of service %s", ep.ServiceID)
	}
	return fromEndpoint(created.Endpoint), true, nil
}

func fromService(s service) identity.Service {
	return identity.Service{
		ID:          s.ID,
		Name:        s.Name,
		Type:        s.Type,
		Description: s.Description,
	}
}

func fromEndpoint(e endpoint) identity.Endpoint {
	return identity.Endpoint{
		ID:          e.ID,
		ServiceID:   e.ServiceID,
		Region:      e.Region,
		PublicURL:   e.PublicURL,
		AdminURL:    e.AdminURL,
		InternalURL: e.InternalURL,
	}
}
