// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package keystone

import (
	"context"
	"strconv"

	"github.com/juju/errors"

	"github.com/juju/keystone-agent/core/relation"
	"github.com/juju/keystone-agent/domain/credential"
	"github.com/juju/keystone-agent/domain/identity/service"
	"github.com/juju/keystone-agent/hook"
	"github.com/juju/keystone-agent/internal/contexts"
)

func (c *Charm) identityJoined(ctx context.Context, hctx *hook.Context) error {
	c.config.Logger.Debugf("waiting for %s to request a service", hctx.Info.RemoteUnit)
	return nil
}

// identityChanged registers what the remote unit asked for and answers
// with its credentials and keystone's endpoint. Only the leader registers.
func (c *Charm) identityChanged(ctx context.Context, hctx *hook.Context) error {
	leader, err := c.isLeader(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if !leader {
		c.config.Logger.Infof("Deferring identity_changed() to service leader.")
		return nil
	}

	settings, err := c.config.Store.Get(ctx, hctx.Info.RelationId, hctx.Info.RemoteUnit)
	if errors.IsNotFound(err) {
		c.config.Logger.Infof("%s left %s, nothing to register", hctx.Info.RemoteUnit, hctx.Info.RelationId)
		return nil
	} else if err != nil {
		return errors.Trace(err)
	}
	req, missing := contexts.ParseRequest(settings)
	if len(missing) > 0 {
		c.config.Logger.Infof("identity-service request from %s incomplete, missing %v", hctx.Info.RemoteUnit, missing)
		return nil
	}

	all, err := c.config.Contexts.Contexts(ctx, hctx.Config)
	if err != nil {
		return errors.Trace(err)
	}
	catalog, err := c.catalog(ctx, hctx, all)
	if err != nil {
		return errors.Trace(err)
	}
	creds, err := c.config.Credentials.Load(ctx)
	if err != nil {
		return errors.Trace(err)
	}

	args := service.RegisterArgs{
		Role:           hctx.Config.AdminRole,
		RequestedRoles: req.RequestedRoles,
		AdminUser:      hctx.Config.AdminUser,
		KnownPassword: func(username string) (string, bool) {
			password, ok := creds.Services[username]
			return password, ok && password != ""
		},
	}
	for _, ep := range req.Endpoints {
		args.Endpoints = append(args.Endpoints, service.ServiceEndpoint{
			Service: ep.Service,
			Region:  ep.Region,
			URLs: service.EndpointURLs{
				Public:   ep.PublicURL,
				Admin:    ep.AdminURL,
				Internal: ep.InternalURL,
			},
		})
	}
	reg, err := catalog.RegisterService(ctx, args)
	if errors.IsNotValid(err) {
		c.config.Logger.Warningf("not registering request from %s: %v", hctx.Info.RemoteUnit, err)
		return nil
	} else if err != nil {
		return errors.Annotatef(err, "registering request from %s", hctx.Info.RemoteUnit)
	}
	if creds.Services[reg.Username] != reg.Password {
		err := c.updateCredentials(ctx, func(creds *credential.Credentials) {
			if creds.Services == nil {
				creds.Services = make(map[string]string)
			}
			creds.Services[reg.Username] = reg.Password
		})
		if err != nil {
			return errors.Trace(err)
		}
	}

	token, err := c.adminToken(ctx, hctx.Config)
	if err != nil {
		return errors.Trace(err)
	}
	endpoint := resolveEndpoint(hctx, all)
	urls := endpoint.URLs()
	if err := c.config.Store.Set(ctx, hctx.Info.RelationId, relation.Settings{
		"service_host":     endpoint.Host,
		"service_port":     strconv.Itoa(endpoint.ServicePort),
		"service_protocol": endpoint.Protocol,
		"auth_host":        endpoint.Host,
		"auth_port":        strconv.Itoa(endpoint.AdminPort),
		"auth_protocol":    endpoint.Protocol,
		"service_username": reg.Username,
		"service_password": reg.Password,
		"service_tenant":   reg.Tenant,
		"region":           hctx.Config.Region,
		"https_keystone":   pyBool(endpoint.Protocol == "https"),
		"admin_token":      token,
		"public_url":       urls.Public,
		"admin_url":        urls.Admin,
		"internal_url":     urls.Internal,
	}); err != nil {
		return errors.Trace(err)
	}
	c.config.Logger.Infof("registered %v for %s", reg.Registered, hctx.Info.RemoteUnit)
	return errors.Trace(c.publishCredentials(ctx, hctx))
}

// announceAll runs the registration for every unit on every
// identity-service relation, so that they learn about endpoint changes.
func (c *Charm) announceAll(ctx context.Context, hctx *hook.Context) error {
	ids, err := c.config.Store.RelationIds(ctx, identityServiceRelation)
	if err != nil {
		return errors.Trace(err)
	}
	for _, id := range ids {
		units, err := c.config.Store.RelatedUnits(ctx, id)
		if err != nil {
			return errors.Trace(err)
		}
		for _, unit := range units {
			if err := c.identityChanged(ctx, hctx.WithRelation(id, unit)); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
