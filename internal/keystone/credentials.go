// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package keystone

import (
	"context"

	"github.com/juju/errors"

	"github.com/juju/keystone-agent/charm"
	"github.com/juju/keystone-agent/domain/credential"
)

// updateCredentials applies update to the cached credentials and saves
// them.
func (c *Charm) updateCredentials(ctx context.Context, update func(*credential.Credentials)) error {
	creds, err := c.config.Credentials.Load(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	update(&creds)
	_, err = c.config.Credentials.Save(ctx, creds)
	return errors.Trace(err)
}

// adminToken returns the configured admin token, or the one generated for
// this deployment.
func (c *Charm) adminToken(ctx context.Context, cfg charm.Config) (string, error) {
	if cfg.AdminTokenSet() {
		return cfg.AdminToken, nil
	}
	creds, err := c.config.Credentials.Load(ctx)
	if err != nil {
		return "", errors.Trace(err)
	}
	if creds.AdminToken != "" {
		return creds.AdminToken, nil
	}
	token, err := c.config.NewPassword()
	if err != nil {
		return "", errors.Annotate(err, "generating admin token")
	}
	c.config.Logger.Infof("generated admin token")
	err = c.updateCredentials(ctx, func(creds *credential.Credentials) { creds.AdminToken = token })
	return token, errors.Trace(err)
}

// adminPassword returns the configured admin password, or the one
// generated for this deployment.
func (c *Charm) adminPassword(ctx context.Context, cfg charm.Config) (string, error) {
	if cfg.AdminPasswordSet() {
		return cfg.AdminPassword, nil
	}
	creds, err := c.config.Credentials.Load(ctx)
	if err != nil {
		return "", errors.Trace(err)
	}
	if creds.AdminPassword != "" {
		return creds.AdminPassword, nil
	}
	password, err := c.config.NewPassword()
	if err != nil {
		return "", errors.Annotate(err, "generating admin password")
	}
	c.config.Logger.Infof("generated admin password for %q", cfg.AdminUser)
	err = c.updateCredentials(ctx, func(creds *credential.Credentials) { creds.AdminPassword = password })
	return password, errors.Trace(err)
}
