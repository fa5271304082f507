// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package keystone

import (
	"context"

	"github.com/juju/errors"

	"github.com/juju/keystone-agent/core/relation"
	"github.com/juju/keystone-agent/domain/identity/service"
	"github.com/juju/keystone-agent/hook"
	"github.com/juju/keystone-agent/internal/contexts"
	"github.com/juju/keystone-agent/internal/render"
)

func (c *Charm) sharedDBJoined(ctx context.Context, hctx *hook.Context) error {
	cfg := hctx.Config
	return errors.Trace(c.config.Store.Set(ctx, hctx.Info.RelationId, relation.Settings{
		"database": cfg.Database,
		"username": cfg.DatabaseUser,
		"hostname": hctx.PrivateAddress,
	}))
}

func (c *Charm) sharedDBChanged(ctx context.Context, hctx *hook.Context) error {
	db, err := c.config.Contexts.Context(ctx, hctx.Config, contexts.SharedDB)
	if err != nil {
		return errors.Trace(err)
	}
	if !db.Complete {
		c.config.Logger.Infof("shared-db relation incomplete. Peer not ready?")
		return nil
	}
	sharedDB, err := contexts.ParseSharedDB(db)
	if err != nil {
		return errors.Trace(err)
	}
	if !sharedDB.Allows(hctx.UnitName) {
		c.config.Logger.Infof("%s not yet granted access to the shared database", hctx.UnitName)
		return nil
	}

	r, err := c.renderer(hctx)
	if err != nil {
		return errors.Trace(err)
	}
	if _, err := r.Render(ctx, render.KeystoneConf); err != nil {
		return errors.Trace(err)
	}
	leader, err := c.isLeader(ctx)
	if err != nil || !leader {
		return errors.Trace(err)
	}
	if err := c.migrate(ctx); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.ensureAdmin(ctx, hctx))
}

// migrate brings the keystone database schema up to date.
func (c *Charm) migrate(ctx context.Context) error {
	c.config.Logger.Infof("migrating the keystone database")
	_, err := c.config.Commander.Run(ctx, "keystone-manage", "db_sync")
	return errors.Trace(err)
}

// ensureAdmin bootstraps the admin identity and keystone's own endpoint
// at the current endpoint location.
func (c *Charm) ensureAdmin(ctx context.Context, hctx *hook.Context) error {
	all, err := c.config.Contexts.Contexts(ctx, hctx.Config)
	if err != nil {
		return errors.Trace(err)
	}
	password, err := c.adminPassword(ctx, hctx.Config)
	if err != nil {
		return errors.Trace(err)
	}
	catalog, err := c.catalog(ctx, hctx, all)
	if err != nil {
		return errors.Trace(err)
	}
	endpoint := resolveEndpoint(hctx, all)
	changed, err := catalog.EnsureInitialAdmin(ctx, service.AdminArgs{
		Username: hctx.Config.AdminUser,
		Password: password,
		Role:     hctx.Config.AdminRole,
		Region:   hctx.Config.Region,
		Identity: endpoint.URLs(),
	})
	if err != nil {
		return errors.Annotate(err, "ensuring initial admin")
	}
	if changed {
		c.config.Logger.Infof("initial admin %q ensured at %s", hctx.Config.AdminUser, endpoint.Host)
	}
	return nil
}
