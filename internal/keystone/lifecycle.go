// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package keystone

import (
	"context"
	"os"

	"github.com/juju/errors"

	"github.com/juju/keystone-agent/hook"
	"github.com/juju/keystone-agent/internal/contexts"
	"github.com/juju/keystone-agent/internal/render"
)

const httpsSite = "openstack_https_frontend"

// requiredPackages are installed on every unit, apache2 included whether
// or not https is configured.
var requiredPackages = []string{
	"keystone", "python-mysqldb", "pwgen", "haproxy", "python-jinja2", "unison", "uuid", "apache2",
}

func (c *Charm) install(ctx context.Context, hctx *hook.Context) error {
	if err := c.config.PreInstall(ctx); err != nil {
		return errors.Annotate(err, "running pre-install hooks")
	}
	pkgs := c.config.Packages
	if err := pkgs.ConfigureSource(ctx, hctx.Config.OpenstackOrigin); err != nil {
		return errors.Trace(err)
	}
	if err := pkgs.Update(ctx); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(pkgs.Install(ctx, requiredPackages...))
}

func (c *Charm) configChanged(ctx context.Context, hctx *hook.Context) error {
	c.upgraded = false
	if err := c.config.Account.Ensure(ctx); err != nil {
		return errors.Annotate(err, "ensuring peer account")
	}
	if err := c.shareStateDir(ctx); err != nil {
		return errors.Trace(err)
	}
	if err := c.upgradeIfAvailable(ctx, hctx); err != nil {
		return errors.Trace(err)
	}
	if err := c.saveScriptRC(ctx, hctx); err != nil {
		return errors.Trace(err)
	}
	if err := c.configureHTTPS(ctx, hctx); err != nil {
		return errors.Trace(err)
	}
	leader, err := c.isLeader(ctx)
	if err != nil || !leader {
		return errors.Trace(err)
	}
	if err := c.migrate(ctx); err != nil {
		return errors.Trace(err)
	}
	if err := c.ensureAdmin(ctx, hctx); err != nil {
		return errors.Trace(err)
	}
	c.config.Logger.Infof("Firing identity_changed hook for all related services.")
	return errors.Trace(c.announceAll(ctx, hctx))
}

func (c *Charm) upgradeCharm(ctx context.Context, hctx *hook.Context) error {
	c.upgraded = false
	if err := c.upgradeIfAvailable(ctx, hctx); err != nil {
		return errors.Trace(err)
	}
	if err := c.saveScriptRC(ctx, hctx); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.configureHTTPS(ctx, hctx))
}

// shareStateDir lets the peer account write keystone's state.
func (c *Charm) shareStateDir(ctx context.Context) error {
	_, err := c.config.Commander.Run(ctx, "chmod", "-R", "g+wrx", c.config.StateDir)
	return errors.Trace(err)
}

// upgradeIfAvailable switches to the configured origin and upgrades
// keystone when that offers a newer version.
func (c *Charm) upgradeIfAvailable(ctx context.Context, hctx *hook.Context) error {
	pkgs := c.config.Packages
	if err := pkgs.ConfigureSource(ctx, hctx.Config.OpenstackOrigin); err != nil {
		return errors.Trace(err)
	}
	if err := pkgs.Update(ctx); err != nil {
		return errors.Trace(err)
	}
	available, err := pkgs.UpgradeAvailable(ctx, "keystone")
	if err != nil || !available {
		return errors.Trace(err)
	}
	c.config.Logger.Infof("upgrading keystone from %q", hctx.Config.OpenstackOrigin)
	if err := pkgs.Upgrade(ctx, requiredPackages...); err != nil {
		return errors.Trace(err)
	}
	c.upgraded = true
	if err := c.renderAll(ctx, hctx); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.shareStateDir(ctx))
}

func (c *Charm) saveScriptRC(ctx context.Context, hctx *hook.Context) error {
	r, err := c.renderer(hctx)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = r.Render(ctx, render.ScriptRC)
	return errors.Trace(err)
}

// configureHTTPS renders everything, since the ports of the whole request
// pipeline move with https, and toggles the apache frontend. A frontend
// that was never enabled is left alone.
func (c *Charm) configureHTTPS(ctx context.Context, hctx *hook.Context) error {
	all, err := c.config.Contexts.Contexts(ctx, hctx.Config)
	if err != nil {
		return errors.Trace(err)
	}
	if err := c.renderAll(ctx, hctx); err != nil {
		return errors.Trace(err)
	}
	if all[contexts.HTTPS].Complete {
		_, err = c.config.Commander.Run(ctx, "a2ensite", httpsSite)
		return errors.Trace(err)
	}
	if _, err := os.Lstat(c.config.Paths.ApacheEnabledSite); os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return errors.Trace(err)
	}
	_, err = c.config.Commander.Run(ctx, "a2dissite", httpsSite)
	return errors.Trace(err)
}
