// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package keystone

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/juju/errors"

	"github.com/juju/keystone-agent/charm"
	"github.com/juju/keystone-agent/core/relation"
	"github.com/juju/keystone-agent/hook"
	"github.com/juju/keystone-agent/internal/contexts"
)

// HASettings returns what the hacluster subordinate needs to manage the
// keystone VIP and haproxy.
func HASettings(ha charm.HAConfig) (relation.Settings, error) {
	values := map[string]interface{}{
		"resources": map[string]string{
			"res_ks_vip":     "ocf:heartbeat:IPaddr2",
			"res_ks_haproxy": "lsb:haproxy",
		},
		"resource_params": map[string]string{
			"res_ks_vip":     fmt.Sprintf(`params ip="%s" cidr_netmask="%d" nic="%s"`, ha.VIP, ha.VIPCidr, ha.VIPIface),
			"res_ks_haproxy": `op monitor interval="5s"`,
		},
		"init_services": map[string]string{
			"res_ks_haproxy": "haproxy",
		},
		"clones": map[string]string{
			"cl_ks_haproxy": "res_ks_haproxy",
		},
	}
	settings := relation.Settings{
		"corosync_bindiface": ha.BindIface,
		"corosync_mcastport": strconv.Itoa(ha.MulticastPort),
	}
	for key, value := range values {
		data, err := json.Marshal(value)
		if err != nil {
			return nil, errors.Trace(err)
		}
		settings[key] = string(data)
	}
	return settings, nil
}

func (c *Charm) haJoined(ctx context.Context, hctx *hook.Context) error {
	ha, err := hctx.Config.HAConfig()
	if errors.IsNotValid(err) {
		c.config.Logger.Infof("Insufficient config data to configure hacluster: %v", err)
		return nil
	} else if err != nil {
		return errors.Trace(err)
	}
	settings, err := HASettings(ha)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.config.Store.Set(ctx, hctx.Info.RelationId, settings))
}

func (c *Charm) haChanged(ctx context.Context, hctx *hook.Context) error {
	ha, err := c.config.Contexts.Context(ctx, hctx.Config, contexts.HA)
	if err != nil {
		return errors.Trace(err)
	}
	if _, ok := ha.Values.Get("clustered"); !ok {
		c.config.Logger.Infof("ha_changed: hacluster subordinate not fully clustered.")
		return nil
	}
	leader, err := c.isLeader(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if !leader {
		c.config.Logger.Infof("ha_changed: hacluster complete but we are not leader.")
		return nil
	}
	// Keystone moves behind haproxy once clustered, so it must serve the
	// clustered ports before the catalog is touched.
	if err := c.renderAll(ctx, hctx); err != nil {
		return errors.Trace(err)
	}
	if err := c.ensureAdmin(ctx, hctx); err != nil {
		return errors.Trace(err)
	}
	c.config.Logger.Infof("Cluster configured, notifying other services and updating keystone endpoint configuration")
	return errors.Trace(c.announceAll(ctx, hctx))
}
