// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package keystone

import (
	"context"

	"github.com/juju/errors"

	"github.com/juju/keystone-agent/core/relation"
	"github.com/juju/keystone-agent/domain/credential"
	"github.com/juju/keystone-agent/hook"
	"github.com/juju/keystone-agent/internal/contexts"
)

const (
	sshPubKeyKey          = "ssh_pub_key"
	serviceCredentialsKey = "service_credentials"
)

func (c *Charm) clusterJoined(ctx context.Context, hctx *hook.Context) error {
	return errors.Trace(c.authorizePeers(ctx, hctx))
}

func (c *Charm) clusterChanged(ctx context.Context, hctx *hook.Context) error {
	if err := c.authorizePeers(ctx, hctx); err != nil {
		return errors.Trace(err)
	}
	if err := c.synchronizeCredentials(ctx, hctx); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.renderAll(ctx, hctx))
}

// authorizePeers publishes the local account's key on the peer relations
// and trusts every key the peers published.
func (c *Charm) authorizePeers(ctx context.Context, hctx *hook.Context) error {
	account := c.config.Account
	if err := account.Ensure(ctx); err != nil {
		return errors.Annotate(err, "ensuring peer account")
	}
	key, err := account.PublicKey(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if err := c.publishPeers(ctx, hctx, sshPubKeyKey, key); err != nil {
		return errors.Trace(err)
	}

	peers, err := c.config.Contexts.Context(ctx, hctx.Config, contexts.Cluster)
	if err != nil {
		return errors.Trace(err)
	}
	var keys []string
	for _, u := range peers.Units {
		if key, ok := u.Settings.Get(sshPubKeyKey); ok {
			keys = append(keys, key)
		}
	}
	_, err = account.AuthorizePeers(ctx, keys)
	return errors.Trace(err)
}

// publishPeers sets key to value on every peer relation where the local
// unit does not already publish it.
func (c *Charm) publishPeers(ctx context.Context, hctx *hook.Context, key, value string) error {
	ids, err := c.config.Store.RelationIds(ctx, clusterRelation)
	if err != nil {
		return errors.Trace(err)
	}
	for _, id := range ids {
		local, err := c.config.Store.Get(ctx, id, hctx.UnitName)
		if err != nil && !errors.IsNotFound(err) {
			return errors.Trace(err)
		}
		if current, _ := local.Get(key); current == value {
			continue
		}
		if err := c.config.Store.Set(ctx, id, relation.Settings{key: value}); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// synchronizeCredentials makes every unit agree on the generated
// credentials. The leader publishes its cache to the peers; everyone else
// adopts what the peers published.
func (c *Charm) synchronizeCredentials(ctx context.Context, hctx *hook.Context) error {
	leader, err := c.isLeader(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if leader {
		return errors.Trace(c.publishCredentials(ctx, hctx))
	}
	return errors.Trace(c.adoptCredentials(ctx, hctx))
}

func (c *Charm) publishCredentials(ctx context.Context, hctx *hook.Context) error {
	// The leader decides the admin token for everyone.
	if _, err := c.adminToken(ctx, hctx.Config); err != nil {
		return errors.Trace(err)
	}
	creds, err := c.config.Credentials.Load(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	data, err := creds.Marshal()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.publishPeers(ctx, hctx, serviceCredentialsKey, string(data)))
}

func (c *Charm) adoptCredentials(ctx context.Context, hctx *hook.Context) error {
	peers, err := c.config.Contexts.Context(ctx, hctx.Config, contexts.Cluster)
	if err != nil {
		return errors.Trace(err)
	}
	creds, err := c.config.Credentials.Load(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	for _, u := range peers.Units {
		published, ok := u.Settings.Get(serviceCredentialsKey)
		if !ok {
			continue
		}
		theirs, err := credential.Parse([]byte(published))
		if err != nil {
			c.config.Logger.Warningf("ignoring credentials published by %s: %v", u.Unit, err)
			continue
		}
		creds = creds.Merge(theirs)
	}
	changed, err := c.config.Credentials.Save(ctx, creds)
	if err != nil {
		return errors.Trace(err)
	}
	if changed {
		c.config.Logger.Infof("service credentials synchronized from peers")
	}
	return nil
}
