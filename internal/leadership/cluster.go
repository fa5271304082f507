// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package leadership provides the leadership oracles used outside tests.
package leadership

import (
	"bufio"
	"bytes"
	"context"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/names/v5"

	"github.com/juju/keystone-agent/core/leadership"
	"github.com/juju/keystone-agent/core/relation"
	"github.com/juju/keystone-agent/internal/exec"
)

// Logger represents the logging methods called.
type Logger interface {
	Debugf(string, ...interface{})
}

// Commander runs an external command and returns its stdout.
type Commander interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// ClusterConfig holds the dependencies of a Cluster oracle.
type ClusterConfig struct {
	// Store is read for the ha and cluster relations.
	Store relation.Store

	// Commander runs crm to locate cluster resources.
	Commander Commander

	// UnitName is the local unit, eg keystone/0.
	UnitName string

	// Hostname returns the local host name as pacemaker knows it.
	Hostname func() (string, error)

	// HARelation and PeerRelation default to "ha" and "cluster".
	HARelation   string
	PeerRelation string

	Logger Logger
}

// Validate returns an error if the config cannot be used.
func (config ClusterConfig) Validate() error {
	if config.Store == nil {
		return errors.NotValidf("nil Store")
	}
	if config.Commander == nil {
		return errors.NotValidf("nil Commander")
	}
	if !names.IsValidUnit(config.UnitName) {
		return errors.NotValidf("unit name %q", config.UnitName)
	}
	if config.Hostname == nil {
		return errors.NotValidf("nil Hostname")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Cluster decides leadership the way a keystone deployment without juju
// leadership does. Once the hacluster subordinate reports the cluster as
// formed, the leader is whichever unit pacemaker currently runs the
// resource on. Before that, the peer with the lowest unit number leads.
type Cluster struct {
	config ClusterConfig
}

var _ leadership.Oracle = (*Cluster)(nil)

// NewCluster returns a Cluster oracle.
func NewCluster(config ClusterConfig) (*Cluster, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.HARelation == "" {
		config.HARelation = "ha"
	}
	if config.PeerRelation == "" {
		config.PeerRelation = "cluster"
	}
	return &Cluster{config: config}, nil
}

// IsEligibleLeader is part of leadership.Oracle.
func (c *Cluster) IsEligibleLeader(ctx context.Context, resource string) (bool, error) {
	clustered, err := c.clustered(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	if clustered {
		return c.runsResource(ctx, resource)
	}
	return c.lowestPeer(ctx)
}

func (c *Cluster) clustered(ctx context.Context) (bool, error) {
	ids, err := c.config.Store.RelationIds(ctx, c.config.HARelation)
	if err != nil {
		return false, errors.Trace(err)
	}
	for _, id := range ids {
		units, err := c.config.Store.RelatedUnits(ctx, id)
		if err != nil {
			return false, errors.Trace(err)
		}
		for _, unit := range units {
			settings, err := c.config.Store.Get(ctx, id, unit)
			if errors.IsNotFound(err) {
				continue
			} else if err != nil {
				return false, errors.Trace(err)
			}
			if _, ok := settings.Get("clustered"); ok {
				return true, nil
			}
		}
	}
	return false, nil
}

func (c *Cluster) runsResource(ctx context.Context, resource string) (bool, error) {
	hostname, err := c.config.Hostname()
	if err != nil {
		return false, errors.Annotate(err, "getting hostname")
	}
	if hostname == "" {
		return false, errors.NotValidf("empty hostname")
	}
	out, err := c.config.Commander.Run(ctx, "crm", "resource", "show", resource)
	if exec.IsCommandError(err) {
		c.config.Logger.Debugf("resource %s not running: %v", resource, err)
		return false, nil
	} else if err != nil {
		return false, errors.Trace(err)
	}
	return runningOn(out, hostname), nil
}

const runningMarker = "is running on:"

// runningOn reports whether any "is running on:" line of crm output
// names host as a whole word.
func runningOn(out []byte, host string) bool {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		i := strings.Index(line, runningMarker)
		if i < 0 {
			continue
		}
		for _, field := range strings.Fields(line[i+len(runningMarker):]) {
			if field == host {
				return true
			}
		}
	}
	return false
}

func (c *Cluster) lowestPeer(ctx context.Context) (bool, error) {
	local := names.NewUnitTag(c.config.UnitName).Number()
	ids, err := c.config.Store.RelationIds(ctx, c.config.PeerRelation)
	if err != nil {
		return false, errors.Trace(err)
	}
	for _, id := range ids {
		units, err := c.config.Store.RelatedUnits(ctx, id)
		if err != nil {
			return false, errors.Trace(err)
		}
		for _, unit := range units {
			if !names.IsValidUnit(unit) {
				return false, errors.NotValidf("peer unit name %q", unit)
			}
			if names.NewUnitTag(unit).Number() < local {
				c.config.Logger.Debugf("deferring leadership to %s", unit)
				return false, nil
			}
		}
	}
	return true, nil
}
