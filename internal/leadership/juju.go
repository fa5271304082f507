// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package leadership

import (
	"context"

	"github.com/juju/errors"

	"github.com/juju/keystone-agent/core/leadership"
)

// LeaderChecker reports the unit agent's leadership status.
type LeaderChecker interface {
	IsLeader(ctx context.Context) (bool, error)
}

// Juju defers to juju's own application leadership. The resource is
// ignored: juju elects one leader per application.
type Juju struct {
	Checker LeaderChecker
}

var _ leadership.Oracle = Juju{}

// IsEligibleLeader is part of leadership.Oracle.
func (j Juju) IsEligibleLeader(ctx context.Context, _ string) (bool, error) {
	leader, err := j.Checker.IsLeader(ctx)
	return leader, errors.Trace(err)
}
