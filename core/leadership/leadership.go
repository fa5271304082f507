// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package leadership defines how the agent decides whether the local unit
// may perform cluster-wide mutations.
package leadership

import "context"

// Oracle reports whether the local unit is currently the eligible leader
// for the named cluster resource. Implementations consult external
// membership state on every call; answers must never be cached across
// calls, since leadership can move between them.
type Oracle interface {
	IsEligibleLeader(ctx context.Context, resource string) (bool, error)
}

// Single is the Oracle for a deployment of one unit, which is always the
// leader.
type Single struct{}

// IsEligibleLeader is part of Oracle.
func (Single) IsEligibleLeader(context.Context, string) (bool, error) {
	return true, nil
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, resource string) (bool, error)

// IsEligibleLeader is part of Oracle.
func (f OracleFunc) IsEligibleLeader(ctx context.Context, resource string) (bool, error) {
	return f(ctx, resource)
}
