// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"context"
	"sync"

	"github.com/juju/testing"

	"github.com/juju/keystone-agent/core/leadership"
)

// Oracle is a deterministic leadership.Oracle. It answers from Answers in
// order, repeating the last answer once they run out, which covers fixed,
// no-leader and flapping scenarios.
type Oracle struct {
	testing.Stub

	mu      sync.Mutex
	answers []bool
	calls   int
}

var _ leadership.Oracle = (*Oracle)(nil)

// Fixed returns an Oracle that always gives the same answer.
func Fixed(leader bool) *Oracle {
	return &Oracle{answers: []bool{leader}}
}

// Sequence returns an Oracle that gives the answers in order.
func Sequence(answers ...bool) *Oracle {
	if len(answers) == 0 {
		answers = []bool{false}
	}
	return &Oracle{answers: answers}
}

// IsEligibleLeader is part of leadership.Oracle.
func (o *Oracle) IsEligibleLeader(ctx context.Context, resource string) (bool, error) {
	o.MethodCall(o, "IsEligibleLeader", resource)
	if err := o.NextErr(); err != nil {
		return false, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	i := o.calls
	if i >= len(o.answers) {
		i = len(o.answers) - 1
	}
	o.calls++
	return o.answers[i], nil
}

// Evaluations returns how many times leadership was asked for.
func (o *Oracle) Evaluations() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}
