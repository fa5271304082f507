// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hookenv talks to the unit agent through the hook tools it puts on
// the PATH of every hook: relation-get, relation-set, config-get, is-leader
// and friends.
package hookenv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/juju/errors"
	"gopkg.in/yaml.v2"

	"github.com/juju/keystone-agent/core/relation"
)

// Commander runs a hook tool and returns its standard output.
type Commander interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// Tools implements relation.Store, and the other agent queries the charm
// needs, on top of the hook tools.
type Tools struct {
	cmd    Commander
	tmpDir string
}

var _ relation.Store = (*Tools)(nil)

// NewTools returns Tools that run hook tools through cmd. Temporary files
// handed to relation-set are created in tmpDir, or the system default if
// it is empty.
func NewTools(cmd Commander, tmpDir string) *Tools {
	return &Tools{cmd: cmd, tmpDir: tmpDir}
}

// RelationIds is part of relation.Store.
func (t *Tools) RelationIds(ctx context.Context, name string) ([]string, error) {
	var ids []string
	if err := t.runYAML(ctx, &ids, "relation-ids", "--format=yaml", name); err != nil {
		return nil, errors.Annotatef(err, "listing %q relations", name)
	}
	relation.SortIds(ids)
	return ids, nil
}

// RelatedUnits is part of relation.Store.
func (t *Tools) RelatedUnits(ctx context.Context, relationId string) ([]string, error) {
	var units []string
	if err := t.runYAML(ctx, &units, "relation-list", "--format=yaml", "-r", relationId); err != nil {
		return nil, errors.Annotatef(err, "listing units of %q", relationId)
	}
	relation.SortUnits(units)
	return units, nil
}

// Get is part of relation.Store.
func (t *Tools) Get(ctx context.Context, relationId, unit string) (relation.Settings, error) {
	var raw map[string]interface{}
	if err := t.runYAML(ctx, &raw, "relation-get", "--format=yaml", "-r", relationId, "-", unit); err != nil {
		return nil, errors.Annotatef(err, "reading %q settings of %q", relationId, unit)
	}
	settings := make(relation.Settings, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		settings[k] = fmt.Sprint(v)
	}
	return settings, nil
}

// Set is part of relation.Store. The settings are passed to relation-set
// in a file so that values containing newlines or quotes survive intact.
func (t *Tools) Set(ctx context.Context, relationId string, settings relation.Settings) error {
	data, err := yaml.Marshal(map[string]string(settings))
	if err != nil {
		return errors.Trace(err)
	}
	f, err := os.CreateTemp(t.tmpDir, "relation-set-*.yaml")
	if err != nil {
		return errors.Trace(err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return errors.Trace(err)
	}
	if err := f.Close(); err != nil {
		return errors.Trace(err)
	}
	if _, err := t.cmd.Run(ctx, "relation-set", "-r", relationId, "--file", f.Name()); err != nil {
		return errors.Annotatef(err, "setting %s on %q", strings.Join(sortedKeys(settings), ","), relationId)
	}
	return nil
}

// ConfigGet returns every charm option with its current value.
func (t *Tools) ConfigGet(ctx context.Context) (map[string]interface{}, error) {
	raw := make(map[string]interface{})
	if err := t.runYAML(ctx, &raw, "config-get", "--all", "--format=yaml"); err != nil {
		return nil, errors.Annotate(err, "reading charm config")
	}
	return raw, nil
}

// UnitGet returns a fact about the local unit, eg "private-address".
func (t *Tools) UnitGet(ctx context.Context, attribute string) (string, error) {
	out, err := t.cmd.Run(ctx, "unit-get", attribute)
	if err != nil {
		return "", errors.Annotatef(err, "reading unit %s", attribute)
	}
	return strings.TrimSpace(string(out)), nil
}

// IsLeader reports whether the unit agent considers this unit the
// application leader.
func (t *Tools) IsLeader(ctx context.Context) (bool, error) {
	var leader bool
	if err := t.runYAML(ctx, &leader, "is-leader", "--format=yaml"); err != nil {
		return false, errors.Annotate(err, "leadership status unknown")
	}
	return leader, nil
}

// JujuLog writes a message to the unit log at the given level.
func (t *Tools) JujuLog(ctx context.Context, level, message string) error {
	_, err := t.cmd.Run(ctx, "juju-log", "-l", level, message)
	return errors.Trace(err)
}

// PreInstall runs any exec.d/*/charm-pre-install scripts shipped with the
// charm, in lexical order.
func (t *Tools) PreInstall(ctx context.Context, charmDir string) error {
	matches, err := filepath.Glob(filepath.Join(charmDir, "exec.d", "*", "charm-pre-install"))
	if err != nil {
		return errors.Trace(err)
	}
	sort.Strings(matches)
	for _, script := range matches {
		info, err := os.Stat(script)
		if err != nil {
			return errors.Trace(err)
		}
		if info.Mode()&0111 == 0 {
			continue
		}
		if _, err := t.cmd.Run(ctx, script); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (t *Tools) runYAML(ctx context.Context, out interface{}, args ...string) error {
	data, err := t.cmd.Run(ctx, args...)
	if err != nil {
		return errors.Trace(err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return errors.Annotatef(err, "parsing %s output", args[0])
	}
	return nil
}

func sortedKeys(settings relation.Settings) []string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
