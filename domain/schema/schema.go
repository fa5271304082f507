// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package schema holds the DDL of the agent's databases and applies it as
// an ordered list of patches.
package schema

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"

	"github.com/juju/errors"

	"github.com/juju/keystone-agent/database"
)

// Patch is a single schema change.
type Patch struct {
	stmt string
	hash string
}

// MakePatch returns a patch running stmt.
func MakePatch(stmt string) Patch {
	sum := sha256.Sum256([]byte(stmt))
	return Patch{stmt: stmt, hash: hex.EncodeToString(sum[:])}
}

// Schema is an ordered list of patches. Patch i is recorded as version
// i+1 once applied.
type Schema struct {
	patches []Patch
}

// New returns a schema of the given patches.
func New(patches ...func() Patch) *Schema {
	s := &Schema{}
	for _, fn := range patches {
		s.patches = append(s.patches, fn())
	}
	return s
}

// Len returns the number of patches.
func (s *Schema) Len() int {
	return len(s.patches)
}

// ChangeSet reports what Ensure did.
type ChangeSet struct {
	Current, Post int
}

const createSchemaTable = `
CREATE TABLE IF NOT EXISTS schema (
    version INTEGER PRIMARY KEY,
    hash    TEXT NOT NULL,
    updated DATETIME NOT NULL DEFAULT(STRFTIME('%Y-%m-%d %H:%M:%f', 'NOW', 'utc'))
);`

// Ensure applies every patch not yet recorded in the database, in one
// transaction. An already applied patch whose hash no longer matches is a
// NotValid error.
func (s *Schema) Ensure(ctx context.Context, db *sql.DB) (ChangeSet, error) {
	var change ChangeSet
	err := database.StdTxn(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, createSchemaTable); err != nil {
			return errors.Annotate(err, "creating schema table")
		}
		applied, err := s.applied(ctx, tx)
		if err != nil {
			return errors.Trace(err)
		}
		change.Current = len(applied)
		for i, patch := range s.patches {
			version := i + 1
			if hash, ok := applied[version]; ok {
				if hash != patch.hash {
					return errors.NotValidf("schema patch %d hash %q, expected %q", version, hash, patch.hash)
				}
				continue
			}
			if _, err := tx.ExecContext(ctx, patch.stmt); err != nil {
				return errors.Annotatef(err, "applying schema patch %d", version)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema (version, hash) VALUES (?, ?)`, version, patch.hash); err != nil {
				return errors.Annotatef(err, "recording schema patch %d", version)
			}
		}
		change.Post = len(s.patches)
		return nil
	})
	return change, errors.Trace(err)
}

func (s *Schema) applied(ctx context.Context, tx *sql.Tx) (map[int]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT version, hash FROM schema`)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer rows.Close()
	applied := make(map[int]string)
	for rows.Next() {
		var (
			version int
			hash    string
		)
		if err := rows.Scan(&version, &hash); err != nil {
			return nil, errors.Trace(err)
		}
		applied[version] = hash
	}
	return applied, errors.Trace(rows.Err())
}
