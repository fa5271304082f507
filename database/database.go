// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package database opens the local sqlite databases used by the agent and
// runs transactions against them.
package database

import (
	"context"
	"database/sql"
	"os"
	"sync"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"
	"github.com/mattn/go-sqlite3"
)

// DriverName is the database/sql driver used.
const DriverName = "sqlite3"

// Open opens, creating if necessary, the sqlite database at path. The
// directory must exist. A new file is readable by its owner only.
func Open(ctx context.Context, path string) (*sqlair.DB, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.Annotatef(err, "opening %s", path)
	}
	_ = f.Close()
	db, err := sql.Open(DriverName, "file:"+path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Annotatef(err, "opening %s", path)
	}
	// sqlite allows one writer; a single connection keeps
	// transactions from failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Annotatef(err, "opening %s", path)
	}
	return sqlair.NewDB(db), nil
}

// Opener opens a database on first use and hands out the same handle
// afterwards.
type Opener struct {
	path string

	mu sync.Mutex
	db *sqlair.DB
}

// NewOpener returns an Opener for the sqlite database at path. Nothing
// is touched on disk until DB is called.
func NewOpener(path string) *Opener {
	return &Opener{path: path}
}

// DB opens the database if it is not open yet.
func (o *Opener) DB(ctx context.Context) (*sqlair.DB, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.db != nil {
		return o.db, nil
	}
	db, err := Open(ctx, o.path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	o.db = db
	return db, nil
}

// Close closes the database if it was opened.
func (o *Opener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.db == nil {
		return nil
	}
	err := o.db.PlainDB().Close()
	o.db = nil
	return errors.Trace(err)
}

// Txn runs fn in a transaction, committing if fn returns nil and rolling
// back otherwise. There are no retry semantics.
func Txn(ctx context.Context, db *sqlair.DB, fn func(context.Context, *sqlair.TX) error) error {
	tx, err := db.Begin(ctx, nil)
	if err != nil {
		return errors.Annotate(err, "beginning transaction")
	}
	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Annotatef(err, "rollback failed: %v", rbErr)
		}
		return errors.Trace(err)
	}
	return errors.Annotate(tx.Commit(), "committing transaction")
}

// StdTxn runs fn in a plain database/sql transaction.
func StdTxn(ctx context.Context, db *sql.DB, fn func(context.Context, *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Annotate(err, "beginning transaction")
	}
	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Annotatef(err, "rollback failed: %v", rbErr)
		}
		return errors.Trace(err)
	}
	return errors.Annotate(tx.Commit(), "committing transaction")
}

// IsErrConstraintUnique reports whether err is a unique constraint
// violation.
func IsErrConstraintUnique(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(errors.Cause(err), &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
