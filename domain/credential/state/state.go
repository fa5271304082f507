// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package state persists the credential cache in a local sqlite database.
package state

import (
	"context"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	"github.com/juju/keystone-agent/database"
	"github.com/juju/keystone-agent/domain/credential"
	"github.com/juju/keystone-agent/domain/schema"
)

// Logger represents the logging methods called.
type Logger interface {
	Debugf(string, ...interface{})
}

// DBFactory returns the database, opening it on first use.
type DBFactory func(context.Context) (*sqlair.DB, error)

// State reads and writes the cached credentials.
type State struct {
	getDB  DBFactory
	logger Logger
}

// NewState returns a State over the database getDB returns. The database
// is not opened until a credential is read or written.
func NewState(getDB DBFactory, logger Logger) *State {
	return &State{getDB: getDB, logger: logger}
}

func (st *State) db(ctx context.Context) (*sqlair.DB, error) {
	db, err := st.getDB(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "opening credential cache")
	}
	change, err := schema.CredentialDDL().Ensure(ctx, db.PlainDB())
	if err != nil {
		return nil, errors.Annotate(err, "migrating credential cache")
	}
	if change.Current != change.Post {
		st.logger.Debugf("credential cache schema at version %d (was %d)", change.Post, change.Current)
	}
	return db, nil
}

var (
	selectAdminStmt   = sqlair.MustPrepare(`SELECT &adminCredential.* FROM admin_credential`, adminCredential{})
	selectServiceStmt = sqlair.MustPrepare(`SELECT &serviceCredential.* FROM service_credential`, serviceCredential{})
	deleteAdminStmt   = sqlair.MustPrepare(`DELETE FROM admin_credential`)
	deleteServiceStmt = sqlair.MustPrepare(`DELETE FROM service_credential`)
	insertAdminStmt   = sqlair.MustPrepare(`
INSERT INTO admin_credential (name, value)
VALUES ($adminCredential.name, $adminCredential.value)`, adminCredential{})
	insertServiceStmt = sqlair.MustPrepare(`
INSERT INTO service_credential (username, password)
VALUES ($serviceCredential.username, $serviceCredential.password)`, serviceCredential{})
)

// Load returns the cached credentials. An empty cache is not an error.
func (st *State) Load(ctx context.Context) (credential.Credentials, error) {
	db, err := st.db(ctx)
	if err != nil {
		return credential.Credentials{}, errors.Trace(err)
	}
	var creds credential.Credentials
	err = database.Txn(ctx, db, func(ctx context.Context, tx *sqlair.TX) error {
		var err error
		creds, err = load(ctx, tx)
		return errors.Trace(err)
	})
	return creds, errors.Annotate(err, "loading credentials")
}

// Save replaces the cached credentials with creds and reports whether
// anything changed.
func (st *State) Save(ctx context.Context, creds credential.Credentials) (bool, error) {
	db, err := st.db(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	var changed bool
	err = database.Txn(ctx, db, func(ctx context.Context, tx *sqlair.TX) error {
		existing, err := load(ctx, tx)
		if err != nil {
			return errors.Trace(err)
		}
		if existing.Equal(creds) {
			return nil
		}
		changed = true
		if err := tx.Query(ctx, deleteAdminStmt).Run(); err != nil {
			return errors.Trace(err)
		}
		if err := tx.Query(ctx, deleteServiceStmt).Run(); err != nil {
			return errors.Trace(err)
		}
		for name, value := range map[string]string{
			adminTokenName:    creds.AdminToken,
			adminPasswordName: creds.AdminPassword,
		} {
			if value == "" {
				continue
			}
			if err := tx.Query(ctx, insertAdminStmt, adminCredential{Name: name, Value: value}).Run(); err != nil {
				return errors.Annotatef(err, "saving %s", name)
			}
		}
		for username, password := range creds.Services {
			row := serviceCredential{Username: username, Password: password}
			if err := tx.Query(ctx, insertServiceStmt, row).Run(); err != nil {
				return errors.Annotatef(err, "saving password of %q", username)
			}
		}
		return nil
	})
	return changed, errors.Annotate(err, "saving credentials")
}

func load(ctx context.Context, tx *sqlair.TX) (credential.Credentials, error) {
	var admins []adminCredential
	err := tx.Query(ctx, selectAdminStmt).GetAll(&admins)
	if err != nil && !errors.Is(err, sqlair.ErrNoRows) {
		return credential.Credentials{}, errors.Trace(err)
	}
	var services []serviceCredential
	err = tx.Query(ctx, selectServiceStmt).GetAll(&services)
	if err != nil && !errors.Is(err, sqlair.ErrNoRows) {
		return credential.Credentials{}, errors.Trace(err)
	}

	var creds credential.Credentials
	for _, a := range admins {
		switch a.Name {
		case adminTokenName:
			creds.AdminToken = a.Value
		case adminPasswordName:
			creds.AdminPassword = a.Value
		}
	}
	for _, s := range services {
		if creds.Services == nil {
			creds.Services = make(map[string]string)
		}
		creds.Services[s.Username] = s.Password
	}
	return creds, nil
}
