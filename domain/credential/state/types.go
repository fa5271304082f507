// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

// adminCredential represents a row of the admin_credential table.
type adminCredential struct {
	Name  string `db:"name"`
	Value string `db:"value"`
}

// serviceCredential represents a row of the service_credential table.
type serviceCredential struct {
	Username string `db:"username"`
	Password string `db:"password"`
}

// The admin_credential names.
const (
	adminTokenName    = "admin-token"
	adminPasswordName = "admin-password"
)
