// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package schema

// CredentialDDL is the schema of the local credential cache: the secrets
// this unit generated or adopted from its peers.
func CredentialDDL() *Schema {
	return New(
		adminCredentialSchema,
		serviceCredentialSchema,
	)
}

func adminCredentialSchema() Patch {
	return MakePatch(`
CREATE TABLE admin_credential (
    name  TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`)
}

func serviceCredentialSchema() Patch {
	return MakePatch(`
CREATE TABLE service_credential (
    username TEXT PRIMARY KEY,
    password TEXT NOT NULL
);
`)
}
