// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"context"
	"path/filepath"

	"github.com/canonical/sqlair"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/keystone-agent/database"
)

// OpenDB opens an empty sqlite database under a temporary directory
// owned by c. The caller closes it.
func OpenDB(c *gc.C) (*sqlair.DB, string) {
	path := filepath.Join(c.MkDir(), "test.db")
	db, err := database.Open(context.Background(), path)
	c.Assert(err, jc.ErrorIsNil)
	return db, path
}
