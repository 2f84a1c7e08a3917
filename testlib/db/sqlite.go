// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package db provides test-only database handles for the engine's
// package-level unit and integration tests.
package db

import (
	"testing"

	placementdb "github.com/sapcc/placement-engine/internal/db"
)

// NewSqliteTestDB opens a throwaway sqlite database under the test's
// temp directory, for the fast unit test path.
func NewSqliteTestDB(t *testing.T) *placementdb.DB {
	t.Helper()
	d, err := placementdb.NewSqliteDB(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("testlib/db: could not open sqlite test db: %s", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}
