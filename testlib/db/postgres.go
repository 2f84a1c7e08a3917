// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/sapcc/placement-engine/internal/conf"
	placementdb "github.com/sapcc/placement-engine/internal/db"
	"github.com/sapcc/placement-engine/internal/monitoring"
	"github.com/sapcc/placement-engine/testlib/containers"
)

// NewPostgresTestDB starts a disposable postgres container and returns a
// connection to it, for integration tests. Skips the test unless
// POSTGRES_CONTAINER=1 is set, since it requires a working docker
// daemon.
func NewPostgresTestDB(t *testing.T) *placementdb.DB {
	t.Helper()
	if os.Getenv("POSTGRES_CONTAINER") != "1" {
		t.Skip("set POSTGRES_CONTAINER=1 to run postgres-backed integration tests")
	}
	container := &containers.PostgresContainer{}
	container.Init(t)
	t.Cleanup(container.Close)

	registry := monitoring.NewRegistry(conf.MonitoringConfig{})
	monitor := placementdb.NewDBMonitor(registry)
	d, err := placementdb.NewPostgresDB(context.Background(), conf.DBConfig{
		Host: "localhost", Port: mustAtoi(t, container.GetPort()),
		User: "postgres", Password: "secret", Database: "postgres",
		Reconnect: conf.DBReconnectConfig{MaxRetries: 30},
	}, monitor)
	if err != nil {
		t.Fatalf("testlib/db: could not open postgres test db: %s", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	if err != nil {
		t.Fatalf("testlib/db: not a port number: %q", s)
	}
	return n
}
