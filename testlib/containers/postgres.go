// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package containers spins up ephemeral dependency containers for
// integration tests.
package containers

import (
	"database/sql"
	"fmt"
	"log"
	"testing"

	"github.com/ory/dockertest"
	"github.com/ory/dockertest/docker"
)

// PostgresContainer runs a disposable postgres instance for integration
// tests gated behind POSTGRES_CONTAINER=1.
type PostgresContainer struct {
	pool     *dockertest.Pool
	resource *dockertest.Resource
}

// GetPort returns the host-mapped port of the container's postgres.
func (c PostgresContainer) GetPort() string {
	return c.resource.GetPort("5432/tcp")
}

// Init starts the container and blocks until postgres accepts
// connections.
func (c *PostgresContainer) Init(t *testing.T) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("could not construct pool: %s", err)
	}
	c.pool = pool
	if err = pool.Client.Ping(); err != nil {
		t.Fatalf("could not connect to docker: %s", err)
	}
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "17",
		Env: []string{
			"POSTGRES_USER=postgres",
			"POSTGRES_PASSWORD=secret",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("could not start postgres container: %s", err)
	}
	c.resource = resource
	if err := c.resource.Expire(120); err != nil {
		t.Fatalf("could not set container expiration: %s", err)
	}
	dsn := fmt.Sprintf(
		"host=localhost port=%s user=postgres password=secret dbname=postgres sslmode=disable",
		resource.GetPort("5432/tcp"),
	)
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("could not open postgres connection: %s", err)
	}
	if err = pool.Retry(sqlDB.Ping); err != nil {
		t.Fatalf("postgres container did not become ready: %s", err)
	}
	if err := sqlDB.Close(); err != nil {
		log.Printf("containers: could not close readiness probe connection: %s", err)
	}
}

// Close tears down the container.
func (c *PostgresContainer) Close() {
	if err := c.pool.Purge(c.resource); err != nil {
		log.Printf("containers: could not purge postgres container: %s", err)
	}
}
