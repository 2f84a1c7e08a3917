// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sapcc/placement-engine/internal/monitoring"
)

// Monitor tracks prometheus metrics for the database connection.
type Monitor struct {
	connectionAttempts prometheus.Counter
}

// NewDBMonitor registers the database connection metrics on the registry.
func NewDBMonitor(registry *monitoring.Registry) Monitor {
	connectionAttempts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "placement_db_connection_attempts_total",
		Help: "Total number of attempts to connect to the database.",
	})
	registry.MustRegister(connectionAttempts)
	return Monitor{connectionAttempts: connectionAttempts}
}
