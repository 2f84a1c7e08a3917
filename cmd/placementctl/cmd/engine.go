// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package cmd implements the placementctl command tree: thin cobra
// wrappers around the same internal/adapter.Engine the HTTP-adjacent
// library uses, for scripting and local testing against a running
// database.
package cmd

import (
	"context"

	"github.com/sapcc/placement-engine/internal/adapter"
	"github.com/sapcc/placement-engine/internal/allocations"
	"github.com/sapcc/placement-engine/internal/classes"
	"github.com/sapcc/placement-engine/internal/commit"
	"github.com/sapcc/placement-engine/internal/conf"
	"github.com/sapcc/placement-engine/internal/consumers"
	placementdb "github.com/sapcc/placement-engine/internal/db"
	"github.com/sapcc/placement-engine/internal/inventories"
	"github.com/sapcc/placement-engine/internal/matcher"
	"github.com/sapcc/placement-engine/internal/monitoring"
	"github.com/sapcc/placement-engine/internal/providers"
	"github.com/sapcc/placement-engine/internal/traits"
)

// connect builds an adapter.Engine against the configured database, for
// a single CLI invocation. Callers must call the returned close func.
func connect(ctx context.Context) (*adapter.Engine, func(), error) {
	config := conf.GetConfigOrDie()
	registry := monitoring.NewRegistry(config.MonitoringConfig)
	dbMonitor := placementdb.NewDBMonitor(registry)
	database, err := placementdb.NewPostgresDB(ctx, config.DBConfig, dbMonitor)
	if err != nil {
		return nil, nil, err
	}

	onWrap := func() {}
	classRegistry := classes.NewRegistry(database)
	traitRegistry := traits.NewRegistry(database)
	providerStore := providers.NewStore(database, onWrap)
	inventoryStore := inventories.NewStore(database, onWrap)
	consumerStore := consumers.NewStore(database, onWrap)
	allocationStore := allocations.NewStore(database)
	m := matcher.NewMatcher(
		providerStore, inventoryStore, allocationStore, classRegistry, traitRegistry,
		config.EngineConfig.DefaultCandidateLimit, config.EngineConfig.MaxCartesianProduct,
	)
	commitEngine := commit.NewEngine(database, onWrap)

	engine := adapter.NewEngine(
		classRegistry, traitRegistry, providerStore, inventoryStore,
		consumerStore, allocationStore, m, commitEngine,
		config.EngineConfig.RandomizeCandidatesDefault,
	)
	if err := engine.Init(ctx); err != nil {
		_ = database.Close()
		return nil, nil, err
	}
	return engine, func() { _ = database.Close() }, nil
}
