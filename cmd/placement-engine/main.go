// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sapcc/go-api-declarations/bininfo"
	"github.com/sapcc/go-bits/httpext"
	"github.com/sapcc/go-bits/must"
	"go.uber.org/automaxprocs/maxprocs"

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
	"github.com/sapcc/placement-engine/internal/tracing"
	"github.com/sapcc/placement-engine/internal/traits"
)

func runMonitoringServer(ctx context.Context, registry *monitoring.Registry, config conf.MonitoringConfig) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	slog.Info("metrics listening", "port", config.Port)
	addr := fmt.Sprintf(":%d", config.Port)
	if err := httpext.ListenAndServeContext(ctx, addr, mux); err != nil {
		panic(err)
	}
}

func main() {
	// If called with `--version`, report version and exit.
	bininfo.HandleVersionArgument()

	config := conf.GetConfigOrDie()
	config.LoggingConfig.SetDefaultLogger()
	must.Succeed(config.Validate())

	undoMaxprocs, err := maxprocs.Set(maxprocs.Logger(slog.Debug))
	must.Succeed(err)
	defer undoMaxprocs()

	wrap := httpext.WrapTransport(&http.DefaultTransport)
	wrap.SetOverrideUserAgent(bininfo.Component(), bininfo.VersionOr("rolling"))

	ctx := httpext.ContextWithSIGINT(context.Background(), 10*time.Second)

	shutdownTracing := must.Return(tracing.InstallStdoutTracerProvider())
	defer shutdownTracing(ctx)

	registry := monitoring.NewRegistry(config.MonitoringConfig)
	dbMonitor := placementdb.NewDBMonitor(registry)
	database := must.Return(placementdb.NewPostgresDB(ctx, config.DBConfig, dbMonitor))
	defer database.Close()

	migrater := placementdb.NewMigrater(database)
	migrater.Migrate(true)

	engine := buildEngine(database, config)
	must.Succeed(engine.Init(ctx))

	go database.CheckLivenessPeriodically(ctx)
	go runMonitoringServer(ctx, registry, config.MonitoringConfig)

	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	apiConf := config.APIConfig
	addr := fmt.Sprintf(":%d", apiConf.Port)
	slog.Info("api listening", "port", apiConf.Port)
	must.Succeed(httpext.ListenAndServeContext(ctx, addr, mux))
}

func buildEngine(database *placementdb.DB, config *conf.Config) *adapter.Engine {
	var wraps int
	onWrap := func() { wraps++; slog.Warn("generation counter wrapped") }

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

	return adapter.NewEngine(
		classRegistry, traitRegistry, providerStore, inventoryStore,
		consumerStore, allocationStore, m, commitEngine,
		config.EngineConfig.RandomizeCandidatesDefault,
	)
}
