// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package tracing installs the OpenTelemetry tracer provider the matcher
// and commit engine report spans to.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/trace"
)

// InstallStdoutTracerProvider sets up a TracerProvider that writes spans
// to stdout, so "match_one"/"tree_with_sharing"/"replace_allocations"
// spans are visible without standing up an external collector. Returns a
// shutdown function the caller should defer.
func InstallStdoutTracerProvider() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	provider := trace.NewTracerProvider(trace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}
