// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package monitoring wraps a prometheus registry with process-wide static
// labels, the way cortex's lib/monitoring does.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"

	"github.com/sapcc/placement-engine/internal/conf"
)

// Registry is a prometheus registry that stamps every gathered metric
// family with the configured static labels.
type Registry struct {
	*prometheus.Registry
	config conf.MonitoringConfig
}

// NewRegistry creates a registry pre-populated with the go/process
// collectors and the given static labels.
func NewRegistry(config conf.MonitoringConfig) *Registry {
	registry := &Registry{
		Registry: prometheus.NewRegistry(),
		config:   config,
	}
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// Gather adds the configured static labels to every gathered metric family.
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	families, err := r.Registry.Gather()
	if err != nil {
		return nil, err
	}
	for name, value := range r.config.Labels {
		name, value := name, value
		for _, family := range families {
			for _, metric := range family.Metric {
				metric.Label = append(metric.Label, &dto.LabelPair{
					Name:  &name,
					Value: &value,
				})
			}
		}
	}
	return families, nil
}
