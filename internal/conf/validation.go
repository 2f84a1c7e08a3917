// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package conf

import "fmt"

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.DBConfig.Host == "" {
		return fmt.Errorf("db.host must not be empty")
	}
	if c.EngineConfig.MaxCartesianProduct < 0 {
		return fmt.Errorf("engine.maxCartesianProduct must not be negative")
	}
	if c.EngineConfig.DefaultCandidateLimit < 0 {
		return fmt.Errorf("engine.defaultCandidateLimit must not be negative")
	}
	return nil
}
