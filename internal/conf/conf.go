// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package conf loads the placement engine's configuration from a JSON
// config file plus an optional JSON secrets file whose values override
// the base file.
package conf

import (
	"encoding/json"
	"io"
	"os"
)

// Configuration for structured logging.
type LoggingConfig struct {
	// The log level to use (debug, info, warn, error).
	LevelStr string `json:"level"`
	// The log format to use (json, text).
	Format string `json:"format"`
}

// DBReconnectConfig configures liveness pinging and reconnection backoff.
type DBReconnectConfig struct {
	// The interval between liveness pings to the database.
	LivenessPingIntervalSeconds int `json:"livenessPingIntervalSeconds"`
	// The interval between reconnection attempts on connection loss.
	RetryIntervalSeconds int `json:"retryIntervalSeconds"`
	// The maximum number of reconnection attempts on connection loss before panic.
	MaxRetries int `json:"maxRetries"`
}

// Database configuration.
type DBConfig struct {
	Host      string            `json:"host"`
	Port      int               `json:"port"`
	Database  string            `json:"database"`
	User      string            `json:"user"`
	Password  string            `json:"password"`
	Reconnect DBReconnectConfig `json:"reconnect"`
}

// Configuration for the monitoring module.
type MonitoringConfig struct {
	// The labels to add to all metrics.
	Labels map[string]string `json:"labels"`
	// The port to expose the metrics on.
	Port int `json:"port"`
}

// Configuration for the api port.
type APIConfig struct {
	// The port to expose the /up health endpoint on.
	Port int `json:"port"`
}

// EngineConfig configures matcher/commit behavior that has no natural
// home in a per-request parameter.
type EngineConfig struct {
	// Default for the request's randomize_allocation_candidates flag
	// when the caller omits it.
	RandomizeCandidatesDefault bool `json:"randomizeCandidatesDefault"`
	// Default candidate limit applied when the caller gives none.
	DefaultCandidateLimit int `json:"defaultCandidateLimit"`
	// Hard ceiling on the number of tuples the matcher's cross-product
	// enumeration will visit per request, regardless of limit. Protects
	// against the "Cartesian enumeration risk" for pathological requests.
	MaxCartesianProduct int `json:"maxCartesianProduct"`
}

// Config is the full process configuration.
type Config struct {
	LoggingConfig    `json:"logging"`
	DBConfig         `json:"db"`
	MonitoringConfig `json:"monitoring"`
	APIConfig        `json:"api"`
	EngineConfig     `json:"engine"`
}

// GetConfigOrDie reads the base config and secrets files and merges them.
// Values read from the secrets file override values in the base file.
func GetConfigOrDie() *Config {
	cmConf, err := readRawConfig("/etc/config/conf.json")
	if err != nil {
		panic(err)
	}
	secretConf, err := readRawConfig("/etc/secrets/secrets.json")
	if err != nil {
		panic(err)
	}
	return newConfigFromMaps(cmConf, secretConf)
}

// NewConfigFromBytes builds a config directly from a base config and
// optional secrets bytes, used by tests.
func NewConfigFromBytes(base, secrets []byte) (*Config, error) {
	baseMap, err := readRawConfigFromBytes(base)
	if err != nil {
		return nil, err
	}
	var secretMap map[string]any
	if len(secrets) > 0 {
		secretMap, err = readRawConfigFromBytes(secrets)
		if err != nil {
			return nil, err
		}
	}
	return newConfigFromMaps(baseMap, secretMap), nil
}

func newConfigFromMaps(base, override map[string]any) *Config {
	merged := mergeMaps(base, override)
	mergedBytes, err := json.Marshal(merged)
	if err != nil {
		panic(err)
	}
	var c Config
	if err := json.Unmarshal(mergedBytes, &c); err != nil {
		panic(err)
	}
	return &c
}

func readRawConfig(filepath string) (map[string]any, error) {
	file, err := os.Open(filepath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	defer file.Close()
	bytes, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	return readRawConfigFromBytes(bytes)
}

func readRawConfigFromBytes(data []byte) (map[string]any, error) {
	conf := map[string]any{}
	if len(data) == 0 {
		return conf, nil
	}
	if err := json.Unmarshal(data, &conf); err != nil {
		return nil, err
	}
	return conf, nil
}

// mergeMaps recursively overrides dst with src (in-place).
func mergeMaps(dst, src map[string]any) map[string]any {
	result := dst
	for k, v := range src {
		if v == nil {
			continue
		}
		if dstVal, ok := dst[k]; ok {
			dstMap, dstIsMap := dstVal.(map[string]any)
			srcMap, srcIsMap := v.(map[string]any)
			if dstIsMap && srcIsMap {
				result[k] = mergeMaps(dstMap, srcMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}
