// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/formwarden/config.yaml",
	"/etc/formwarden/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from three layers: struct defaults, an
// optional YAML file, then environment variables (highest priority).
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// FW_SERVER_PORT -> server.port, FW_BEHAVIOR_MAX_PER_MINUTE ->
	// behavior.max_per_minute, plus the explicit aliases below.
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile resolves the config file path from the environment override
// or the default search list. Returns "" when no file exists.
func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		return ""
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envAliases maps short operator-facing environment variables to config
// paths. Anything not listed falls through to the FW_ prefix convention.
var envAliases = map[string]string{
	"port":                 "server.port",
	"log_level":            "logging.level",
	"log_format":           "logging.format",
	"data_path":            "store.path",
	"block_threshold":      "detection.block_threshold",
	"quarantine_threshold": "detection.quarantine_threshold",
	"honeypot_field":       "behavior.honeypot_field",
	"quarantine_ttl":       "quarantine.ttl",
	"rules_path":           "rules.path",
	"intel_feed_urls":      "intel.feed_urls",
	"cors_origins":         "server.cors_origins",
}

// envTransformFunc maps environment variable names to koanf config paths.
// FW_-prefixed variables map positionally: the first underscore-delimited
// token after the prefix is the section, the rest is the key.
//
// Examples:
//   - FW_SERVER_PORT -> server.port
//   - FW_BEHAVIOR_MAX_PER_MINUTE -> behavior.max_per_minute
//   - FW_INTEL_CACHE_TTL -> intel.cache_ttl
//   - BLOCK_THRESHOLD -> detection.block_threshold
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	if path, ok := envAliases[key]; ok {
		return path
	}

	if !strings.HasPrefix(key, "fw_") {
		return "" // ignore unrelated environment variables
	}
	key = strings.TrimPrefix(key, "fw_")

	section, rest, found := strings.Cut(key, "_")
	if !found {
		return section
	}
	return section + "." + rest
}

// sliceFields lists config paths whose env values arrive as comma-separated
// strings and must become string slices before unmarshal.
var sliceFields = []string{
	"server.cors_origins",
	"detection.disabled_modules",
	"pattern.custom_keywords",
	"intel.feed_urls",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceFields {
		raw := k.Get(path)
		s, ok := raw.(string)
		if !ok {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}
