// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

package config

import "testing"

func TestDefaultsValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"block threshold above 1", func(c *Config) { c.Detection.BlockThreshold = 1.5 }},
		{"quarantine above block", func(c *Config) {
			c.Detection.QuarantineThreshold = 0.95
			c.Detection.BlockThreshold = 0.9
		}},
		{"hour below minute", func(c *Config) {
			c.Behavior.MaxPerMinute = 20
			c.Behavior.MaxPerHour = 10
		}},
		{"buffer below retrain", func(c *Config) {
			c.Classifier.BufferCap = 10
			c.Classifier.RetrainEvery = 100
		}},
		{"zero quarantine ttl", func(c *Config) { c.Quarantine.TTL = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"FW_SERVER_PORT", "server.port"},
		{"FW_BEHAVIOR_MAX_PER_MINUTE", "behavior.max_per_minute"},
		{"FW_INTEL_CACHE_TTL", "intel.cache_ttl"},
		{"BLOCK_THRESHOLD", "detection.block_threshold"},
		{"QUARANTINE_TTL", "quarantine.ttl"},
		{"HONEYPOT_FIELD", "behavior.honeypot_field"},
		{"PATH", ""},
		{"HOME", ""},
	}
	for _, tt := range tests {
		if got := envTransformFunc(tt.env); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
		}
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	block := 0.85
	strict := true
	cfg.ApplyOverrides(&Overrides{
		BlockThreshold: &block,
		StrictMode:     &strict,
	})
	if cfg.Detection.BlockThreshold != 0.85 {
		t.Errorf("block threshold = %v", cfg.Detection.BlockThreshold)
	}
	if !cfg.Detection.StrictMode {
		t.Error("strict mode override not applied")
	}
	if cfg.Detection.QuarantineThreshold != Default().Detection.QuarantineThreshold {
		t.Error("unset override changed the quarantine threshold")
	}

	cfg.ApplyOverrides(nil)
	if cfg.Detection.BlockThreshold != 0.85 {
		t.Error("nil overrides mutated the config")
	}
}

func TestOverridesValidate(t *testing.T) {
	low, high := 0.5, 0.8
	bad := 1.5
	tests := []struct {
		name    string
		o       Overrides
		wantErr bool
	}{
		{"empty", Overrides{}, false},
		{"valid pair", Overrides{BlockThreshold: &high, QuarantineThreshold: &low}, false},
		{"inverted pair", Overrides{BlockThreshold: &low, QuarantineThreshold: &high}, true},
		{"out of range", Overrides{BlockThreshold: &bad}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.o.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
