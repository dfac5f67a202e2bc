// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

// Package config provides layered configuration loading: struct defaults,
// then an optional YAML file, then environment variables. Components receive
// their section of the Config by value at construction; there is no global
// configuration singleton.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the service.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Store      StoreConfig      `koanf:"store"`
	Detection  DetectionConfig  `koanf:"detection"`
	Pattern    PatternConfig    `koanf:"pattern"`
	Behavior   BehaviorConfig   `koanf:"behavior"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Rules      RulesConfig      `koanf:"rules"`
	Intel      IntelConfig      `koanf:"intel"`
	Quarantine QuarantineConfig `koanf:"quarantine"`
	Analytics  AnalyticsConfig  `koanf:"analytics"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RequestsPerMin  int           `koanf:"requests_per_min"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// StoreConfig selects the persistence backend. With Path empty everything
// runs in memory, which is the mode the test suite uses.
type StoreConfig struct {
	Path       string        `koanf:"path"`
	GCInterval time.Duration `koanf:"gc_interval"`
}

// DetectionConfig holds the pipeline-wide decision thresholds and module
// toggles.
type DetectionConfig struct {
	BlockThreshold      float64  `koanf:"block_threshold"`
	QuarantineThreshold float64  `koanf:"quarantine_threshold"`
	StrictMode          bool     `koanf:"strict_mode"`
	LearningMode        bool     `koanf:"learning_mode"`
	DisabledModules     []string `koanf:"disabled_modules"`
	BlockMessage        string   `koanf:"block_message"`
	QuarantineMessage   string   `koanf:"quarantine_message"`
}

// PatternConfig tunes the pattern threat detector.
type PatternConfig struct {
	MaxURLsPerField   int      `koanf:"max_urls_per_field"`
	EntropyThreshold  float64  `koanf:"entropy_threshold"`
	CustomKeywords    []string `koanf:"custom_keywords"`
	KeywordDensityPct float64  `koanf:"keyword_density_pct"`
}

// BehaviorConfig tunes the behavioral analyzer.
type BehaviorConfig struct {
	HoneypotField     string        `koanf:"honeypot_field"`
	MaxPerMinute      int           `koanf:"max_per_minute"`
	MaxPerHour        int           `koanf:"max_per_hour"`
	MaxPerDay         int           `koanf:"max_per_day"`
	MinFillTime       time.Duration `koanf:"min_fill_time"`
	MinMouseMovements int           `koanf:"min_mouse_movements"`
	MinKeystrokes     int           `koanf:"min_keystrokes"`
	HistoryRetention  time.Duration `koanf:"history_retention"`
	MaxTrackedIPs     int           `koanf:"max_tracked_ips"`
}

// ClassifierConfig tunes the online scoring classifier.
type ClassifierConfig struct {
	BufferCap       int     `koanf:"buffer_cap"`
	RetrainEvery    int     `koanf:"retrain_every"`
	LearningRate    float64 `koanf:"learning_rate"`
	Epochs          int     `koanf:"epochs"`
	SpamThreshold   float64 `koanf:"spam_threshold"`
	SnapshotEnabled bool    `koanf:"snapshot_enabled"`
}

// RulesConfig configures the custom rule engine.
type RulesConfig struct {
	Path         string        `koanf:"path"`
	MaxRules     int           `koanf:"max_rules"`
	YoungRuleAge time.Duration `koanf:"young_rule_age"`
}

// IntelConfig configures threat intelligence lookups and feed refresh.
type IntelConfig struct {
	CacheTTL        time.Duration `koanf:"cache_ttl"`
	CacheMaxEntries int           `koanf:"cache_max_entries"`
	FeedURLs        []string      `koanf:"feed_urls"`
	FeedInterval    time.Duration `koanf:"feed_interval"`
	FeedTimeout     time.Duration `koanf:"feed_timeout"`
	IPThreshold     int           `koanf:"ip_threshold"`
	EmailThreshold  int           `koanf:"email_threshold"`
	DomainThreshold int           `koanf:"domain_threshold"`
}

// QuarantineConfig configures quarantine retention and capacity.
type QuarantineConfig struct {
	TTL           time.Duration `koanf:"ttl"`
	MaxEntries    int           `koanf:"max_entries"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// AnalyticsConfig configures the rolling analytics window.
type AnalyticsConfig struct {
	WindowSize    int           `koanf:"window_size"`
	TopIPCount    int           `koanf:"top_ip_count"`
	FlushInterval time.Duration `koanf:"flush_interval"`
}

// defaultConfig returns a Config with all defaults applied. These are
// layered first and overridden by config file and environment.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8085,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RequestsPerMin:  120,
			MaxBodyBytes:    1 << 20, // 1MB
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Store: StoreConfig{
			Path:       "", // in-memory by default
			GCInterval: 10 * time.Minute,
		},
		Detection: DetectionConfig{
			BlockThreshold:      0.9,
			QuarantineThreshold: 0.7,
			StrictMode:          false,
			LearningMode:        true,
			DisabledModules:     nil,
			BlockMessage:        "Submission rejected",
			QuarantineMessage:   "Submission held for review",
		},
		Pattern: PatternConfig{
			MaxURLsPerField:   3,
			EntropyThreshold:  4.5,
			CustomKeywords:    nil,
			KeywordDensityPct: 30.0,
		},
		Behavior: BehaviorConfig{
			HoneypotField:     "website",
			MaxPerMinute:      3,
			MaxPerHour:        10,
			MaxPerDay:         50,
			MinFillTime:       3 * time.Second,
			MinMouseMovements: 3,
			MinKeystrokes:     5,
			HistoryRetention:  24 * time.Hour,
			MaxTrackedIPs:     100_000,
		},
		Classifier: ClassifierConfig{
			BufferCap:       1000,
			RetrainEvery:    100,
			LearningRate:    0.1,
			Epochs:          50,
			SpamThreshold:   0.7,
			SnapshotEnabled: true,
		},
		Rules: RulesConfig{
			Path:         "",
			MaxRules:     500,
			YoungRuleAge: 24 * time.Hour,
		},
		Intel: IntelConfig{
			CacheTTL:        time.Hour,
			CacheMaxEntries: 50_000,
			FeedURLs:        nil,
			FeedInterval:    6 * time.Hour,
			FeedTimeout:     30 * time.Second,
			IPThreshold:     30,
			EmailThreshold:  40,
			DomainThreshold: 30,
		},
		Quarantine: QuarantineConfig{
			TTL:           72 * time.Hour,
			MaxEntries:    10_000,
			SweepInterval: time.Minute,
		},
		Analytics: AnalyticsConfig{
			WindowSize:    10_000,
			TopIPCount:    10,
			FlushInterval: time.Minute,
		},
	}
}

// Default returns the built-in defaults without touching the filesystem or
// environment. Tests construct components from this.
func Default() *Config {
	return defaultConfig()
}

// Validate checks cross-field constraints that koanf cannot express.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Detection.BlockThreshold < 0 || c.Detection.BlockThreshold > 1 {
		return fmt.Errorf("detection.block_threshold must be in [0,1], got %f", c.Detection.BlockThreshold)
	}
	if c.Detection.QuarantineThreshold < 0 || c.Detection.QuarantineThreshold > 1 {
		return fmt.Errorf("detection.quarantine_threshold must be in [0,1], got %f", c.Detection.QuarantineThreshold)
	}
	if c.Detection.QuarantineThreshold > c.Detection.BlockThreshold {
		return fmt.Errorf("detection.quarantine_threshold (%f) must not exceed block_threshold (%f)",
			c.Detection.QuarantineThreshold, c.Detection.BlockThreshold)
	}
	if c.Behavior.MaxPerMinute < 1 {
		return fmt.Errorf("behavior.max_per_minute must be positive, got %d", c.Behavior.MaxPerMinute)
	}
	if c.Behavior.MaxPerHour < c.Behavior.MaxPerMinute {
		return fmt.Errorf("behavior.max_per_hour (%d) must be >= max_per_minute (%d)",
			c.Behavior.MaxPerHour, c.Behavior.MaxPerMinute)
	}
	if c.Behavior.MaxPerDay < c.Behavior.MaxPerHour {
		return fmt.Errorf("behavior.max_per_day (%d) must be >= max_per_hour (%d)",
			c.Behavior.MaxPerDay, c.Behavior.MaxPerHour)
	}
	if c.Classifier.BufferCap < c.Classifier.RetrainEvery {
		return fmt.Errorf("classifier.buffer_cap (%d) must be >= retrain_every (%d)",
			c.Classifier.BufferCap, c.Classifier.RetrainEvery)
	}
	if c.Classifier.LearningRate <= 0 {
		return fmt.Errorf("classifier.learning_rate must be positive, got %f", c.Classifier.LearningRate)
	}
	if c.Quarantine.TTL <= 0 {
		return fmt.Errorf("quarantine.ttl must be positive, got %s", c.Quarantine.TTL)
	}
	if c.Quarantine.MaxEntries < 1 {
		return fmt.Errorf("quarantine.max_entries must be positive, got %d", c.Quarantine.MaxEntries)
	}
	if c.Intel.CacheTTL <= 0 {
		return fmt.Errorf("intel.cache_ttl must be positive, got %s", c.Intel.CacheTTL)
	}
	if c.Analytics.WindowSize < 1 {
		return fmt.Errorf("analytics.window_size must be positive, got %d", c.Analytics.WindowSize)
	}
	return nil
}
