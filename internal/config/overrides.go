// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

package config

import "fmt"

// OverridesKey is the blob key runtime overrides persist under.
const OverridesKey = "config:overrides"

// Overrides is the runtime-adjustable subset of detection settings. Pointer
// fields distinguish "leave unchanged" from an explicit value; the applied
// overrides are persisted and reapplied over file configuration at startup.
type Overrides struct {
	BlockThreshold      *float64 `json:"block_threshold,omitempty"`
	QuarantineThreshold *float64 `json:"quarantine_threshold,omitempty"`
	StrictMode          *bool    `json:"strict_mode,omitempty"`
	LearningMode        *bool    `json:"learning_mode,omitempty"`
	DisabledModules     []string `json:"disabled_modules,omitempty"`
}

// Validate checks the override values against the same bounds the loader
// enforces on file configuration.
func (o *Overrides) Validate() error {
	block, quarantine := o.BlockThreshold, o.QuarantineThreshold
	if block != nil && (*block <= 0 || *block > 1) {
		return fmt.Errorf("block_threshold %v out of range (0, 1]", *block)
	}
	if quarantine != nil && (*quarantine <= 0 || *quarantine > 1) {
		return fmt.Errorf("quarantine_threshold %v out of range (0, 1]", *quarantine)
	}
	if block != nil && quarantine != nil && *quarantine >= *block {
		return fmt.Errorf("quarantine_threshold %v must be below block_threshold %v", *quarantine, *block)
	}
	return nil
}

// ApplyOverrides layers persisted runtime overrides over the detection
// section. Nil fields keep the configured value; DisabledModules replaces
// the list wholesale when present.
func (c *Config) ApplyOverrides(o *Overrides) {
	if o == nil {
		return
	}
	if o.BlockThreshold != nil {
		c.Detection.BlockThreshold = *o.BlockThreshold
	}
	if o.QuarantineThreshold != nil {
		c.Detection.QuarantineThreshold = *o.QuarantineThreshold
	}
	if o.StrictMode != nil {
		c.Detection.StrictMode = *o.StrictMode
	}
	if o.LearningMode != nil {
		c.Detection.LearningMode = *o.LearningMode
	}
	if o.DisabledModules != nil {
		c.Detection.DisabledModules = o.DisabledModules
	}
}
