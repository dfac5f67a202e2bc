// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

package supervisor

import (
	"context"
	"time"

	"github.com/formwarden/formwarden/internal/detector/behavior"
	"github.com/formwarden/formwarden/internal/logging"
)

// HistoryCleaner periodically drops idle IPs from the behavioral history.
type HistoryCleaner struct {
	history  *behavior.HistoryStore
	interval time.Duration
}

// NewHistoryCleaner creates the cleaner service.
func NewHistoryCleaner(history *behavior.HistoryStore, interval time.Duration) *HistoryCleaner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &HistoryCleaner{history: history, interval: interval}
}

// Serve runs the cleanup loop until the context is cancelled.
func (c *HistoryCleaner) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := c.history.Cleanup(); n > 0 {
				logging.Debug().Int("removed", n).Msg("behavior history cleanup")
			}
		}
	}
}

func (c *HistoryCleaner) String() string { return "history-cleaner" }
