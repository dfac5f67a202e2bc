// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

package intel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/formwarden/formwarden/internal/config"
	"github.com/formwarden/formwarden/internal/logging"
)

// maxFeedBody bounds one feed download.
const maxFeedBody = 8 << 20 // 8MB

// FeedFetcher periodically downloads plaintext IP blocklist feeds and swaps
// the merged set into the Service. Feed endpoints are third parties, so
// each fetch goes through a circuit breaker and a shared rate limiter;
// a feed that is down degrades to the previous set, never to an error on
// the hot path.
type FeedFetcher struct {
	cfg     config.IntelConfig
	svc     *Service
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[map[string]struct{}]
	limiter *rate.Limiter
}

// NewFeedFetcher wires a fetcher to the service it feeds.
func NewFeedFetcher(cfg config.IntelConfig, svc *Service) *FeedFetcher {
	settings := gobreaker.Settings{
		Name:     "intel-feeds",
		Interval: 10 * time.Minute,
		Timeout:  5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("feed circuit breaker state change")
		},
	}
	return &FeedFetcher{
		cfg:     cfg,
		svc:     svc,
		client:  &http.Client{Timeout: cfg.FeedTimeout},
		breaker: gobreaker.NewCircuitBreaker[map[string]struct{}](settings),
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Serve refreshes feeds until the context is cancelled. It satisfies the
// suture service contract.
func (f *FeedFetcher) Serve(ctx context.Context) error {
	if len(f.cfg.FeedURLs) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	f.RefreshAll(ctx)

	ticker := time.NewTicker(f.cfg.FeedInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.RefreshAll(ctx)
		}
	}
}

func (f *FeedFetcher) String() string { return "intel-feed-fetcher" }

// RefreshAll fetches every configured feed and swaps the merged result in.
// Partial failure keeps the partial merge; total failure keeps the old set.
func (f *FeedFetcher) RefreshAll(ctx context.Context) {
	mergedIPs := make(map[string]struct{})
	mergedDomains := make(map[string]struct{})
	tor := make(map[string]struct{})
	fetched := 0

	for _, url := range f.cfg.FeedURLs {
		entries, err := f.fetchOne(ctx, url)
		if err != nil {
			logging.Warn().Err(err).Str("url", url).Msg("feed fetch failed")
			continue
		}
		fetched++
		torFeed := strings.Contains(strings.ToLower(url), "tor")
		for entry := range entries {
			switch {
			case net.ParseIP(entry) == nil:
				mergedDomains[entry] = struct{}{}
			case torFeed:
				tor[entry] = struct{}{}
			default:
				mergedIPs[entry] = struct{}{}
			}
		}
	}

	if fetched == 0 {
		return
	}
	f.svc.SetFeedIPs(mergedIPs)
	f.svc.SetFeedDomains(mergedDomains)
	if len(tor) > 0 {
		f.svc.SetTorExits(tor)
	}
	logging.Info().
		Int("feeds", fetched).
		Int("blocked_ips", len(mergedIPs)).
		Int("blocked_domains", len(mergedDomains)).
		Int("tor_exits", len(tor)).
		Msg("threat feeds refreshed")
}

func (f *FeedFetcher) fetchOne(ctx context.Context, url string) (map[string]struct{}, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return f.breaker.Execute(func() (map[string]struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build feed request: %w", err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch feed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("feed %s returned %d", url, resp.StatusCode)
		}
		return parseFeed(io.LimitReader(resp.Body, maxFeedBody))
	})
}

// feedDomainRegexp accepts bare hostnames from domain blocklist feeds.
var feedDomainRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*\.[a-z]{2,}$`)

// parseFeed reads a one-entry-per-line feed of IP addresses or domains,
// skipping comments and anything that parses as neither.
func parseFeed(r io.Reader) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		// Some feeds append ports or comments after whitespace.
		if i := strings.IndexAny(line, " \t"); i > 0 {
			line = line[:i]
		}
		line = strings.ToLower(line)
		if net.ParseIP(line) != nil || feedDomainRegexp.MatchString(line) {
			out[line] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan feed: %w", err)
	}
	return out, nil
}
