// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

// Package intel scores the reputation of a submission's source: IP address,
// email address and email domain. Scores run 0-100 where 100 is pristine;
// each signal deducts points, and a score under the configured threshold
// becomes a threat. Lookups are served read-through from a TTL cache.
package intel

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/formwarden/formwarden/internal/config"
	"github.com/formwarden/formwarden/internal/threat"
)

// Reputation deductions. The baseline score is 100.
const (
	penaltyFeedListed  = 60
	penaltyTorExit     = 55
	penaltyVPN         = 35
	penaltyDatacenter  = 30
	penaltyDisposable  = 50
	penaltySuspTLD     = 25
	penaltyShortDomain = 15
)

// Report is the cached reputation verdict for one IP or email.
type Report struct {
	Score      int  `json:"score"`
	FeedListed bool `json:"feed_listed,omitempty"`
	Datacenter bool `json:"datacenter,omitempty"`
	VPN        bool `json:"vpn,omitempty"`
	TorExit    bool `json:"tor_exit,omitempty"`
	Disposable bool `json:"disposable,omitempty"`
}

// Service is the threat intelligence module. It implements threat.Detector
// and additionally serves direct lookups for other modules (the behavioral
// analyzer asks about VPN usage for session consistency checks).
type Service struct {
	cfg   config.IntelConfig
	cache *reputationCache

	datacenters []*net.IPNet
	vpns        []*net.IPNet

	// feedIPs, feedDomains and torIPs are merged sets from remote feeds,
	// swapped wholesale on refresh.
	feedMu      sync.RWMutex
	feedIPs     map[string]struct{}
	feedDomains map[string]struct{}
	torIPs      map[string]struct{}

	mu      sync.RWMutex
	enabled bool
}

// NewService creates the intel service with compiled network data.
func NewService(cfg config.IntelConfig) *Service {
	return &Service{
		cfg:         cfg,
		cache:       newReputationCache(cfg.CacheTTL, cfg.CacheMaxEntries),
		datacenters: parseCIDRs(datacenterCIDRs),
		vpns:        parseCIDRs(vpnCIDRs),
		feedIPs:     make(map[string]struct{}),
		feedDomains: make(map[string]struct{}),
		torIPs:      make(map[string]struct{}),
		enabled:     true,
	}
}

func (s *Service) Name() string { return "intel" }

func (s *Service) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

func (s *Service) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// Close releases the cache sweeper.
func (s *Service) Close() { s.cache.close() }

// Analyze scores the submission's IP and email reputation and emits threats
// for scores under the configured thresholds.
func (s *Service) Analyze(_ context.Context, sub *threat.Submission) (*threat.Analysis, error) {
	var threats []threat.Threat

	if sub.IP != "" {
		rep := s.LookupIP(sub.IP)
		if rep.TorExit {
			threats = append(threats, threat.New(threat.TypeTorExitNode, "", 0.85,
				"submission from a Tor exit node", threat.SeverityHigh, sub.IP))
		} else if rep.VPN {
			threats = append(threats, threat.New(threat.TypeVPNProxyDetected, "", 0.6,
				"submission from a known VPN range", threat.SeverityMedium, sub.IP))
		}
		if rep.Score < s.cfg.IPThreshold {
			threats = append(threats, threat.New(threat.TypeBadReputation, "",
				reputationConfidence(rep.Score, s.cfg.IPThreshold),
				fmt.Sprintf("IP reputation %d below threshold %d", rep.Score, s.cfg.IPThreshold),
				threat.SeverityHigh, sub.IP))
		}
	}

	for i, domain := range contentURLDomains(sub) {
		if i == maxDomainLookups {
			break
		}
		rep := s.LookupDomain(domain)
		if rep.FeedListed {
			threats = append(threats, threat.New(threat.TypeSuspiciousURL, "", 0.85,
				"linked domain listed on a threat feed", threat.SeverityHigh, domain))
		}
		if rep.Score < s.cfg.DomainThreshold {
			threats = append(threats, threat.New(threat.TypeBadReputation, "",
				reputationConfidence(rep.Score, s.cfg.DomainThreshold),
				fmt.Sprintf("domain reputation %d below threshold %d", rep.Score, s.cfg.DomainThreshold),
				threat.SeverityMedium, domain))
		}
	}

	if email, ok := submissionEmail(sub); ok {
		rep := s.LookupEmail(email)
		if rep.Disposable {
			threats = append(threats, threat.New(threat.TypeDisposableEmail, "email", 0.75,
				"disposable email provider", threat.SeverityMedium, emailDomain(email)))
		}
		if rep.Score < s.cfg.EmailThreshold {
			threats = append(threats, threat.New(threat.TypeSuspiciousEmail, "email",
				reputationConfidence(rep.Score, s.cfg.EmailThreshold),
				fmt.Sprintf("email reputation %d below threshold %d", rep.Score, s.cfg.EmailThreshold),
				threat.SeverityMedium, emailDomain(email)))
		}
	}

	return threat.NewAnalysis(threats), nil
}

// LookupIP returns the cached or computed reputation for an IP.
func (s *Service) LookupIP(ip string) Report {
	key := "ip:" + ip
	if rep, ok := s.cache.get(key); ok {
		return rep
	}
	rep := s.scoreIP(ip)
	s.cache.set(key, rep)
	return rep
}

// LookupEmail returns the cached or computed reputation for an email.
func (s *Service) LookupEmail(email string) Report {
	email = strings.ToLower(email)
	key := "email:" + email
	if rep, ok := s.cache.get(key); ok {
		return rep
	}
	rep := s.scoreEmail(email)
	s.cache.set(key, rep)
	return rep
}

// maxDomainLookups bounds per-submission reputation work; spam payloads can
// carry dozens of links.
const maxDomainLookups = 8

// LookupDomain returns the cached or computed reputation for a URL domain.
func (s *Service) LookupDomain(domain string) Report {
	domain = strings.ToLower(domain)
	key := "domain:" + domain
	if rep, ok := s.cache.get(key); ok {
		return rep
	}
	rep := s.scoreDomain(domain)
	s.cache.set(key, rep)
	return rep
}

// IsAnonymized reports whether an IP is a VPN, proxy or Tor source. Used by
// the behavioral analyzer's session consistency check.
func (s *Service) IsAnonymized(ip string) bool {
	rep := s.LookupIP(ip)
	return rep.VPN || rep.TorExit
}

func (s *Service) scoreIP(ipStr string) Report {
	rep := Report{Score: 100}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return rep
	}

	s.feedMu.RLock()
	_, rep.FeedListed = s.feedIPs[ipStr]
	_, rep.TorExit = s.torIPs[ipStr]
	s.feedMu.RUnlock()

	rep.Datacenter = containsIP(s.datacenters, ip)
	rep.VPN = containsIP(s.vpns, ip)

	if rep.FeedListed {
		rep.Score -= penaltyFeedListed
	}
	if rep.TorExit {
		rep.Score -= penaltyTorExit
	}
	if rep.VPN {
		rep.Score -= penaltyVPN
	}
	if rep.Datacenter {
		rep.Score -= penaltyDatacenter
	}
	if rep.Score < 0 {
		rep.Score = 0
	}
	return rep
}

func (s *Service) scoreEmail(email string) Report {
	rep := Report{Score: 100}
	domain := emailDomain(email)
	if domain == "" {
		return rep
	}

	if _, ok := disposableDomains[domain]; ok {
		rep.Disposable = true
		rep.Score -= penaltyDisposable
	}
	if i := strings.LastIndex(domain, "."); i >= 0 {
		if _, ok := suspiciousTLDs[domain[i+1:]]; ok {
			rep.Score -= penaltySuspTLD
		}
	}
	// Very short second-level domains correlate with burner setups.
	if sld, _, found := strings.Cut(domain, "."); found && len(sld) <= 2 {
		rep.Score -= penaltyShortDomain
	}
	if rep.Score < 0 {
		rep.Score = 0
	}
	return rep
}

func (s *Service) scoreDomain(domain string) Report {
	rep := Report{Score: 100}
	if domain == "" {
		return rep
	}

	s.feedMu.RLock()
	_, rep.FeedListed = s.feedDomains[domain]
	s.feedMu.RUnlock()

	if rep.FeedListed {
		rep.Score -= penaltyFeedListed
	}
	if i := strings.LastIndex(domain, "."); i >= 0 {
		if _, ok := suspiciousTLDs[domain[i+1:]]; ok {
			rep.Score -= penaltySuspTLD
		}
	}
	if sld, _, found := strings.Cut(domain, "."); found && len(sld) <= 2 {
		rep.Score -= penaltyShortDomain
	}
	if rep.Score < 0 {
		rep.Score = 0
	}
	return rep
}

// SetFeedIPs replaces the feed-derived block set. Called by the feed
// refresher after each successful fetch cycle.
func (s *Service) SetFeedIPs(ips map[string]struct{}) {
	s.feedMu.Lock()
	s.feedIPs = ips
	s.feedMu.Unlock()
}

// SetFeedDomains replaces the feed-derived malicious domain set.
func (s *Service) SetFeedDomains(domains map[string]struct{}) {
	s.feedMu.Lock()
	s.feedDomains = domains
	s.feedMu.Unlock()
}

// SetTorExits replaces the Tor exit node set.
func (s *Service) SetTorExits(ips map[string]struct{}) {
	s.feedMu.Lock()
	s.torIPs = ips
	s.feedMu.Unlock()
}

// CacheStats exposes reputation cache counters for the stats endpoint.
func (s *Service) CacheStats() CacheStats { return s.cache.stats() }

func containsIP(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func emailDomain(email string) string {
	_, domain, found := strings.Cut(email, "@")
	if !found {
		return ""
	}
	return strings.ToLower(domain)
}

// reputationConfidence maps how far a score falls below its threshold into
// a confidence in (0.5, 0.9].
func reputationConfidence(score, threshold int) float64 {
	if threshold <= 0 {
		return 0.5
	}
	deficit := float64(threshold-score) / float64(threshold)
	c := 0.5 + 0.4*deficit
	if c > 0.9 {
		c = 0.9
	}
	return c
}
