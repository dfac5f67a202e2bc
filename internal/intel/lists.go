// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

package intel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/formwarden/formwarden/internal/store"
	"github.com/formwarden/formwarden/internal/threat"
)

// ListName selects the whitelist or the blacklist.
type ListName string

const (
	Whitelist ListName = "whitelist"
	Blacklist ListName = "blacklist"
)

// EntryKind is what a list entry matches against.
type EntryKind string

const (
	KindIP     EntryKind = "ip"     // exact IP or CIDR
	KindEmail  EntryKind = "email"  // exact address, lowercased
	KindDomain EntryKind = "domain" // email or URL domain, lowercased
	KindHash   EntryKind = "hash"   // sha256 of normalized submission text
)

var (
	sha256Regexp  = regexp.MustCompile(`^[0-9a-f]{64}$`)
	contentURLRex = regexp.MustCompile(`(?i)\bhttps?://[^\s<>"]+|\bwww\.[a-z0-9][a-z0-9.-]+\.[a-z]{2,}\b`)
)

// ListEntry is one whitelist or blacklist record.
type ListEntry struct {
	Kind    EntryKind `json:"kind"`
	Value   string    `json:"value"`
	Reason  string    `json:"reason,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// listSet is the compiled in-memory view of one list.
type listSet struct {
	exact map[EntryKind]map[string]ListEntry
	cidrs []cidrEntry
}

type cidrEntry struct {
	net   *net.IPNet
	entry ListEntry
}

func newListSet() *listSet {
	return &listSet{exact: map[EntryKind]map[string]ListEntry{
		KindIP:     {},
		KindEmail:  {},
		KindDomain: {},
		KindHash:   {},
	}}
}

// Lists manages the whitelist and blacklist with write-through persistence.
// List order of precedence is decided by the caller: the pipeline always
// consults the whitelist first.
type Lists struct {
	mu    sync.RWMutex
	white *listSet
	black *listSet
	blobs store.Blobs
}

// NewLists creates the list manager and loads persisted entries.
func NewLists(ctx context.Context, blobs store.Blobs) (*Lists, error) {
	l := &Lists{white: newListSet(), black: newListSet(), blobs: blobs}
	if err := l.load(ctx); err != nil {
		return nil, fmt.Errorf("load lists: %w", err)
	}
	return l, nil
}

func listKey(name ListName, kind EntryKind, value string) string {
	return fmt.Sprintf("list:%s:%s:%s", name, kind, value)
}

func (l *Lists) load(ctx context.Context) error {
	return l.blobs.Scan(ctx, "list:", func(key string, value []byte) bool {
		var e ListEntry
		if err := json.Unmarshal(value, &e); err != nil {
			return true // skip corrupt record
		}
		name := Blacklist
		if strings.HasPrefix(key, "list:whitelist:") {
			name = Whitelist
		}
		l.addCompiled(name, e)
		return true
	})
}

func (l *Lists) set(name ListName) *listSet {
	if name == Whitelist {
		return l.white
	}
	return l.black
}

func (l *Lists) addCompiled(name ListName, e ListEntry) {
	s := l.set(name)
	if e.Kind == KindIP && strings.Contains(e.Value, "/") {
		if _, ipnet, err := net.ParseCIDR(e.Value); err == nil {
			s.cidrs = append(s.cidrs, cidrEntry{net: ipnet, entry: e})
			return
		}
	}
	s.exact[e.Kind][e.Value] = e
}

// Add inserts an entry into a list and persists it. Values are normalized:
// emails and domains lowercased, IPs parsed.
func (l *Lists) Add(ctx context.Context, name ListName, kind EntryKind, value, reason string) error {
	value = normalizeListValue(kind, value)
	if value == "" {
		return fmt.Errorf("invalid %s value", kind)
	}
	if kind == KindIP && !strings.Contains(value, "/") && net.ParseIP(value) == nil {
		return fmt.Errorf("invalid IP %q", value)
	}
	if kind == KindIP && strings.Contains(value, "/") {
		if _, _, err := net.ParseCIDR(value); err != nil {
			return fmt.Errorf("invalid CIDR %q: %w", value, err)
		}
	}
	if kind == KindHash && !sha256Regexp.MatchString(value) {
		return fmt.Errorf("invalid content hash %q, want 64 hex characters", value)
	}

	e := ListEntry{Kind: kind, Value: value, Reason: reason, AddedAt: time.Now().UTC()}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal list entry: %w", err)
	}
	if err := l.blobs.Set(ctx, listKey(name, kind, value), data); err != nil {
		return fmt.Errorf("persist list entry: %w", err)
	}

	l.mu.Lock()
	l.addCompiled(name, e)
	l.mu.Unlock()
	return nil
}

// Remove deletes an entry from a list.
func (l *Lists) Remove(ctx context.Context, name ListName, kind EntryKind, value string) error {
	value = normalizeListValue(kind, value)
	if err := l.blobs.Delete(ctx, listKey(name, kind, value)); err != nil {
		return fmt.Errorf("delete list entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.set(name)
	delete(s.exact[kind], value)
	if kind == KindIP {
		kept := s.cidrs[:0]
		for _, c := range s.cidrs {
			if c.entry.Value != value {
				kept = append(kept, c)
			}
		}
		s.cidrs = kept
	}
	return nil
}

// Entries returns a snapshot of one list.
func (l *Lists) Entries(name ListName) []ListEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.set(name)
	var out []ListEntry
	for _, byValue := range s.exact {
		for _, e := range byValue {
			out = append(out, e)
		}
	}
	for _, c := range s.cidrs {
		out = append(out, c.entry)
	}
	return out
}

// Match checks a submission's IP, email and email domain against one list.
func (l *Lists) Match(name ListName, sub *threat.Submission) (ListEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.set(name)

	if sub.IP != "" {
		if e, ok := s.exact[KindIP][sub.IP]; ok {
			return e, true
		}
		if ip := net.ParseIP(sub.IP); ip != nil {
			for _, c := range s.cidrs {
				if c.net.Contains(ip) {
					return c.entry, true
				}
			}
		}
	}

	if email, ok := submissionEmail(sub); ok {
		if e, ok := s.exact[KindEmail][email]; ok {
			return e, true
		}
		if _, domain, ok := strings.Cut(email, "@"); ok {
			if e, ok := s.exact[KindDomain][domain]; ok {
				return e, true
			}
		}
	}

	if len(s.exact[KindDomain]) > 0 {
		for _, domain := range contentURLDomains(sub) {
			if e, ok := s.exact[KindDomain][domain]; ok {
				return e, true
			}
		}
	}

	if len(s.exact[KindHash]) > 0 {
		if e, ok := s.exact[KindHash][ContentHash(sub)]; ok {
			return e, true
		}
	}

	return ListEntry{}, false
}

// ContentHash returns the sha256 hex digest of the submission text,
// lowercased with whitespace runs collapsed so re-spacing a known payload
// does not dodge a hash listing.
func ContentHash(sub *threat.Submission) string {
	norm := strings.ToLower(strings.Join(strings.Fields(sub.AllText()), " "))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// contentURLDomains extracts the deduplicated hostnames of URLs found in any
// field value, with a leading www stripped.
func contentURLDomains(sub *threat.Submission) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, f := range sub.Fields {
		for _, raw := range contentURLRex.FindAllString(f.Value, -1) {
			host := strings.ToLower(raw)
			if i := strings.Index(host, "://"); i >= 0 {
				host = host[i+3:]
			}
			for _, sep := range []byte{'/', '?', '#', ':'} {
				if i := strings.IndexByte(host, sep); i >= 0 {
					host = host[:i]
				}
			}
			host = strings.TrimPrefix(host, "www.")
			if host == "" {
				continue
			}
			if _, dup := seen[host]; dup {
				continue
			}
			seen[host] = struct{}{}
			out = append(out, host)
		}
	}
	return out
}

func normalizeListValue(kind EntryKind, value string) string {
	value = strings.TrimSpace(value)
	if kind == KindEmail || kind == KindDomain || kind == KindHash {
		value = strings.ToLower(value)
	}
	return value
}

// submissionEmail extracts the first email-typed field value, lowercased.
func submissionEmail(sub *threat.Submission) (string, bool) {
	for _, f := range sub.Fields {
		if strings.Contains(strings.ToLower(f.Name), "email") {
			v := strings.ToLower(strings.TrimSpace(f.Value))
			if strings.Contains(v, "@") {
				return v, true
			}
		}
	}
	return "", false
}
