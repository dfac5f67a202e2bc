// FormWarden - Multi-Signal Form Abuse Detection
// Copyright 2026 FormWarden Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formwarden/formwarden

package analytics

import (
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/formwarden/formwarden/internal/threat"
)

// ReportFormat selects the report rendering.
type ReportFormat string

const (
	FormatJSON     ReportFormat = "json"
	FormatMarkdown ReportFormat = "markdown"
	FormatHTML     ReportFormat = "html"
)

// Report wraps a stats snapshot with generation metadata.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	Stats       Stats     `json:"stats"`
}

// BuildReport renders the current stats in the requested format.
func (c *Collector) BuildReport(format ReportFormat) (body []byte, contentType string, err error) {
	r := Report{GeneratedAt: time.Now().UTC(), Stats: c.Snapshot()}
	switch format {
	case FormatJSON, "":
		body, err = json.MarshalIndent(r, "", "  ")
		return body, "application/json", err
	case FormatMarkdown:
		return []byte(r.markdown()), "text/markdown; charset=utf-8", nil
	case FormatHTML:
		return r.html()
	default:
		return nil, "", fmt.Errorf("unknown report format %q", format)
	}
}

func (r *Report) markdown() string {
	var b strings.Builder
	s := r.Stats
	fmt.Fprintf(&b, "# FormWarden Detection Report\n\n")
	fmt.Fprintf(&b, "Generated: %s | Uptime: %s\n\n", r.GeneratedAt.Format(time.RFC3339), s.Uptime)
	fmt.Fprintf(&b, "## Decisions\n\n")
	fmt.Fprintf(&b, "| Action | Count |\n|---|---|\n")
	for _, a := range sortedActionKeys(s) {
		fmt.Fprintf(&b, "| %s | %d |\n", a, s.ByAction[a])
	}
	fmt.Fprintf(&b, "\nTotal: %d submissions\n\n", s.Total)
	fmt.Fprintf(&b, "## Confidence (recent window of %d)\n\n", s.WindowSize)
	fmt.Fprintf(&b, "p50 %.2f | p90 %.2f | p99 %.2f | avg processing %.2fms\n\n",
		s.ConfidenceP50, s.ConfidenceP90, s.ConfidenceP99, s.AvgProcessingMs)
	fmt.Fprintf(&b, "## Threat Types\n\n| Type | Count |\n|---|---|\n")
	for _, t := range sortedTypeKeys(s) {
		fmt.Fprintf(&b, "| %s | %d |\n", t, s.ByThreatType[t])
	}
	if len(s.TopFlaggedIPs) > 0 {
		fmt.Fprintf(&b, "\n## Top Flagged IPs\n\n| IP | Count |\n|---|---|\n")
		for _, e := range s.TopFlaggedIPs {
			fmt.Fprintf(&b, "| %s | %d |\n", e.IP, e.Count)
		}
	}
	return b.String()
}

var htmlReportTmpl = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html><head><title>FormWarden Report</title>
<style>body{font-family:sans-serif;margin:2em}table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:4px 10px}</style>
</head><body>
<h1>FormWarden Detection Report</h1>
<p>Generated {{.GeneratedAt.Format "2006-01-02 15:04:05 UTC"}} &mdash; uptime {{.Stats.Uptime}}</p>
<h2>Decisions</h2>
<table><tr><th>Action</th><th>Count</th></tr>
{{range $a, $n := .Stats.ByAction}}<tr><td>{{$a}}</td><td>{{$n}}</td></tr>{{end}}
</table>
<p>Total: {{.Stats.Total}} submissions. Window p50 {{printf "%.2f" .Stats.ConfidenceP50}},
p90 {{printf "%.2f" .Stats.ConfidenceP90}}, p99 {{printf "%.2f" .Stats.ConfidenceP99}}.</p>
<h2>Threat Types</h2>
<table><tr><th>Type</th><th>Count</th></tr>
{{range $t, $n := .Stats.ByThreatType}}<tr><td>{{$t}}</td><td>{{$n}}</td></tr>{{end}}
</table>
{{if .Stats.TopFlaggedIPs}}<h2>Top Flagged IPs</h2>
<table><tr><th>IP</th><th>Count</th></tr>
{{range .Stats.TopFlaggedIPs}}<tr><td>{{.IP}}</td><td>{{.Count}}</td></tr>{{end}}
</table>{{end}}
</body></html>`))

func (r *Report) html() ([]byte, string, error) {
	var b strings.Builder
	if err := htmlReportTmpl.Execute(&b, r); err != nil {
		return nil, "", fmt.Errorf("render html report: %w", err)
	}
	return []byte(b.String()), "text/html; charset=utf-8", nil
}

func sortedActionKeys(s Stats) []threat.Action {
	keys := make([]threat.Action, 0, len(s.ByAction))
	for a := range s.ByAction {
		keys = append(keys, a)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedTypeKeys(s Stats) []threat.Type {
	keys := make([]threat.Type, 0, len(s.ByThreatType))
	for t := range s.ByThreatType {
		keys = append(keys, t)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
