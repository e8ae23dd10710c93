package rules

import (
	"fmt"
	"sort"
	"time"

	"github.com/loghawk/loghawk/internal/models"
)

// Statistical thresholds evaluated over the per-IP aggregation state after
// the full pass. The aggregation state lives only for one engine run and is
// never persisted.
const (
	bruteForceThreshold     = 10
	sprayUserThreshold      = 5
	notFoundThreshold       = 20
	volumeMediumThreshold   = 100
	volumeHighThreshold     = 500
	volumeCriticalThreshold = 1000
	errorRatioThreshold     = 0.8
	errorRatioMinTotal      = 10
	burstWindow             = 5 * time.Second
	burstThreshold          = 20
)

// ipStats accumulates everything the statistical rules need for one source
// IP.
type ipStats struct {
	total         int
	errors        int
	notFound      int
	notFoundPaths map[string]struct{}
	failedAuth    int
	usernames     map[string]struct{}
	timestamps    []time.Time
	firstLine     int
	lastSeen      *time.Time
}

// Aggregator builds per-IP statistics across one upload's lines.
type Aggregator struct {
	ips map[string]*ipStats
}

// NewAggregator returns an empty aggregator for one engine run.
func NewAggregator() *Aggregator {
	return &Aggregator{ips: make(map[string]*ipStats)}
}

// Observe feeds one parsed line into the per-IP state. Lines without a
// recognizable IP are skipped; they still face the stateless matchers in the
// engine pass.
func (a *Aggregator) Observe(line models.LogLine, parsed ParsedLine) {
	if parsed.IP == "" {
		return
	}
	st, ok := a.ips[parsed.IP]
	if !ok {
		st = &ipStats{
			notFoundPaths: make(map[string]struct{}),
			usernames:     make(map[string]struct{}),
			firstLine:     line.Number,
		}
		a.ips[parsed.IP] = st
	}

	st.total++
	if parsed.Status >= 400 {
		st.errors++
	}
	if parsed.Status == 404 {
		st.notFound++
		if parsed.Path != "" {
			st.notFoundPaths[parsed.Path] = struct{}{}
		}
	}
	if isFailedAuth(line.Content) {
		st.failedAuth++
		if parsed.Username != "" {
			st.usernames[parsed.Username] = struct{}{}
		}
	}
	if parsed.Timestamp != nil {
		st.timestamps = append(st.timestamps, *parsed.Timestamp)
		st.lastSeen = parsed.Timestamp
	}
}

// Evaluate runs every statistical rule against the accumulated state and
// returns the resulting findings. An IP triggering several rules yields one
// finding per rule. IPs are walked in sorted order so identical input
// produces identical output.
func (a *Aggregator) Evaluate() []models.Finding {
	ips := make([]string, 0, len(a.ips))
	for ip := range a.ips {
		ips = append(ips, ip)
	}
	sort.Strings(ips)

	var findings []models.Finding
	for _, ip := range ips {
		st := a.ips[ip]
		findings = append(findings, a.evaluateIP(ip, st)...)
	}
	return findings
}

func (a *Aggregator) evaluateIP(ip string, st *ipStats) []models.Finding {
	var out []models.Finding

	if st.failedAuth >= bruteForceThreshold {
		out = append(out, statFinding(ip, st, "brute-force",
			models.CategoryBruteForce, models.SeverityHigh, 0.9,
			"Brute force attack",
			fmt.Sprintf("%d failed authentication attempts from %s", st.failedAuth, ip),
			"Credential Access", "T1110",
		))
	}

	// Independent of the brute-force count: few failures against many
	// accounts is its own signal.
	if len(st.usernames) >= sprayUserThreshold {
		out = append(out, statFinding(ip, st, "password-spray",
			models.CategoryPasswordSpray, models.SeverityCritical, 0.95,
			"Password spray attack",
			fmt.Sprintf("%s targeted %d distinct usernames", ip, len(st.usernames)),
			"Credential Access", "T1110.003",
		))
	}

	if st.notFound >= notFoundThreshold {
		out = append(out, statFinding(ip, st, "dir-enumeration",
			models.CategoryDirectoryTraversal, models.SeverityHigh, 0.85,
			"Directory enumeration",
			fmt.Sprintf("%d not-found responses (%d distinct paths) for requests from %s", st.notFound, len(st.notFoundPaths), ip),
			"Discovery", "T1083",
		))
	}

	if f, ok := a.volumeFinding(ip, st); ok {
		out = append(out, f)
	}

	if st.total >= errorRatioMinTotal {
		ratio := float64(st.errors) / float64(st.total)
		if ratio >= errorRatioThreshold {
			out = append(out, statFinding(ip, st, "rate-error-ratio",
				models.CategoryRateAnomaly, models.SeverityHigh, 0.8,
				"High error ratio",
				fmt.Sprintf("%.0f%% of %d requests from %s returned errors", ratio*100, st.total, ip),
				"", "",
			))
		}
	}

	if peak := maxInWindow(st.timestamps, burstWindow); peak >= burstThreshold {
		out = append(out, statFinding(ip, st, "rate-burst",
			models.CategoryRateAnomaly, models.SeverityHigh, 0.85,
			"Request burst",
			fmt.Sprintf("%d requests from %s within a %s window", peak, ip, burstWindow),
			"", "",
		))
	}

	return out
}

// volumeFinding returns at most one finding for total request volume; the
// highest tier wins.
func (a *Aggregator) volumeFinding(ip string, st *ipStats) (models.Finding, bool) {
	var sev models.Severity
	switch {
	case st.total >= volumeCriticalThreshold:
		sev = models.SeverityCritical
	case st.total >= volumeHighThreshold:
		sev = models.SeverityHigh
	case st.total >= volumeMediumThreshold:
		sev = models.SeverityMedium
	default:
		return models.Finding{}, false
	}
	return statFinding(ip, st, "rate-volume",
		models.CategoryRateAnomaly, sev, 0.8,
		"High request volume",
		fmt.Sprintf("%d total requests from %s", st.total, ip),
		"", "",
	), true
}

// statFinding builds one statistical finding. The matched pattern is keyed by
// the rule label, not the category, so rules sharing a category still
// fingerprint apart while staying stable across runs.
func statFinding(ip string, st *ipStats, label string, cat models.Category, sev models.Severity, conf float64, title, desc, tactic, technique string) models.Finding {
	f := models.Finding{
		Severity:       sev,
		Category:       cat,
		Title:          title,
		Description:    desc,
		LineNumber:     st.firstLine,
		MatchedPattern: fmt.Sprintf("%s:%s", label, ip),
		Source:         models.SourceRuleBased,
		Confidence:     conf,
		MITRETactic:    tactic,
		MITRETechnique: technique,
		EventTime:      st.lastSeen,
	}
	return f
}

// maxInWindow returns the largest number of timestamps falling inside any
// sliding window of the given width.
func maxInWindow(ts []time.Time, window time.Duration) int {
	if len(ts) == 0 {
		return 0
	}
	sorted := make([]time.Time, len(ts))
	copy(sorted, ts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	best := 0
	left := 0
	for right := range sorted {
		for sorted[right].Sub(sorted[left]) > window {
			left++
		}
		if n := right - left + 1; n > best {
			best = n
		}
	}
	return best
}
