package rules

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loghawk/loghawk/internal/merge"
	"github.com/loghawk/loghawk/internal/models"
)

func observeN(agg *Aggregator, n int, content string, parsed ParsedLine) {
	for i := 0; i < n; i++ {
		agg.Observe(models.LogLine{Number: i + 1, Content: content}, parsed)
	}
}

func byCategory(findings []models.Finding, cat models.Category) []models.Finding {
	var out []models.Finding
	for _, f := range findings {
		if f.Category == cat {
			out = append(out, f)
		}
	}
	return out
}

func TestBruteForceThreshold(t *testing.T) {
	agg := NewAggregator()
	observeN(agg, 10, "Failed password for admin from 10.0.0.1",
		ParsedLine{IP: "10.0.0.1", Username: "admin"})

	findings := agg.Evaluate()
	brute := byCategory(findings, models.CategoryBruteForce)
	require.Len(t, brute, 1)
	assert.Equal(t, models.SeverityHigh, brute[0].Severity)
	assert.Equal(t, 0.9, brute[0].Confidence)
	assert.Equal(t, models.SourceRuleBased, brute[0].Source)
}

func TestBruteForceBelowThreshold(t *testing.T) {
	agg := NewAggregator()
	observeN(agg, 9, "Failed password for admin from 10.0.0.1",
		ParsedLine{IP: "10.0.0.1", Username: "admin"})

	assert.Empty(t, byCategory(agg.Evaluate(), models.CategoryBruteForce))
}

func TestPasswordSprayIndependentOfBruteForce(t *testing.T) {
	// Six failures against six accounts: too few for brute force, but the
	// username spread alone is a spray.
	agg := NewAggregator()
	for i := 0; i < 6; i++ {
		user := fmt.Sprintf("user%d", i)
		agg.Observe(
			models.LogLine{Number: i + 1, Content: "Failed password for " + user + " from 10.0.0.2"},
			ParsedLine{IP: "10.0.0.2", Username: user},
		)
	}

	findings := agg.Evaluate()
	assert.Empty(t, byCategory(findings, models.CategoryBruteForce))

	spray := byCategory(findings, models.CategoryPasswordSpray)
	require.Len(t, spray, 1)
	assert.Equal(t, models.SeverityCritical, spray[0].Severity)
	assert.Equal(t, 0.95, spray[0].Confidence)
}

func TestBruteForceAndSprayTogether(t *testing.T) {
	agg := NewAggregator()
	for i := 0; i < 12; i++ {
		user := fmt.Sprintf("user%d", i%6)
		agg.Observe(
			models.LogLine{Number: i + 1, Content: "Failed password for " + user + " from 10.0.0.3"},
			ParsedLine{IP: "10.0.0.3", Username: user},
		)
	}

	findings := agg.Evaluate()
	assert.Len(t, byCategory(findings, models.CategoryBruteForce), 1)
	assert.Len(t, byCategory(findings, models.CategoryPasswordSpray), 1)
}

func TestDirectoryEnumerationExactlyOneFinding(t *testing.T) {
	agg := NewAggregator()
	for i := 0; i < 25; i++ {
		path := fmt.Sprintf("/probe-%d", i)
		agg.Observe(
			models.LogLine{Number: i + 1, Content: fmt.Sprintf(`10.0.0.4 "GET %s HTTP/1.1" 404`, path)},
			ParsedLine{IP: "10.0.0.4", Path: path, Status: 404},
		)
	}

	enum := byCategory(agg.Evaluate(), models.CategoryDirectoryTraversal)
	require.Len(t, enum, 1)
	assert.Equal(t, models.SeverityHigh, enum[0].Severity)
	assert.Equal(t, 0.85, enum[0].Confidence)
}

func TestVolumeTiers(t *testing.T) {
	cases := []struct {
		total int
		want  models.Severity
	}{
		{100, models.SeverityMedium},
		{500, models.SeverityHigh},
		{1000, models.SeverityCritical},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d-requests", tc.total), func(t *testing.T) {
			agg := NewAggregator()
			observeN(agg, tc.total, `10.0.0.5 "GET / HTTP/1.1" 200`,
				ParsedLine{IP: "10.0.0.5", Status: 200})

			volume := byCategory(agg.Evaluate(), models.CategoryRateAnomaly)
			require.Len(t, volume, 1, "exactly one volume finding per IP")
			assert.Equal(t, tc.want, volume[0].Severity)
		})
	}
}

func TestVolumeBelowThreshold(t *testing.T) {
	agg := NewAggregator()
	observeN(agg, 99, `10.0.0.6 "GET / HTTP/1.1" 200`,
		ParsedLine{IP: "10.0.0.6", Status: 200})

	assert.Empty(t, agg.Evaluate())
}

func TestErrorRatio(t *testing.T) {
	agg := NewAggregator()
	observeN(agg, 8, `10.0.0.7 "GET /a HTTP/1.1" 500`,
		ParsedLine{IP: "10.0.0.7", Status: 500})
	for i := 0; i < 2; i++ {
		agg.Observe(models.LogLine{Number: 9 + i, Content: `10.0.0.7 "GET / HTTP/1.1" 200`},
			ParsedLine{IP: "10.0.0.7", Status: 200})
	}

	anomalies := byCategory(agg.Evaluate(), models.CategoryRateAnomaly)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "High error ratio", anomalies[0].Title)
	assert.Equal(t, models.SeverityHigh, anomalies[0].Severity)
}

func TestBurstWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agg := NewAggregator()
	for i := 0; i < 20; i++ {
		ts := base.Add(time.Duration(i) * 200 * time.Millisecond)
		agg.Observe(models.LogLine{Number: i + 1, Content: `10.0.0.8 "GET / HTTP/1.1" 200`},
			ParsedLine{IP: "10.0.0.8", Status: 200, Timestamp: &ts})
	}

	anomalies := byCategory(agg.Evaluate(), models.CategoryRateAnomaly)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "Request burst", anomalies[0].Title)
}

func TestBurstSpreadOut(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agg := NewAggregator()
	for i := 0; i < 20; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		agg.Observe(models.LogLine{Number: i + 1, Content: `10.0.0.9 "GET / HTTP/1.1" 200`},
			ParsedLine{IP: "10.0.0.9", Status: 200, Timestamp: &ts})
	}

	assert.Empty(t, agg.Evaluate())
}

func TestRateRulesFingerprintSeparately(t *testing.T) {
	// 100 error responses inside one 5s window trip volume, error ratio and
	// burst at once; each rule must survive fingerprinting as its own
	// finding.
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agg := NewAggregator()
	for i := 0; i < 100; i++ {
		ts := base.Add(time.Duration(i) * 40 * time.Millisecond)
		agg.Observe(
			models.LogLine{Number: i + 1, Content: `10.0.0.10 "GET /a HTTP/1.1" 500`},
			ParsedLine{IP: "10.0.0.10", Status: 500, Timestamp: &ts},
		)
	}

	anomalies := byCategory(agg.Evaluate(), models.CategoryRateAnomaly)
	require.Len(t, anomalies, 3)

	patterns := make(map[string]bool)
	prints := make(map[string]bool)
	for _, f := range merge.Assign(anomalies) {
		patterns[f.MatchedPattern] = true
		prints[f.Fingerprint] = true
	}
	assert.Len(t, patterns, 3, "each rule carries its own matched pattern")
	assert.Len(t, prints, 3, "no fingerprint collision between rules")
}

func TestLinesWithoutIPAreSkipped(t *testing.T) {
	agg := NewAggregator()
	observeN(agg, 50, "kernel: something happened", ParsedLine{})
	assert.Empty(t, agg.Evaluate())
}

func TestMaxInWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := []time.Time{
		base, base.Add(time.Second), base.Add(2 * time.Second),
		base.Add(10 * time.Second), base.Add(11 * time.Second),
	}
	assert.Equal(t, 3, maxInWindow(ts, 5*time.Second))
	assert.Equal(t, 5, maxInWindow(ts, time.Minute))
	assert.Equal(t, 0, maxInWindow(nil, time.Second))
}
