// Package merge reconciles the rule engine's and the LLM orchestrator's
// finding streams into one deduplicated set.
package merge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/loghawk/loghawk/internal/models"
)

// Fingerprint derives the stable dedup key for a finding from its category,
// normalized match content and line identity. Identical input always yields
// the same fingerprint, which is what makes re-analysis idempotent.
func Fingerprint(f models.Finding) string {
	content := f.MatchedPattern
	if content == "" {
		content = f.LineContent
	}
	if content == "" {
		content = f.Title
	}
	key := fmt.Sprintf("%s|%s|%d", f.Category, normalize(content), f.LineNumber)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Assign stamps fingerprints on every finding that lacks one.
func Assign(findings []models.Finding) []models.Finding {
	for i := range findings {
		if findings[i].Fingerprint == "" {
			findings[i].Fingerprint = Fingerprint(findings[i])
		}
	}
	return findings
}

// Merge combines rule-based and LLM findings, dropping any finding whose
// fingerprint collides with a rule-based one (deterministic findings are
// trusted over model output) or is already in the persisted set. Output is
// ordered severity rank ascending then line number.
func Merge(ruleBased, llm []models.Finding, persisted map[string]bool) []models.Finding {
	seen := make(map[string]bool, len(persisted)+len(ruleBased))
	for fp := range persisted {
		seen[fp] = true
	}

	var out []models.Finding
	add := func(f models.Finding) {
		if f.Fingerprint == "" {
			f.Fingerprint = Fingerprint(f)
		}
		if seen[f.Fingerprint] {
			return
		}
		seen[f.Fingerprint] = true
		out = append(out, f)
	}

	for _, f := range ruleBased {
		add(f)
	}
	for _, f := range llm {
		add(f)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := out[i].Severity.Rank(), out[j].Severity.Rank(); ri != rj {
			return ri < rj
		}
		return out[i].LineNumber < out[j].LineNumber
	})
	return out
}
