package rules

import (
	"go.uber.org/zap"

	"github.com/loghawk/loghawk/internal/models"
)

// Engine applies the pattern library line by line and the statistical rules
// over the per-IP aggregate state. It holds no state across runs; Analyze is
// safe for concurrent use.
type Engine struct {
	library   []*Pattern
	allowlist *Allowlist
	logger    *zap.Logger
}

// NewEngine builds an engine over the given pattern library. A nil allowlist
// disables suppression.
func NewEngine(library []*Pattern, allowlist *Allowlist, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{library: library, allowlist: allowlist, logger: logger.Named("rules")}
}

// Analyze runs the full rule pass over the ordered lines of one upload:
// stateless matchers per line plus per-IP aggregation, then the statistical
// rules. Deterministic for identical input.
func (e *Engine) Analyze(lines []models.LogLine) []models.Finding {
	agg := NewAggregator()
	var findings []models.Finding

	for _, line := range lines {
		parsed := ParseLine(line.Content)
		agg.Observe(line, parsed)

		for _, p := range e.library {
			match, ok := p.Match(line.Content)
			if !ok {
				continue
			}
			if e.allowlist.Contains(match) {
				e.logger.Debug("suppressed allowlisted match",
					zap.String("label", p.Label), zap.String("match", match))
				continue
			}
			f := models.Finding{
				Severity:       p.Severity,
				Category:       p.Category,
				Title:          p.Label,
				Description:    p.Description,
				LineNumber:     line.Number,
				LineContent:    truncate(line.Content, 500),
				MatchedPattern: match,
				Source:         models.SourceRuleBased,
				Confidence:     p.Confidence,
				MITRETactic:    p.MITRETactic,
				MITRETechnique: p.MITRETechnique,
				EventTime:      parsed.Timestamp,
			}
			findings = append(findings, f)
		}
	}

	stats := agg.Evaluate()
	e.logger.Debug("rule pass complete",
		zap.Int("lines", len(lines)),
		zap.Int("pattern_findings", len(findings)),
		zap.Int("statistical_findings", len(stats)))

	return append(findings, stats...)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
