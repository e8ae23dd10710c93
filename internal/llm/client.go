package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loghawk/loghawk/internal/config"
	"github.com/loghawk/loghawk/internal/models"
	"github.com/loghawk/loghawk/internal/rules"
)

// Provider is the capability "contextual log analysis": send a prompt, get
// the model's raw text back. Concrete implementations exist per vendor.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// OverrideResolver is the interface to the settings collaborator that holds
// per-user provider configuration. The orchestrator never touches stored
// credentials directly; it only receives resolved overrides. A nil resolver
// (or a nil result) falls through to the environment default.
type OverrideResolver interface {
	Resolve(ctx context.Context, userID string) (*models.ProviderOverride, error)
}

// Orchestrator chunks log content and runs each chunk through the selected
// provider, normalizing responses into findings.
type Orchestrator struct {
	cfg      config.LLMConfig
	resolver OverrideResolver
	logger   *zap.Logger

	// newProvider is swappable in tests.
	newProvider func(cfg providerConfig) (Provider, error)
}

// Result carries the findings of one orchestrator run along with the
// per-chunk failures that degraded coverage. Failures are non-fatal by
// design.
type Result struct {
	Findings      []models.Finding
	ChunkFailures []*ProviderError
	TotalChunks   int
}

// NewOrchestrator builds an orchestrator over the default provider
// configuration.
func NewOrchestrator(cfg config.LLMConfig, resolver OverrideResolver, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:         cfg,
		resolver:    resolver,
		logger:      logger.Named("llm"),
		newProvider: buildProvider,
	}
}

// Analyze runs the LLM phase over the lines. Chunk-level failures are
// collected, not propagated: partial coverage beats no coverage. Only a
// fully unusable provider configuration returns an error.
func (o *Orchestrator) Analyze(ctx context.Context, userID string, lines []models.LogLine, override *models.ProviderOverride) (*Result, error) {
	pcfg, err := o.resolveConfig(ctx, userID, override)
	if err != nil {
		return nil, err
	}
	provider, err := o.newProvider(pcfg)
	if err != nil {
		return nil, err
	}

	chunks := SplitChunks(lines, o.cfg.ChunkSizeBytes)
	res := &Result{TotalChunks: len(chunks)}

	for _, chunk := range chunks {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		raw, err := provider.Complete(ctx, buildPrompt(chunk))
		if err != nil {
			perr := asProviderError(provider.Name(), err)
			res.ChunkFailures = append(res.ChunkFailures, perr)
			o.logger.Warn("chunk analysis failed",
				zap.String("provider", provider.Name()),
				zap.Int("start_line", chunk.StartLine),
				zap.String("kind", string(perr.Kind)))
			continue
		}
		findings, err := parseFindings(raw, chunk)
		if err != nil {
			res.ChunkFailures = append(res.ChunkFailures, &ProviderError{
				Provider: provider.Name(), Kind: KindGeneric,
			})
			o.logger.Warn("unparseable provider response",
				zap.String("provider", provider.Name()),
				zap.Int("start_line", chunk.StartLine),
				zap.Error(err))
			continue
		}
		res.Findings = append(res.Findings, findings...)
	}

	return res, nil
}

// providerConfig is the fully resolved provider selection.
type providerConfig struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

// resolveConfig applies the documented precedence: explicit override >
// stored per-user setting > environment default.
func (o *Orchestrator) resolveConfig(ctx context.Context, userID string, override *models.ProviderOverride) (providerConfig, error) {
	pcfg := providerConfig{
		Provider: o.cfg.Provider,
		APIKey:   o.cfg.APIKey,
		Model:    o.cfg.Model,
		BaseURL:  o.cfg.BaseURL,
		Timeout:  o.cfg.RequestTimeout,
	}

	if override == nil && o.resolver != nil {
		stored, err := o.resolver.Resolve(ctx, userID)
		if err != nil {
			o.logger.Warn("settings resolution failed, using environment default", zap.Error(err))
		} else {
			override = stored
		}
	}
	if override != nil {
		if override.Provider != "" {
			pcfg.Provider = override.Provider
			// A provider switch invalidates the default model/URL.
			pcfg.Model = override.Model
			pcfg.BaseURL = override.BaseURL
		}
		if override.APIKey != "" {
			pcfg.APIKey = override.APIKey
		}
		if override.Model != "" {
			pcfg.Model = override.Model
		}
		if override.BaseURL != "" {
			pcfg.BaseURL = override.BaseURL
		}
	}

	if pcfg.Provider == "" {
		return pcfg, fmt.Errorf("no LLM provider configured")
	}
	return pcfg, nil
}

// rawFinding is the JSON shape providers are prompted to return.
type rawFinding struct {
	Category    string  `json:"category"`
	Severity    string  `json:"severity"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Line        int     `json:"line"`
	Confidence  float64 `json:"confidence"`
}

// parseFindings normalizes one provider response into findings. Model output
// is untrusted: markdown fences are stripped, enums coerced, confidence
// clamped, line references bounded to the chunk.
func parseFindings(raw string, chunk Chunk) ([]models.Finding, error) {
	clean := cleanMarkdown(raw)
	start := strings.Index(clean, "[")
	end := strings.LastIndex(clean, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var parsed []rawFinding
	if err := json.Unmarshal([]byte(clean[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	var out []models.Finding
	for _, rf := range parsed {
		cat := normalizeCategory(rf.Category)
		sev := normalizeSeverity(rf.Severity)
		if rf.Title == "" && rf.Description == "" {
			continue
		}
		conf := rf.Confidence
		if conf <= 0 {
			conf = 0.6
		}
		if conf > 1 {
			conf = 1
		}
		line := rf.Line
		if line < chunk.StartLine || line > chunk.EndLine {
			line = 0
		}
		tactic, technique := rules.MITREForCategory(cat)
		out = append(out, models.Finding{
			Severity:       sev,
			Category:       cat,
			Title:          rf.Title,
			Description:    rf.Description,
			LineNumber:     line,
			Source:         models.SourceLLM,
			Confidence:     conf,
			MITRETactic:    tactic,
			MITRETechnique: technique,
		})
	}
	return out, nil
}

func normalizeCategory(s string) models.Category {
	c := models.Category(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", "_")))
	if c.Valid() {
		return c
	}
	switch {
	case strings.Contains(string(c), "SQL"):
		return models.CategorySQLInjection
	case strings.Contains(string(c), "XSS"), strings.Contains(string(c), "SCRIPT"):
		return models.CategoryXSS
	case strings.Contains(string(c), "BRUTE"):
		return models.CategoryBruteForce
	case strings.Contains(string(c), "SPRAY"):
		return models.CategoryPasswordSpray
	case strings.Contains(string(c), "TRAVERSAL"), strings.Contains(string(c), "ENUMERATION"):
		return models.CategoryDirectoryTraversal
	case strings.Contains(string(c), "COMMAND"), strings.Contains(string(c), "INJECTION"):
		return models.CategoryCommandInjection
	case strings.Contains(string(c), "AGENT"):
		return models.CategoryMaliciousUserAgent
	case strings.Contains(string(c), "PRIVILEGE"), strings.Contains(string(c), "ESCALATION"):
		return models.CategoryPrivilegeEscalation
	case strings.Contains(string(c), "EXFIL"):
		return models.CategoryDataExfiltration
	case strings.Contains(string(c), "RATE"), strings.Contains(string(c), "ANOMAL"):
		return models.CategoryRateAnomaly
	}
	return models.CategorySuspiciousStatus
}

func normalizeSeverity(s string) models.Severity {
	sev := models.Severity(strings.ToUpper(strings.TrimSpace(s)))
	if sev.Valid() {
		return sev
	}
	return models.SeverityMedium
}

func cleanMarkdown(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func asProviderError(provider string, err error) *ProviderError {
	if perr, ok := err.(*ProviderError); ok {
		return perr
	}
	return classifyError(provider, err)
}
