package models

import "time"

// Severity levels for findings. Rank 0 is the most severe so that sorting
// ascending by rank puts CRITICAL first.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

var severityRanks = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:     4,
}

// Rank returns the sort rank of the severity. Unknown severities sort last.
func (s Severity) Rank() int {
	if r, ok := severityRanks[s]; ok {
		return r
	}
	return len(severityRanks)
}

// Valid reports whether s is one of the defined severity levels.
func (s Severity) Valid() bool {
	_, ok := severityRanks[s]
	return ok
}

// Category classifies a finding.
type Category string

const (
	CategorySQLInjection        Category = "SQL_INJECTION"
	CategoryXSS                 Category = "XSS"
	CategoryBruteForce          Category = "BRUTE_FORCE"
	CategoryPasswordSpray       Category = "PASSWORD_SPRAY"
	CategoryDirectoryTraversal  Category = "DIRECTORY_TRAVERSAL"
	CategoryCommandInjection    Category = "COMMAND_INJECTION"
	CategorySuspiciousStatus    Category = "SUSPICIOUS_STATUS"
	CategoryRateAnomaly         Category = "RATE_ANOMALY"
	CategoryMaliciousUserAgent  Category = "MALICIOUS_USER_AGENT"
	CategoryPrivilegeEscalation Category = "PRIVILEGE_ESCALATION"
	CategoryDataExfiltration    Category = "DATA_EXFILTRATION"
)

// Categories lists all defined categories.
var Categories = []Category{
	CategorySQLInjection,
	CategoryXSS,
	CategoryBruteForce,
	CategoryPasswordSpray,
	CategoryDirectoryTraversal,
	CategoryCommandInjection,
	CategorySuspiciousStatus,
	CategoryRateAnomaly,
	CategoryMaliciousUserAgent,
	CategoryPrivilegeEscalation,
	CategoryDataExfiltration,
}

// Valid reports whether c is one of the defined categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Source identifies which analysis phase produced a finding.
type Source string

const (
	SourceRuleBased Source = "RULE_BASED"
	SourceLLM       Source = "LLM"
)

// Finding is one detected security-relevant event or pattern. It is the
// in-flight representation used by the rule engine, the LLM orchestrator and
// the merger before persistence.
type Finding struct {
	Severity       Severity   `json:"severity"`
	Category       Category   `json:"category"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	LineNumber     int        `json:"line_number,omitempty"`
	LineContent    string     `json:"line_content,omitempty"`
	MatchedPattern string     `json:"matched_pattern,omitempty"`
	Source         Source     `json:"source"`
	Fingerprint    string     `json:"fingerprint"`
	Confidence     float64    `json:"confidence,omitempty"`
	MITRETactic    string     `json:"mitre_tactic,omitempty"`
	MITRETechnique string     `json:"mitre_technique,omitempty"`
	EventTime      *time.Time `json:"event_time,omitempty"`
}

// LogLine is one line of an uploaded log file with its 1-based position.
type LogLine struct {
	Number  int
	Content string
}

// ProviderOverride carries per-request LLM provider configuration. Precedence
// is explicit override > stored per-user setting > environment default.
type ProviderOverride struct {
	Provider string `json:"provider"`
	APIKey   string `json:"apiKey"`
	Model    string `json:"model,omitempty"`
	BaseURL  string `json:"baseUrl,omitempty"`
}
