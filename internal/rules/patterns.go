package rules

import (
	"fmt"
	"regexp"

	"github.com/loghawk/loghawk/internal/models"
)

// Pattern is one declarative stateless detector: a compiled matcher plus the
// metadata stamped onto every finding it emits. The engine never inspects
// anything beyond this shape, so extending detection means adding entries,
// not code paths.
type Pattern struct {
	Label          string
	Category       models.Category
	Severity       models.Severity
	Confidence     float64
	Description    string
	Matcher        *regexp.Regexp
	MITRETactic    string
	MITRETechnique string
}

// Match reports whether the pattern fires on the line and returns the
// matched text.
func (p *Pattern) Match(line string) (string, bool) {
	m := p.Matcher.FindString(line)
	return m, m != ""
}

// failedAuthPatterns are the raw authentication-failure expressions. They
// are folded into the library at load time with synthetic labels so the
// engine sees a single uniform shape; the aggregator also uses them to count
// failed logins per source IP.
var failedAuthPatterns = []string{
	`(?i)login failed`,
	`(?i)failed login`,
	`(?i)authentication fail(ed|ure)`,
	`(?i)invalid password`,
	`(?i)failed password for`,
	`(?i)incorrect password`,
	`(?i)auth(entication)? error`,
}

var failedAuthRes = compileAll(failedAuthPatterns)

func compileAll(exprs []string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		res[i] = regexp.MustCompile(e)
	}
	return res
}

// Library returns the full pattern library: the typed entries for all ten
// pattern categories plus the failed-auth list promoted to uniform entries.
func Library() []*Pattern {
	lib := make([]*Pattern, 0, len(typedPatterns)+len(failedAuthRes))
	lib = append(lib, typedPatterns...)
	for i, re := range failedAuthRes {
		lib = append(lib, &Pattern{
			Label:          fmt.Sprintf("failed-auth-%d", i+1),
			Category:       models.CategoryBruteForce,
			Severity:       models.SeverityLow,
			Confidence:     0.5,
			Description:    "Single authentication failure; repeated failures from one source escalate via the statistical rules.",
			Matcher:        re,
			MITRETactic:    "Credential Access",
			MITRETechnique: "T1110",
		})
	}
	return lib
}

var typedPatterns = []*Pattern{
	// SQL injection
	{
		Label:          "sqli-union-select",
		Category:       models.CategorySQLInjection,
		Severity:       models.SeverityCritical,
		Confidence:     0.9,
		Description:    "UNION-based SQL injection attempt in request parameters.",
		Matcher:        regexp.MustCompile(`(?i)union([\s/*+%20]|%2b)+select`),
		MITRETactic:    "Initial Access",
		MITRETechnique: "T1190",
	},
	{
		Label:          "sqli-boolean",
		Category:       models.CategorySQLInjection,
		Severity:       models.SeverityHigh,
		Confidence:     0.8,
		Description:    "Boolean-based SQL injection probe (tautology in query string).",
		Matcher:        regexp.MustCompile(`(?i)('|%27)\s*(or|and)\s*('|%27)?\d+('|%27)?\s*=\s*('|%27)?\d+`),
		MITRETactic:    "Initial Access",
		MITRETechnique: "T1190",
	},
	{
		Label:          "sqli-comment",
		Category:       models.CategorySQLInjection,
		Severity:       models.SeverityHigh,
		Confidence:     0.7,
		Description:    "SQL comment sequence used to truncate a query.",
		Matcher:        regexp.MustCompile(`(?i)(--|%2d%2d|#|;)\s*(drop|delete|insert|update)\s`),
		MITRETactic:    "Initial Access",
		MITRETechnique: "T1190",
	},
	// XSS
	{
		Label:          "xss-script-tag",
		Category:       models.CategoryXSS,
		Severity:       models.SeverityHigh,
		Confidence:     0.85,
		Description:    "Script tag injection in request input.",
		Matcher:        regexp.MustCompile(`(?i)(<|%3c)script[\s>]?`),
		MITRETactic:    "Initial Access",
		MITRETechnique: "T1189",
	},
	{
		Label:          "xss-event-handler",
		Category:       models.CategoryXSS,
		Severity:       models.SeverityMedium,
		Confidence:     0.7,
		Description:    "Inline JavaScript event handler in request input.",
		Matcher:        regexp.MustCompile(`(?i)\bon(error|load|click|mouseover|focus)\s*=`),
		MITRETactic:    "Initial Access",
		MITRETechnique: "T1189",
	},
	{
		Label:          "xss-js-uri",
		Category:       models.CategoryXSS,
		Severity:       models.SeverityMedium,
		Confidence:     0.7,
		Description:    "javascript: URI scheme in request input.",
		Matcher:        regexp.MustCompile(`(?i)javascript\s*:`),
		MITRETactic:    "Initial Access",
		MITRETechnique: "T1189",
	},
	// Directory traversal
	{
		Label:          "traversal-dotdot",
		Category:       models.CategoryDirectoryTraversal,
		Severity:       models.SeverityHigh,
		Confidence:     0.85,
		Description:    "Path traversal sequence in requested path.",
		Matcher:        regexp.MustCompile(`(\.\./|\.\.\\|%2e%2e%2f|%2e%2e/|\.\.%2f)`),
		MITRETactic:    "Discovery",
		MITRETechnique: "T1083",
	},
	{
		Label:          "traversal-sensitive-file",
		Category:       models.CategoryDirectoryTraversal,
		Severity:       models.SeverityHigh,
		Confidence:     0.8,
		Description:    "Request for a sensitive system file.",
		Matcher:        regexp.MustCompile(`(?i)(/etc/passwd|/etc/shadow|boot\.ini|win\.ini|id_rsa)`),
		MITRETactic:    "Credential Access",
		MITRETechnique: "T1552",
	},
	// Command injection
	{
		Label:          "cmdi-shell-meta",
		Category:       models.CategoryCommandInjection,
		Severity:       models.SeverityCritical,
		Confidence:     0.8,
		Description:    "Shell metacharacters followed by a known binary in request input.",
		Matcher:        regexp.MustCompile(`(?i)(;|\||%3b|%7c|&&|\$\()\s*(cat|ls|id|whoami|wget|curl|nc|bash|sh|powershell)\b`),
		MITRETactic:    "Execution",
		MITRETechnique: "T1059",
	},
	{
		Label:          "cmdi-backtick",
		Category:       models.CategoryCommandInjection,
		Severity:       models.SeverityHigh,
		Confidence:     0.7,
		Description:    "Backtick command substitution in request input.",
		Matcher:        regexp.MustCompile("`[^`]+`"),
		MITRETactic:    "Execution",
		MITRETechnique: "T1059",
	},
	// Suspicious status codes
	{
		Label:          "status-server-error",
		Category:       models.CategorySuspiciousStatus,
		Severity:       models.SeverityLow,
		Confidence:     0.5,
		Description:    "Server error response; may indicate probing or a failing exploit.",
		Matcher:        regexp.MustCompile(`"\s(500|502|503)\s`),
		MITRETactic:    "",
		MITRETechnique: "",
	},
	{
		Label:          "status-forbidden-burst",
		Category:       models.CategorySuspiciousStatus,
		Severity:       models.SeverityInfo,
		Confidence:     0.4,
		Description:    "Forbidden response to a request; repeated denials suggest scanning.",
		Matcher:        regexp.MustCompile(`"\s403\s`),
		MITRETactic:    "",
		MITRETechnique: "",
	},
	// Rate anomaly markers in application logs
	{
		Label:          "rate-limit-hit",
		Category:       models.CategoryRateAnomaly,
		Severity:       models.SeverityLow,
		Confidence:     0.6,
		Description:    "Application reported a rate limit being hit.",
		Matcher:        regexp.MustCompile(`(?i)(rate limit (exceeded|hit)|too many requests|"\s429\s)`),
		MITRETactic:    "",
		MITRETechnique: "",
	},
	// Malicious user agents
	{
		Label:          "ua-scanner",
		Category:       models.CategoryMaliciousUserAgent,
		Severity:       models.SeverityMedium,
		Confidence:     0.9,
		Description:    "Known attack-tool user agent string.",
		Matcher:        regexp.MustCompile(`(?i)(sqlmap|nikto|nmap|masscan|dirbuster|gobuster|wpscan|hydra|metasploit|havij|acunetix)`),
		MITRETactic:    "Reconnaissance",
		MITRETechnique: "T1595",
	},
	{
		Label:          "ua-scripted-client",
		Category:       models.CategoryMaliciousUserAgent,
		Severity:       models.SeverityInfo,
		Confidence:     0.4,
		Description:    "Scripted HTTP client user agent; benign automation or low-effort scraping.",
		Matcher:        regexp.MustCompile(`(?i)"(python-requests|go-http-client|curl|wget)[^"]*"$`),
		MITRETactic:    "Reconnaissance",
		MITRETechnique: "T1595",
	},
	// Privilege escalation
	{
		Label:          "privesc-sudo-su",
		Category:       models.CategoryPrivilegeEscalation,
		Severity:       models.SeverityHigh,
		Confidence:     0.75,
		Description:    "Privilege elevation attempt recorded in the log line.",
		Matcher:        regexp.MustCompile(`(?i)((sudo:|su\[|sudo ).*\b(root|admin)\b|user NOT in sudoers)`),
		MITRETactic:    "Privilege Escalation",
		MITRETechnique: "T1548",
	},
	{
		Label:          "privesc-admin-path",
		Category:       models.CategoryPrivilegeEscalation,
		Severity:       models.SeverityMedium,
		Confidence:     0.6,
		Description:    "Request targeting an administrative interface.",
		Matcher:        regexp.MustCompile(`(?i)(/admin/|/administrator/|/wp-admin/|/phpmyadmin)`),
		MITRETactic:    "Privilege Escalation",
		MITRETechnique: "T1078",
	},
	// Data exfiltration
	{
		Label:          "exfil-db-dump",
		Category:       models.CategoryDataExfiltration,
		Severity:       models.SeverityCritical,
		Confidence:     0.8,
		Description:    "Request for a database dump or bulk export artifact.",
		Matcher:        regexp.MustCompile(`(?i)(\.sql|dump\.(zip|tar|gz)|backup\.(zip|tar|gz)|\bexport=all\b)`),
		MITRETactic:    "Exfiltration",
		MITRETechnique: "T1048",
	},
	{
		Label:          "exfil-base64-blob",
		Category:       models.CategoryDataExfiltration,
		Severity:       models.SeverityMedium,
		Confidence:     0.5,
		Description:    "Large base64 payload in a request parameter.",
		Matcher:        regexp.MustCompile(`[?&][a-zA-Z_]+=[A-Za-z0-9+/]{120,}={0,2}`),
		MITRETactic:    "Exfiltration",
		MITRETechnique: "T1048",
	},
}

// MITREForCategory returns the library's tactic/technique vocabulary for a
// category, used to give LLM findings a best-effort mapping.
func MITREForCategory(c models.Category) (tactic, technique string) {
	for _, p := range typedPatterns {
		if p.Category == c && p.MITRETactic != "" {
			return p.MITRETactic, p.MITRETechnique
		}
	}
	switch c {
	case models.CategoryBruteForce:
		return "Credential Access", "T1110"
	case models.CategoryPasswordSpray:
		return "Credential Access", "T1110.003"
	}
	return "", ""
}
