package rules

import (
	"regexp"
	"strconv"
	"time"
)

// ParsedLine holds the fields the aggregator cares about. Zero values mean
// the field was not present; a line with no IP is excluded from aggregation
// entirely.
type ParsedLine struct {
	IP        string
	Method    string
	Path      string
	Status    int
	Username  string
	UserAgent string
	Timestamp *time.Time
}

var (
	ipRe = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

	// Combined/common log format: METHOD PATH PROTO" STATUS
	requestRe = regexp.MustCompile(`"(GET|POST|PUT|DELETE|PATCH|HEAD|OPTIONS)\s+(\S+)(?:\s+HTTP/[\d.]+)?"\s+(\d{3})\b`)

	// key=value style used by application and auth logs
	kvIPRe     = regexp.MustCompile(`\b(?:ip|src|source|client)=("?)([\d.]+)("?)`)
	kvUserRe   = regexp.MustCompile(`\b(?:user|username|login|account)=("?)([^\s"]+)("?)`)
	kvStatusRe = regexp.MustCompile(`\bstatus=("?)(\d{3})("?)`)
	kvPathRe   = regexp.MustCompile(`\b(?:path|uri|url)=("?)(\S+?)("?)(?:\s|$)`)

	// sshd style: "Failed password for invalid user bob from 1.2.3.4"
	sshUserRe = regexp.MustCompile(`(?:for|user)\s+(?:invalid user\s+)?([A-Za-z0-9._-]+)\s+from\s+[\d.]+`)

	clfTimeRe = regexp.MustCompile(`\[([^\]]+)\]`)

	uaRe = regexp.MustCompile(`"[^"]*"\s+"([^"]+)"\s*$`)
)

var timeLayouts = []string{
	"02/Jan/2006:15:04:05 -0700",
	"02/Jan/2006:15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"Jan _2 15:04:05",
}

// ParseLine extracts the source IP, request fields, username and timestamp
// from one log line. It is deliberately permissive: it understands the
// combined access-log format, key=value application logs and sshd-style auth
// lines, and degrades to partial data for anything else.
func ParseLine(line string) ParsedLine {
	var p ParsedLine

	if m := kvIPRe.FindStringSubmatch(line); m != nil {
		p.IP = m[2]
	} else if m := ipRe.FindString(line); m != "" {
		p.IP = m
	}

	if m := requestRe.FindStringSubmatch(line); m != nil {
		p.Method = m[1]
		p.Path = m[2]
		p.Status, _ = strconv.Atoi(m[3])
	} else {
		if m := kvStatusRe.FindStringSubmatch(line); m != nil {
			p.Status, _ = strconv.Atoi(m[2])
		}
		if m := kvPathRe.FindStringSubmatch(line); m != nil {
			p.Path = m[2]
		}
	}

	if m := kvUserRe.FindStringSubmatch(line); m != nil {
		p.Username = m[2]
	} else if m := sshUserRe.FindStringSubmatch(line); m != nil {
		p.Username = m[1]
	}

	if m := uaRe.FindStringSubmatch(line); m != nil {
		p.UserAgent = m[1]
	}

	p.Timestamp = parseTimestamp(line)
	return p
}

func parseTimestamp(line string) *time.Time {
	candidates := []string{}
	if m := clfTimeRe.FindStringSubmatch(line); m != nil {
		candidates = append(candidates, m[1])
	}
	// ISO timestamps commonly lead the line
	fields := splitN(line, ' ', 2)
	if len(fields) > 0 {
		candidates = append(candidates, fields[0])
	}
	if len(fields) == 2 {
		candidates = append(candidates, fields[0]+" "+firstToken(fields[1]))
	}

	for _, c := range candidates {
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, c); err == nil {
				return &t
			}
		}
	}
	return nil
}

// isFailedAuth reports whether the line matches any of the authentication
// failure expressions.
func isFailedAuth(line string) bool {
	for _, re := range failedAuthRes {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func splitN(s string, sep byte, n int) []string {
	var out []string
	start := 0
	for i := 0; i < len(s) && len(out) < n-1; i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func firstToken(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			return s[:i]
		}
	}
	return s
}
