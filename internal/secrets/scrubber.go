// Package secrets redacts credential material from audit records before they
// leave the process. Tool parameters and justifications originate from
// telemetry producers and policy configuration, either of which can embed
// tokens or connection strings by accident.
package secrets

import (
	"fmt"
	"regexp"
)

// Rule pairs a stable identifier with a detection pattern. The identifier
// appears in the redaction marker so operators can tell what was removed.
type Rule struct {
	ID      string
	Pattern *regexp.Regexp
}

// DefaultRules covers the credential shapes most likely to leak through
// remediation parameters and justifications.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "aws-access-key", Pattern: regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`)},
		{ID: "bearer-token", Pattern: regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]{16,}=*`)},
		{ID: "private-key", Pattern: regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
		{ID: "connection-string", Pattern: regexp.MustCompile(`\b[a-z][a-z0-9+]*://[^/\s:@]+:[^@\s]+@`)},
		{ID: "assigned-secret", Pattern: regexp.MustCompile(`(?i)\b(password|passwd|secret|token|api_key|apikey)\s*[=:]\s*\S{6,}`)},
	}
}

// Scrubber applies redaction rules to strings. Immutable after construction
// and safe for concurrent use.
type Scrubber struct {
	rules []Rule
}

// New builds a Scrubber. With no rules given, DefaultRules are used.
func New(rules ...Rule) *Scrubber {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Scrubber{rules: rules}
}

// Scrub replaces every rule match with a redaction marker and reports how
// many replacements were made.
func (s *Scrubber) Scrub(content string) (string, int) {
	var total int
	for _, rule := range s.rules {
		matches := rule.Pattern.FindAllStringIndex(content, -1)
		if len(matches) == 0 {
			continue
		}
		total += len(matches)
		content = rule.Pattern.ReplaceAllString(content, fmt.Sprintf("[REDACTED:%s]", rule.ID))
	}
	return content, total
}
