// Package scrub removes credential material from text before it is persisted.
// Every upserted note, insight, session summary, and code chunk passes
// through here first.
package scrub

import "regexp"

// Sentinel replaces every matched secret.
const Sentinel = "[REDACTED]"

// pattern pairs a name (surfaced in redaction warnings) with its matcher.
type pattern struct {
	name string
	re   *regexp.Regexp
}

// Order matters: the specific vendor prefixes run before the generic
// assignment pattern so the redaction name is as precise as possible.
var patterns = []pattern{
	{"aws_access_key", regexp.MustCompile(`\b(A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}\b`)},
	{"aws_secret_key", regexp.MustCompile(`(?i)aws[_\-\s]?secret[_\-\s]?(access[_\-\s]?)?key["'\s:=]+[A-Za-z0-9/+=]{40}`)},
	{"github_pat", regexp.MustCompile(`\bghp_[A-Za-z0-9]{36,}\b`)},
	{"github_oauth", regexp.MustCompile(`\bgho_[A-Za-z0-9]{36,}\b`)},
	{"github_user_token", regexp.MustCompile(`\bghu_[A-Za-z0-9]{36,}\b`)},
	{"github_server_token", regexp.MustCompile(`\bghs_[A-Za-z0-9]{36,}\b`)},
	{"github_refresh_token", regexp.MustCompile(`\bghr_[A-Za-z0-9]{36,}\b`)},
	{"stripe_secret", regexp.MustCompile(`\bsk_(live|test)_[A-Za-z0-9]{10,}\b`)},
	{"stripe_publishable", regexp.MustCompile(`\bpk_(live|test)_[A-Za-z0-9]{10,}\b`)},
	{"slack_token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`)},
	{"private_key", regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY( BLOCK)?-----`)},
	{"anthropic_key", regexp.MustCompile(`\bsk-ant-[A-Za-z0-9\-_]{20,}\b`)},
	{"openai_key", regexp.MustCompile(`\bsk-(proj-)?[A-Za-z0-9]{20,}\b`)},
	{"generic_assignment", regexp.MustCompile(`(?i)\b(api[_-]?key|secret|password|token|auth)\b\s*[:=]\s*["'][^"'\n]{8,}["']`)},
}

// Result reports what a scrub pass did.
type Result struct {
	Text       string
	Redactions int
	Names      []string
}

// Clean replaces every secret match with the sentinel and reports the
// patterns that fired.
func Clean(text string) Result {
	result := Result{Text: text}
	for _, p := range patterns {
		if !p.re.MatchString(result.Text) {
			continue
		}
		count := len(p.re.FindAllStringIndex(result.Text, -1))
		result.Text = p.re.ReplaceAllString(result.Text, Sentinel)
		result.Redactions += count
		result.Names = append(result.Names, p.name)
	}
	return result
}

// Contains reports whether the text still matches any scrubbing pattern.
// Used by tests asserting the scrubbing invariant.
func Contains(text string) bool {
	for _, p := range patterns {
		if p.re.MatchString(text) {
			return true
		}
	}
	return false
}
