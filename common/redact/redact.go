// Package redact strips sensitive values (the Matrix access token, the
// OpenAI API key) from strings before they reach log output. Redaction is
// best-effort text replacement; keeping secrets out of log call-sites in
// the first place is still the rule.
package redact

import "strings"

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}
