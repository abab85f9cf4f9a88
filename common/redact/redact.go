// Package redact keeps credentials (OpenAI API keys, Matrix access tokens,
// Redis passwords) out of log lines and chat messages.
//
// Redaction is best-effort: it operates on string representations and relies
// on callers to pass the right set of sensitive terms.
package redact

import (
	"strings"
)

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
//
//	safe := redact.String(err.Error(), apiKey, matrixToken)
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Mask returns a form of secret safe to print in startup logs: the last
// four characters prefixed by asterisks, or "(unset)" when empty.
func Mask(secret string) string {
	switch {
	case secret == "":
		return "(unset)"
	case len(secret) <= 8:
		return placeholder
	default:
		return "****" + secret[len(secret)-4:]
	}
}
