package redact

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// key=value and key: value forms that show up in config dumps and URLs.
	secretKVRe = regexp.MustCompile(`(?i)\b(api[_-]?key|access[_-]?token|token|password)\b\s*[:=]\s*[^\s"'&]+`)
)

// Secrets removes obvious secret-bearing substrings from error and log strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := bearerTokenRe.ReplaceAllString(s, "Bearer <redacted>")
	out = secretKVRe.ReplaceAllString(out, "$1=<redacted>")
	return strings.TrimSpace(out)
}

// Truncate returns a single-line, redacted prefix of b at most max bytes long,
// suffixed with "..." when cut.
func Truncate(b []byte, max int) string {
	if len(b) == 0 {
		return ""
	}
	cut := b
	if len(cut) > max {
		end := max
		for end > 0 && !utf8.RuneStart(b[end]) {
			end--
		}
		cut = cut[:end]
	}
	s := Secrets(string(cut))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(b) > max {
		return s + "..."
	}
	return s
}
