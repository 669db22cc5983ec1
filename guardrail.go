package orchestrator

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// maxContentLen caps message content in code points. Longer content is
// truncated, not rejected.
const maxContentLen = 50000

// truncationMarker is appended when content is cut at maxContentLen.
const truncationMarker = "... [TRUNCATED]"

// suspiciousPatterns flag content that tries to smuggle executable payloads
// through the model. Checked after normalization so composed lookalike
// characters cannot dodge the match.
var suspiciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script[^>]*>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)on\w+\s*=`),
	regexp.MustCompile(`(?i)eval\s*\(`),
	regexp.MustCompile(`(?i)exec\s*\(`),
}

// SanitizeText normalizes s to NFC, strips control characters (keeping
// \t \n \r), and truncates to maxContentLen code points with a marker.
// It never fails; use ValidateText where rejection is required.
func SanitizeText(s string) string {
	normalized := norm.NFC.String(s)

	var b strings.Builder
	b.Grow(len(normalized))
	kept := 0
	for _, r := range normalized {
		if strippedControl(r) {
			continue
		}
		if kept >= maxContentLen {
			b.WriteString(truncationMarker)
			return b.String()
		}
		b.WriteRune(r)
		kept++
	}
	return b.String()
}

// strippedControl reports whether r is a control character the sanitizer
// removes: C0 except tab/newline/carriage-return, plus DEL and C1.
func strippedControl(r rune) bool {
	switch r {
	case '\t', '\n', '\r':
		return false
	}
	return r <= 0x1f || (r >= 0x7f && r <= 0x9f)
}

// ValidateText sanitizes s and then rejects it outright if any suspicious
// pattern survives normalization. Returns the sanitized text on success.
func ValidateText(s string) (string, error) {
	clean := SanitizeText(s)
	for _, re := range suspiciousPatterns {
		if re.MatchString(clean) {
			return "", fmt.Errorf("suspicious content: pattern %q matched", re.String())
		}
	}
	return clean, nil
}

// MaskAPIKey renders a credential safe for logs and traces: first four and
// last four characters with the middle elided. Short or empty keys are
// fully redacted.
func MaskAPIKey(key string) string {
	if key == "" {
		return "[NO_KEY]"
	}
	if len(key) < 8 {
		return "[INVALID_KEY]"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// truncateStr truncates a string to n runes.
func truncateStr(s string, n int) string {
	// Fast path: byte length ≤ n guarantees rune count ≤ n,
	// avoiding the []rune allocation for short/ASCII strings.
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
