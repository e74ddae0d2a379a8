// Package piimask masks personally identifiable information in strings and
// arbitrarily nested structured data. It is pure and stateless: callers get
// back a masked copy, inputs are never mutated.
package piimask

import (
	"regexp"
	"strings"
)

// Redacted is the replacement value for fields whose name marks them sensitive.
const Redacted = "***REDACTED***"

// Patterns for PII detection. Card numbers are matched before phone numbers
// so that a 13-16 digit run is not partially consumed as a 10-digit phone.
var (
	cardPattern    = regexp.MustCompile(`\b\d{13,16}\b`)
	phonePattern   = regexp.MustCompile(`\b\d{10}\b|\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`)
	emailPattern   = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	panPattern     = regexp.MustCompile(`\b[A-Z]{5}\d{4}[A-Z]\b`)
	aadhaarPattern = regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)
)

// sensitiveKeywords lists substrings that mark a field name as sensitive.
// Comparison is case-insensitive.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// maskMiddle keeps the first and last two characters visible and replaces
// the rest with asterisks. Values too short to mask meaningfully become "***".
func maskMiddle(s string) string {
	if len(s) < 4 {
		return "***"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

// MaskPhone masks phone numbers in text, e.g. 9876543210 -> 98******10.
func MaskPhone(text string) string {
	return phonePattern.ReplaceAllStringFunc(text, maskMiddle)
}

// MaskEmail masks email addresses in text, e.g. user@example.com -> us***@example.com.
func MaskEmail(text string) string {
	return emailPattern.ReplaceAllStringFunc(text, func(email string) string {
		local, domain, ok := strings.Cut(email, "@")
		if !ok || len(local) < 2 {
			return "***"
		}
		return local[:2] + "***@" + domain
	})
}

// MaskCard masks card-like digit sequences (13-16 digits).
func MaskCard(text string) string {
	return cardPattern.ReplaceAllStringFunc(text, maskMiddle)
}

// MaskPAN masks Indian PAN identifiers (AAAAA9999A).
func MaskPAN(text string) string {
	return panPattern.ReplaceAllStringFunc(text, maskMiddle)
}

// MaskAadhaar masks Aadhaar identifiers (12 digits, optionally grouped in fours).
func MaskAadhaar(text string) string {
	return aadhaarPattern.ReplaceAllStringFunc(text, maskMiddle)
}

// MaskText applies all pattern-based masks to text.
func MaskText(text string) string {
	if text == "" {
		return text
	}
	text = MaskCard(text)
	text = MaskAadhaar(text)
	text = MaskPhone(text)
	text = MaskEmail(text)
	text = MaskPAN(text)
	return text
}

// IsSensitiveKey reports whether a field name indicates sensitive data.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// MaskMap returns a copy of data with PII masked. Values under sensitive
// field names are fully redacted regardless of content; string values are
// pattern-masked; nested maps and slices are processed recursively.
func MaskMap(data map[string]any) map[string]any {
	if len(data) == 0 {
		return data
	}
	masked := make(map[string]any, len(data))
	for k, v := range data {
		if IsSensitiveKey(k) {
			masked[k] = Redacted
			continue
		}
		masked[k] = maskValue(v)
	}
	return masked
}

// MaskSlice returns a copy of items with PII masked in each element.
func MaskSlice(items []any) []any {
	if len(items) == 0 {
		return items
	}
	masked := make([]any, len(items))
	for i, v := range items {
		masked[i] = maskValue(v)
	}
	return masked
}

func maskValue(v any) any {
	switch val := v.(type) {
	case string:
		return MaskText(val)
	case map[string]any:
		return MaskMap(val)
	case []any:
		return MaskSlice(val)
	default:
		return v
	}
}

// MaskUserID partially masks a user identifier for audit records,
// e.g. "svc-operator-1" -> "sv***-1". Short IDs become "***".
func MaskUserID(userID string) string {
	if len(userID) <= 4 {
		return "***"
	}
	return userID[:2] + "***" + userID[len(userID)-2:]
}
