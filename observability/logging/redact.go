package logging

import "strings"

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

// Fingerprint keeps the last four characters of a secret so operators can tell
// credentials apart. Admin tokens, signatures and keys never reach logs whole.
func Fingerprint(value string) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) <= 8 {
		return RedactedValue
	}
	return "..." + trimmed[len(trimmed)-4:]
}
