package messaging

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// NormalizeE164 canonicalizes a phone number so that webhook senders and the
// numbers stored on listings compare equal. Numbers without a country code
// are interpreted in defaultRegion (e.g. "US", "IL").
func NormalizeE164(raw, defaultRegion string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if defaultRegion == "" {
		defaultRegion = "US"
	}
	parsed, err := phonenumbers.Parse(raw, defaultRegion)
	if err == nil && phonenumbers.IsValidNumber(parsed) {
		return phonenumbers.Format(parsed, phonenumbers.E164)
	}
	// Provider payloads occasionally carry formatting the parser rejects;
	// fall back to stripping everything but digits.
	digits := sanitizePhone(raw)
	if digits == "" {
		return ""
	}
	return "+" + digits
}

func sanitizePhone(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
