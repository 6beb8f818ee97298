package messaging

import (
	"errors"
	"strings"
)

// NormalizeE164 canonicalizes a phone number to E.164 so thread lookups by
// phone always hit the same document. Ten-digit numbers are assumed US.
func NormalizeE164(raw string) (string, error) {
	digits := sanitizePhone(raw)
	switch {
	case digits == "":
		return "", errors.New("messaging: empty phone number")
	case len(digits) == 10:
		return "+1" + digits, nil
	case len(digits) == 11 && strings.HasPrefix(digits, "1"):
		return "+" + digits, nil
	case len(digits) >= 11 && len(digits) <= 15:
		return "+" + digits, nil
	default:
		return "", errors.New("messaging: invalid phone number " + raw)
	}
}

func sanitizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
