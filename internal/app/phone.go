package app

import "strings"

const groupSuffix = "@g.us"

// SanitizePhone keeps only digits, except for WhatsApp group ids which pass through trimmed.
func SanitizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, groupSuffix) {
		return raw
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
