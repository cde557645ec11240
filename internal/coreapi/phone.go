package coreapi

import "strings"

// NormalizePhone coerces a dialed number toward E.164. Ten-digit national
// numbers get the +1 country code; numbers that are neither ten nor eleven
// digits are returned stripped but otherwise untouched.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	normalized := b.String()
	if strings.HasPrefix(normalized, "+") {
		return normalized
	}
	switch {
	case len(normalized) == 10:
		return "+1" + normalized
	case len(normalized) == 11 && strings.HasPrefix(normalized, "1"):
		return "+" + normalized
	}
	return normalized
}

// FormatPhone renders a normalized North American number for display.
func FormatPhone(phone string) string {
	n := NormalizePhone(phone)
	if strings.HasPrefix(n, "+1") && len(n) == 12 {
		return "+1 (" + n[2:5] + ") " + n[5:8] + "-" + n[8:]
	}
	return n
}
