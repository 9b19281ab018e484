// Package normalize holds the pure identifier normalization helpers used for
// contact matching: phone numbers to digits-only international form, and
// case-insensitive handle comparison.
package normalize

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// minPhoneDigits is the shortest digit run treated as a phone number.
const minPhoneDigits = 5

// Phone converts a raw phone string to digits-only international form
// (e.g. "0151 1234 5678" in region DE becomes "4915112345678").
// Returns "" when raw does not look like a phone number.
func Phone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	digits := onlyDigits(raw)
	if len(digits) < minPhoneDigits {
		return ""
	}

	// Already international without a leading '+': national numbers carry a
	// trunk prefix or are shorter than a full international number.
	if !strings.HasPrefix(raw, "+") && !strings.HasPrefix(digits, "0") && len(digits) >= 11 {
		raw = "+" + digits
	}

	if region != "" || strings.HasPrefix(raw, "+") {
		if num, err := phonenumbers.Parse(raw, strings.ToUpper(region)); err == nil {
			if e164 := phonenumbers.Format(num, phonenumbers.E164); e164 != "" {
				return strings.TrimPrefix(e164, "+")
			}
		}
	}

	switch {
	case strings.HasPrefix(raw, "+"):
		return digits
	case strings.HasPrefix(digits, "00"):
		return digits[2:]
	default:
		return digits
	}
}

// Phones normalizes every raw value, dropping empties and duplicates while
// keeping first-seen order.
func Phones(region string, raws ...string) []string {
	seen := make(map[string]bool, len(raws))
	var out []string
	for _, raw := range raws {
		n := Phone(raw, region)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
