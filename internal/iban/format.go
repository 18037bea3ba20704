package iban

import "strings"

// Format groups a normalized IBAN into blocks of four separated by spaces
func Format(s string) string {
	s = Normalize(s)
	var b strings.Builder
	for i := 0; i < len(s); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		end := i + 4
		if end > len(s) {
			end = len(s)
		}
		b.WriteString(s[i:end])
	}
	return b.String()
}

// Mask hides everything but the country code and the last four characters.
// Use it whenever an IBAN goes to a log line.
func Mask(s string) string {
	const showLast = 4
	s = Normalize(s)
	if len(s) <= showLast+2 {
		return s
	}
	return s[:2] + strings.Repeat("*", len(s)-showLast-2) + s[len(s)-showLast:]
}

// CountryCode returns the two-letter prefix of a candidate IBAN, or "" if too short
func CountryCode(s string) string {
	s = Normalize(s)
	if len(s) < 2 {
		return ""
	}
	return s[:2]
}
