// Package iban validates International Bank Account Numbers.
package iban

import (
	"strings"
	"unicode"
)

// FailureReason describes why a candidate IBAN was rejected
type FailureReason string

const (
	// ReasonNone is set on valid results
	ReasonNone FailureReason = ""
	// InvalidCountryCode means the first two characters are not a registered country
	InvalidCountryCode FailureReason = "InvalidCountryCode"
	// InvalidFormat covers length and character class violations
	InvalidFormat FailureReason = "InvalidFormat"
	// ChecksumFailed means the mod-97 check did not yield 1
	ChecksumFailed FailureReason = "ChecksumFailed"
)

// Result is the outcome of validating a candidate IBAN
type Result struct {
	Valid      bool          `json:"is_valid"`
	Normalized string        `json:"normalized_iban"`
	Reason     FailureReason `json:"failure_reason,omitempty"`
}

// Normalize strips whitespace and common separators and uppercases the rest
func Normalize(candidate string) string {
	var b strings.Builder
	b.Grow(len(candidate))
	for _, r := range candidate {
		if unicode.IsSpace(r) {
			continue
		}
		switch r {
		case '-', '.', '/', '_', ':':
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// Validate normalizes a candidate IBAN and checks country length, format and checksum.
// It has no side effects.
func Validate(candidate string) Result {
	normalized := Normalize(candidate)
	result := Result{Normalized: normalized}

	if len(normalized) < 2 {
		result.Reason = InvalidFormat
		return result
	}

	expected, ok := countryLengths[normalized[:2]]
	if !ok {
		result.Reason = InvalidCountryCode
		return result
	}
	if len(normalized) != expected {
		result.Reason = InvalidFormat
		return result
	}

	if !wellFormed(normalized) {
		result.Reason = InvalidFormat
		return result
	}

	if mod97(normalized) != 1 {
		result.Reason = ChecksumFailed
		return result
	}

	result.Valid = true
	return result
}

// wellFormed checks the character classes: 2 letters, 2 digits, alphanumeric remainder
func wellFormed(s string) bool {
	if !isLetter(s[0]) || !isLetter(s[1]) {
		return false
	}
	if !isDigit(s[2]) || !isDigit(s[3]) {
		return false
	}
	for i := 4; i < len(s); i++ {
		if !isLetter(s[i]) && !isDigit(s[i]) {
			return false
		}
	}
	return true
}

// mod97 computes the ISO 7064 remainder of the rearranged IBAN.
// Letters expand to two digits (A=10 ... Z=35); the remainder is folded
// digit by digit so arbitrarily long inputs never overflow.
func mod97(s string) int {
	rearranged := s[4:] + s[:4]
	remainder := 0
	for i := 0; i < len(rearranged); i++ {
		c := rearranged[i]
		if isDigit(c) {
			remainder = (remainder*10 + int(c-'0')) % 97
			continue
		}
		v := int(c-'A') + 10
		remainder = (remainder*100 + v) % 97
	}
	return remainder
}

func isLetter(c byte) bool {
	return c >= 'A' && c <= 'Z'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
