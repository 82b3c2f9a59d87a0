// Package validation collects field-level input violations.
package validation

import (
	"strings"
	"unicode/utf8"
)

// Violations maps a field name to a machine-readable code.
type Violations map[string]string

func (v Violations) Empty() bool { return len(v) == 0 }

// Add records code for field unless the field already has a violation.
func (v Violations) Add(field, code string) {
	if _, exists := v[field]; !exists {
		v[field] = code
	}
}

// Required flags blank (whitespace only) values.
func Required(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v.Add(field, "required")
	}
}

// LengthBetween checks the rune length of value lies within [minLen, maxLen].
// An empty value reports "required" rather than "too_short".
func LengthBetween(field, value string, minLen, maxLen int, v Violations) {
	n := utf8.RuneCountInString(value)
	switch {
	case n == 0 && minLen > 0:
		v.Add(field, "required")
	case n < minLen:
		v.Add(field, "too_short")
	case n > maxLen:
		v.Add(field, "too_long")
	}
}

// Positive flags non-positive identifiers.
func Positive(field string, val int64, v Violations) {
	if val <= 0 {
		v.Add(field, "must_be_positive")
	}
}

// MaxLength flags values longer than maxLen runes.
func MaxLength(field, value string, maxLen int, v Violations) {
	if utf8.RuneCountInString(value) > maxLen {
		v.Add(field, "too_long")
	}
}
