// Package symbol normalizes equity tickers.
package symbol

import (
	"fmt"
	"strings"
)

const maxLen = 12

// Normalize upper-cases and trims raw and checks it looks like a ticker
// (letters, digits, '.', '-', '^'). Class shares such as BRK.B are allowed.
func Normalize(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("symbol is empty")
	}
	if len(s) > maxLen {
		return "", fmt.Errorf("symbol %q longer than %d", s, maxLen)
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '^':
		default:
			return "", fmt.Errorf("symbol %q has invalid character %q", s, r)
		}
	}
	return s, nil
}

// MustNormalize is Normalize for inputs already validated upstream.
func MustNormalize(raw string) string {
	s, err := Normalize(raw)
	if err != nil {
		return strings.ToUpper(strings.TrimSpace(raw))
	}
	return s
}
