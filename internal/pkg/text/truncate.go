package text

import "unicode/utf8"

// Truncate keeps at most max runes of s and appends an ellipsis when it cuts.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for pos := range s {
		if n == max {
			return s[:pos] + "…"
		}
		n++
	}
	return s
}
