package tgui

import "unicode/utf8"

// TruncRunes cuts s to at most n runes and appends suffix when it had to cut.
func TruncRunes(s string, n int, suffix string) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + suffix
		}
		i++
	}
	return s
}
