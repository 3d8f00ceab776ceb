package util

import "strings"

// Truncate shortens s to at most max runes, appending an ellipsis when content
// was cut. max values below 4 return the untruncated prefix without ellipsis.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max < 4 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// ContainsAny reports whether the lowercase form of s contains any of the
// given keywords. Used by routing and profile heuristics.
func ContainsAny(s string, keywords ...string) bool {
	lower := strings.ToLower(s)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// MatchKeywords returns how many of the given keywords occur in the lowercase
// form of s.
func MatchKeywords(s string, keywords []string) int {
	lower := strings.ToLower(s)
	count := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			count++
		}
	}
	return count
}
