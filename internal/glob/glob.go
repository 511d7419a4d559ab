// Package glob implements wildcard pattern matching for model identifiers
// and payload rule matchers. Patterns support `*` (any substring, including
// empty) and `?` (exactly one byte); every other byte matches literally.
package glob

// Match reports whether text matches pattern. Matching is byte-oriented and
// case-sensitive. An empty pattern matches only empty text; a pattern made of
// `*` alone matches everything.
func Match(pattern, text string) bool {
	var pi, ti int
	starPi, starTi := -1, 0

	for ti < len(text) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == text[ti]):
			pi++
			ti++
		case pi < len(pattern) && pattern[pi] == '*':
			starPi, starTi = pi, ti
			pi++
		case starPi >= 0:
			// Backtrack: let the last `*` swallow one more byte.
			pi = starPi + 1
			starTi++
			ti = starTi
		default:
			return false
		}
	}

	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
