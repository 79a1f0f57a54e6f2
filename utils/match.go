package utils

// MatchName checks whether a name (an entity or definition name) matches a
// filter pattern. Patterns may include the wildcard '*', which matches any
// sequence of characters including none. A pattern without wildcards must
// match exactly.
func MatchName(value, pattern string) bool {
	if pattern == "*" {
		return true
	}
	return matchWildcard(value, pattern)
}

// matchWildcard runs a two-pointer scan with single-level backtracking over
// the last '*' seen, so patterns like "course.*" and "*-admin-*" both work.
func matchWildcard(value, pattern string) bool {
	vIdx, pIdx := 0, 0
	star := -1
	mark := 0

	for vIdx < len(value) {
		switch {
		case pIdx < len(pattern) && (pattern[pIdx] == value[vIdx]):
			vIdx++
			pIdx++
		case pIdx < len(pattern) && pattern[pIdx] == '*':
			star = pIdx
			mark = vIdx
			pIdx++
		case star != -1:
			pIdx = star + 1
			mark++
			vIdx = mark
		default:
			return false
		}
	}

	for pIdx < len(pattern) && pattern[pIdx] == '*' {
		pIdx++
	}
	return pIdx == len(pattern)
}
