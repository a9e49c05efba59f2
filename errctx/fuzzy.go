package errctx

// fuzzyMatch finds the single best candidate for target among
// candidates using a longest-common-subsequence-based similarity,
// returning ok=false if nothing clears the 0.5 cutoff. Per Design
// Notes §9 this is a small pure function with a documented threshold
// rather than a wrapper around a sequence-matching library's internals.
func fuzzyMatch(target string, candidates []string) (string, bool) {
	best := ""
	bestScore := 0.0
	for _, c := range candidates {
		score := similarity(target, c)
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	if bestScore >= 0.5 {
		return best, true
	}
	return "", false
}

// similarity is 2*LCS(a,b) / (len(a)+len(b)), matching difflib's
// SequenceMatcher ratio for the common case of no repeated-block
// weighting — the documented cutoff (0.5) is calibrated against this
// formula, not against library-specific internals.
func similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	l := lcsLength(a, b)
	return 2.0 * float64(l) / float64(len(a)+len(b))
}

func lcsLength(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
