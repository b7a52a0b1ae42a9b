package identity

import "strings"

// Similarity scores how closely two spoken names refer to the same person,
// in [0,1]. Tokens are compared independently so "Jane Smith" vs
// "Smith, Jane" still scores 1.0, and a per-token edit distance tolerates
// transcription typos ("Jane Smyth"). The threshold applied to this score
// is configuration, not an invariant; it was chosen empirically and
// should be recalibrated against real call data.
func Similarity(a, b string, typoDistance int) float64 {
	ta := nameTokens(a)
	tb := nameTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	used := make([]bool, len(tb))
	matched := 0
	for _, x := range ta {
		for j, y := range tb {
			if used[j] {
				continue
			}
			if tokensMatch(x, y, typoDistance) {
				used[j] = true
				matched++
				break
			}
		}
	}

	denom := len(ta)
	if len(tb) > denom {
		denom = len(tb)
	}
	return float64(matched) / float64(denom)
}

func nameTokens(name string) []string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,'-")
		if f == "" {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// tokensMatch treats tokens as equal when identical, or within the typo
// tolerance for tokens long enough that a small edit distance is unlikely
// to be a different name ("dan" vs "don" must not match).
func tokensMatch(a, b string, typoDistance int) bool {
	if a == b {
		return true
	}
	if typoDistance <= 0 {
		return false
	}
	if len(a) < 4 || len(b) < 4 {
		return false
	}
	return levenshtein(a, b) <= typoDistance
}

func levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func minInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
