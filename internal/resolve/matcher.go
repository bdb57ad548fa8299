package resolve

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// phoneticBoost is the share of the remaining distance to 1.0 granted to a
// candidate whose Double Metaphone codes overlap with the query's.
const phoneticBoost = 0.25

// Matcher ranks candidate names by similarity to a free-form speaker name.
//
// A verbatim match always wins, then a case-insensitive one. Otherwise each candidate is
// scored with Jaro-Winkler similarity using three strategies (full string,
// space-stripped, best token pair) and nudged upward when any token of the
// query sounds like any token of the candidate. The Matcher is stateless and
// safe for concurrent use.
type Matcher struct{}

// Best returns the index and score of the candidate most similar to query.
// Ties are broken in favour of the earliest candidate. It returns -1 when
// candidates is empty.
func (Matcher) Best(query string, candidates []string) (index int, score float64) {
	index = -1
	if len(candidates) == 0 {
		return index, 0
	}

	for i, c := range candidates {
		if c == query {
			return i, 1
		}
	}

	q := strings.ToLower(strings.TrimSpace(query))
	for i, c := range candidates {
		if strings.ToLower(strings.TrimSpace(c)) == q {
			return i, 1
		}
	}

	qTokens := strings.Fields(q)
	qCodes := codesForTokens(qTokens)

	for i, c := range candidates {
		s := score1(q, qTokens, qCodes, c)
		if index == -1 || s > score {
			index, score = i, s
		}
	}
	return index, score
}

// Score returns the similarity of query and candidate in [0, 1].
func (Matcher) Score(query, candidate string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == strings.ToLower(strings.TrimSpace(candidate)) {
		return 1
	}
	tokens := strings.Fields(q)
	return score1(q, tokens, codesForTokens(tokens), candidate)
}

func score1(q string, qTokens []string, qCodes map[string]struct{}, candidate string) float64 {
	c := strings.ToLower(strings.TrimSpace(candidate))
	if q == "" || c == "" {
		return 0
	}
	cTokens := strings.Fields(c)
	s := bestJWScore(qTokens, cTokens, q, c)
	if codesOverlap(qCodes, codesForTokens(cTokens)) {
		s += (1 - s) * phoneticBoost
	}
	// Only a case-folded exact match may reach 1.0.
	if s >= 1 {
		s = 0.999
	}
	return s
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (too short, or no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity over the full strings,
// the space-stripped strings and every token pair.
func bestJWScore(inputTokens, nameTokens []string, inputFull, nameFull string) float64 {
	score := matchr.JaroWinkler(inputFull, nameFull, false)

	if len(inputTokens) > 1 || len(nameTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(nameTokens, ""), false); s > score {
			score = s
		}
	}

	for _, it := range inputTokens {
		for _, nt := range nameTokens {
			if s := matchr.JaroWinkler(it, nt, false); s > score {
				score = s
			}
		}
	}
	return score
}
