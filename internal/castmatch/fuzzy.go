package castmatch

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/reelscout/pkg/types"
)

const defaultFuzzyThreshold = 0.9

// Fuzzy matches actor names that sound alike and are spelled alike, which
// absorbs recognition typos such as "Keanu Reevs" or "Lawrence Fishburne".
//
// Two names match when:
//
//  1. every token of the shorter name shares a Double Metaphone code with
//     some token of the longer name, and
//  2. the Jaro-Winkler similarity of the whole names (with or without
//     spaces) reaches the threshold.
//
// The per-token phonetic check keeps actors who merely share a first name
// apart. Exact normalised matches always score 1.
type Fuzzy struct {
	threshold float64
}

// NewFuzzy returns a Fuzzy identity. A threshold outside (0, 1] falls back
// to 0.9.
func NewFuzzy(threshold float64) Fuzzy {
	if threshold <= 0 || threshold > 1 {
		threshold = defaultFuzzyThreshold
	}
	return Fuzzy{threshold: threshold}
}

// Similarity implements [Identity].
func (f Fuzzy) Similarity(observed, billed string) float64 {
	o, b := types.NormalizeName(observed), types.NormalizeName(billed)
	if o == "" || b == "" {
		return 0
	}
	if o == b {
		return 1
	}

	ot, bt := strings.Fields(o), strings.Fields(b)
	if !phoneticCover(ot, bt) {
		return 0
	}

	score := matchr.JaroWinkler(o, b, false)
	if s := matchr.JaroWinkler(strings.Join(ot, ""), strings.Join(bt, ""), false); s > score {
		score = s
	}
	threshold := f.threshold
	if threshold == 0 {
		threshold = defaultFuzzyThreshold
	}
	if score < threshold {
		return 0
	}
	return score
}

// phoneticCover reports whether every token of the shorter slice has a
// phonetic code in common with at least one token of the other.
func phoneticCover(a, b []string) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	other := make([]map[string]struct{}, len(b))
	for i, t := range b {
		other[i] = codes(t)
	}
	for _, t := range a {
		mine := codes(t)
		found := false
		for _, theirs := range other {
			if overlap(mine, theirs) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// codes returns the non-empty Double Metaphone codes of token.
func codes(token string) map[string]struct{} {
	out := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(token)
	if p != "" {
		out[p] = struct{}{}
	}
	if s != "" {
		out[s] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) bool {
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
