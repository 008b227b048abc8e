// Package rank turns raw retrieval hits into ranked title candidates.
//
// [Filter] collapses scored transcript chunks into one [types.Candidate] per
// title and keeps the best K. [Boost] folds cast corroboration into the
// retrieval score for the deterministic decision strategy.
package rank

import (
	"cmp"
	"slices"

	"github.com/MrWong99/reelscout/pkg/types"
)

// FilterOptions tunes [Filter].
type FilterOptions struct {
	// TopK caps the number of returned candidates. Zero or negative means no cap.
	TopK int

	// MinScore drops chunks scoring strictly below it before deduplication.
	// Zero disables the gate.
	MinScore float64
}

// Filter groups chunks by media identity, keeping for each title the chunk
// with the highest score, and returns the candidates in descending score order
// truncated to opts.TopK.
//
// Ordering is stable: titles with equal scores keep the relative order in
// which each title first appeared in chunks, whichever of its chunks scored
// best. Negative scores are clamped to 0.
func Filter(chunks []types.ScoredChunk, opts FilterOptions) []types.Candidate {
	if len(chunks) == 0 {
		return nil
	}

	index := make(map[types.MediaID]int, len(chunks))
	out := make([]types.Candidate, 0, len(chunks))
	for _, sc := range chunks {
		score := max(sc.Score, 0)
		if opts.MinScore > 0 && score < opts.MinScore {
			continue
		}
		id := sc.Chunk.Media
		if i, ok := index[id]; ok {
			if score > out[i].Score {
				out[i].Score = score
				out[i].BestChunk = sc.Chunk
			}
			continue
		}
		index[id] = len(out)
		out = append(out, types.Candidate{
			Media:     id,
			Score:     score,
			BestChunk: sc.Chunk,
		})
	}

	slices.SortStableFunc(out, func(a, b types.Candidate) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if opts.TopK > 0 && len(out) > opts.TopK {
		out = out[:opts.TopK]
	}
	return out
}

// Boost sets BoostedScore = Score + weight*MatchConfidence on every candidate
// and re-orders them stably by the boosted score. Negative weights and
// confidences are treated as 0, so boosting never lowers a score.
//
// The input slice is not modified.
func Boost(candidates []types.Candidate, weight float64) []types.Candidate {
	w := max(weight, 0)
	out := slices.Clone(candidates)
	for i := range out {
		out[i].BoostedScore = out[i].Score + w*max(out[i].MatchConfidence, 0)
		out[i].Boosted = true
	}
	slices.SortStableFunc(out, func(a, b types.Candidate) int {
		return cmp.Compare(b.BoostedScore, a.BoostedScore)
	})
	return out
}
