// Package decision turns a pass's ranked candidates into a single verdict:
// commit to a title, keep collecting evidence, or give up.
//
// Two strategies implement [Decider]. [Deterministic] applies score floor,
// margin, streak and position continuity rules to the (boosted) candidate
// list, and gives up early when recent top scores stay below the floor. [Assisted] runs
// the same rules first and, when they are inconclusive, asks a language
// model to arbitrate between the top candidates.
//
// Both strategies return [types.Abstained] once the session's pass or time
// budget is spent without a commit. An unusable model response is never an
// error; it degrades to [types.Continue].
package decision

import (
	"context"
	"time"

	"github.com/MrWong99/reelscout/pkg/types"
)

// Reason codes reported in [types.Decision.Reason].
const (
	ReasonAccepted     = "accepted"
	ReasonNoCandidates = "no_candidates"
	ReasonBelowFloor   = "below_floor"
	ReasonNarrowMargin = "narrow_margin"
	ReasonStreak       = "awaiting_streak"
	ReasonContinuity   = "awaiting_continuity"
	ReasonLowScores    = "low_scores"
	ReasonBudget       = "budget_exhausted"
	ReasonModelMatch   = "model_match"
	ReasonModelRequery = "model_requery"
	ReasonModelEnd     = "model_end"
	ReasonUnusable     = "unusable_response"
)

// Decider chooses the outcome of one pipeline pass. candidates arrive ranked
// best first. Implementations must be safe for concurrent use.
type Decider interface {
	Decide(ctx context.Context, candidates []types.Candidate, s Summary) (types.Decision, error)
}

// Summary is the session context a [Decider] sees alongside the candidates.
type Summary struct {
	// Transcript is the accumulated final transcript.
	Transcript string

	// Observations are the actors seen so far, strongest first.
	Observations []types.ActorObservation

	// Pass is the 1-based number of the pass being decided.
	Pass int

	// Elapsed is the time since the session started.
	Elapsed time.Duration

	// MaxPasses and MaxDuration are the session budget. Zero disables a limit.
	MaxPasses   int
	MaxDuration time.Duration

	// Leader is the current top candidate and Streak the number of
	// consecutive passes, including this one, it has been on top.
	Leader types.MediaID
	Streak int

	// LeaderPositions are the best-chunk positions of Leader in the passes
	// of its current streak, oldest first.
	LeaderPositions []int

	// RecentTop are the top effective scores of the most recent passes,
	// this one included, oldest first. A pass without candidates counts 0.
	RecentTop []float64
}

// Exhausted reports whether this is the last pass the budget allows.
func (s Summary) Exhausted() bool {
	if s.MaxPasses > 0 && s.Pass >= s.MaxPasses {
		return true
	}
	return s.MaxDuration > 0 && s.Elapsed >= s.MaxDuration
}

// orAbstain converts an undecided verdict into Abstained when the budget is
// spent.
func orAbstain(d types.Decision, s Summary) types.Decision {
	if d.Outcome == types.Continue && s.Exhausted() {
		return types.Decision{Outcome: types.Abstained, Reason: ReasonBudget}
	}
	return d
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
