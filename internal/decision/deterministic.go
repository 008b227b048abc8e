package decision

import (
	"context"

	"github.com/MrWong99/reelscout/pkg/types"
)

// Rules parameterises the rules-based check.
type Rules struct {
	// Floor is the effective score the top candidate must exceed.
	Floor float64

	// Margin is the lead over the runner-up the top candidate must exceed.
	// A lone candidate's lead is its own score.
	Margin float64

	// MinStreak is the number of consecutive passes the top candidate must
	// have led. Values below 2 disable the streak rule.
	MinStreak int

	// AcceptScore lets a top candidate at or above it skip the streak and
	// continuity rules. Zero disables immediate acceptance.
	AcceptScore float64

	// MinContinuity is the number of consecutive leading passes whose best
	// chunk must move forward through the title. Values below 2 disable the
	// rule.
	MinContinuity int

	// PositionMargin is the tolerance around a one-chunk step. A step from
	// position p to q counts as forward when q >= p and |q-p-1| <= margin.
	PositionMargin int

	// Window enables giving up early: once Window passes have been decided,
	// a below-floor pass abstains when the mean top score over the last
	// Window passes does not exceed Floor. Zero disables it.
	Window int
}

// evaluate applies the rules to candidates and returns Committed or
// Continue, or Abstained when the score window has been below the floor.
func (r Rules) evaluate(candidates []types.Candidate, s Summary) types.Decision {
	if len(candidates) == 0 {
		return types.Decision{Outcome: types.Continue, Reason: ReasonNoCandidates}
	}
	top := candidates[0]
	score := top.Effective()
	if score <= r.Floor {
		if r.windowBelowFloor(s.RecentTop) {
			return types.Decision{Outcome: types.Abstained, Reason: ReasonLowScores}
		}
		return types.Decision{Outcome: types.Continue, Reason: ReasonBelowFloor}
	}
	var second float64
	if len(candidates) > 1 {
		second = candidates[1].Effective()
	}
	if score-second <= r.Margin {
		return types.Decision{Outcome: types.Continue, Reason: ReasonNarrowMargin}
	}
	if !(r.AcceptScore > 0 && score >= r.AcceptScore) {
		if r.MinStreak > 1 && (s.Leader != top.Media || s.Streak < r.MinStreak) {
			return types.Decision{Outcome: types.Continue, Reason: ReasonStreak}
		}
		if r.MinContinuity > 1 && (s.Leader != top.Media || r.continuity(s.LeaderPositions) < r.MinContinuity) {
			return types.Decision{Outcome: types.Continue, Reason: ReasonContinuity}
		}
	}
	return types.Decision{
		Outcome:    types.Committed,
		Media:      top.Media,
		Confidence: clamp01(score),
		Reason:     ReasonAccepted,
	}
}

// continuity counts the trailing run of forward steps in positions, the
// latest position included. Empty input yields 0.
func (r Rules) continuity(positions []int) int {
	if len(positions) == 0 {
		return 0
	}
	run := 1
	for i := len(positions) - 1; i > 0; i-- {
		delta := positions[i] - positions[i-1]
		if delta < 0 || abs(delta-1) > r.PositionMargin {
			break
		}
		run++
	}
	return run
}

// windowBelowFloor reports whether the last Window top scores are all in and
// their mean does not exceed Floor.
func (r Rules) windowBelowFloor(recent []float64) bool {
	if r.Window <= 0 || len(recent) < r.Window {
		return false
	}
	var sum float64
	for _, v := range recent[len(recent)-r.Window:] {
		sum += v
	}
	return sum/float64(r.Window) <= r.Floor
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Deterministic is the rules-based [Decider].
type Deterministic struct {
	rules Rules
}

// NewDeterministic returns a Deterministic decider applying r.
func NewDeterministic(r Rules) *Deterministic {
	return &Deterministic{rules: r}
}

// Decide commits to the top candidate when it clears the floor, the margin
// and (if enabled) the streak and continuity rules. Otherwise it returns
// Continue, or Abstained when the score window or the budget is spent.
func (d *Deterministic) Decide(_ context.Context, candidates []types.Candidate, s Summary) (types.Decision, error) {
	return orAbstain(d.rules.evaluate(candidates, s), s), nil
}

var _ Decider = (*Deterministic)(nil)
