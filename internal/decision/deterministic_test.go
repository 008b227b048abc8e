package decision

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/reelscout/pkg/types"
)

var (
	matrix = types.MediaID{Kind: types.KindMovie, ID: "603"}
	office = types.MediaID{Kind: types.KindTV, ID: "2316"}
)

func cands(scores ...float64) []types.Candidate {
	ids := []types.MediaID{matrix, office, {Kind: types.KindMovie, ID: "949"}}
	out := make([]types.Candidate, len(scores))
	for i, s := range scores {
		out[i] = types.Candidate{Media: ids[i], Score: s}
	}
	return out
}

func TestDeterministic_Decide(t *testing.T) {
	t.Parallel()

	rules := Rules{Floor: 0.5, Margin: 0.2}
	budget := Summary{Pass: 1, MaxPasses: 10, MaxDuration: time.Minute}

	tests := []struct {
		name       string
		rules      Rules
		candidates []types.Candidate
		summary    Summary
		want       types.Outcome
		wantReason string
	}{
		{name: "clear winner", rules: rules, candidates: cands(0.91, 0.40), summary: budget, want: types.Committed, wantReason: ReasonAccepted},
		{name: "close contenders", rules: rules, candidates: cands(0.55, 0.52), summary: budget, want: types.Continue, wantReason: ReasonNarrowMargin},
		{name: "below floor", rules: rules, candidates: cands(0.45), summary: budget, want: types.Continue, wantReason: ReasonBelowFloor},
		{name: "lone candidate", rules: rules, candidates: cands(0.75), summary: budget, want: types.Committed},
		{name: "no candidates", rules: rules, summary: budget, want: types.Continue, wantReason: ReasonNoCandidates},
		{
			name:       "pass budget spent",
			rules:      rules,
			candidates: cands(0.55, 0.52),
			summary:    Summary{Pass: 10, MaxPasses: 10},
			want:       types.Abstained,
			wantReason: ReasonBudget,
		},
		{
			name:       "time budget spent",
			rules:      rules,
			summary:    Summary{Pass: 2, Elapsed: 2 * time.Minute, MaxDuration: time.Minute},
			want:       types.Abstained,
			wantReason: ReasonBudget,
		},
		{
			name:       "commit wins over spent budget",
			rules:      rules,
			candidates: cands(0.91, 0.40),
			summary:    Summary{Pass: 10, MaxPasses: 10},
			want:       types.Committed,
		},
		{
			name:       "streak not reached",
			rules:      Rules{Floor: 0.5, Margin: 0.2, MinStreak: 2},
			candidates: cands(0.91, 0.40),
			summary:    Summary{Pass: 1, Leader: matrix, Streak: 1},
			want:       types.Continue,
			wantReason: ReasonStreak,
		},
		{
			name:       "streak reached",
			rules:      Rules{Floor: 0.5, Margin: 0.2, MinStreak: 2},
			candidates: cands(0.91, 0.40),
			summary:    Summary{Pass: 2, Leader: matrix, Streak: 2},
			want:       types.Committed,
		},
		{
			name:       "streak belongs to another title",
			rules:      Rules{Floor: 0.5, Margin: 0.2, MinStreak: 2},
			candidates: cands(0.91, 0.40),
			summary:    Summary{Pass: 3, Leader: office, Streak: 3},
			want:       types.Continue,
			wantReason: ReasonStreak,
		},
		{
			name:       "accept score skips streak",
			rules:      Rules{Floor: 0.5, Margin: 0.2, MinStreak: 3, AcceptScore: 0.9},
			candidates: cands(0.95, 0.40),
			summary:    Summary{Pass: 1, Leader: matrix, Streak: 1},
			want:       types.Committed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := NewDeterministic(tt.rules).Decide(context.Background(), tt.candidates, tt.summary)
			if err != nil {
				t.Fatalf("Decide: %v", err)
			}
			if d.Outcome != tt.want {
				t.Fatalf("Outcome = %v (%s), want %v", d.Outcome, d.Reason, tt.want)
			}
			if tt.wantReason != "" && d.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", d.Reason, tt.wantReason)
			}
			if d.Outcome == types.Committed && d.Media != tt.candidates[0].Media {
				t.Errorf("Media = %v, want %v", d.Media, tt.candidates[0].Media)
			}
		})
	}
}

func TestDeterministic_Continuity(t *testing.T) {
	t.Parallel()

	rules := Rules{Floor: 0.5, Margin: 0.2, MinContinuity: 2, PositionMargin: 3}

	tests := []struct {
		name       string
		rules      Rules
		summary    Summary
		want       types.Outcome
		wantReason string
	}{
		{
			name:       "first sighting",
			rules:      rules,
			summary:    Summary{Pass: 1, Leader: matrix, Streak: 1, LeaderPositions: []int{12}},
			want:       types.Continue,
			wantReason: ReasonContinuity,
		},
		{
			name:    "next chunk",
			rules:   rules,
			summary: Summary{Pass: 2, Leader: matrix, Streak: 2, LeaderPositions: []int{12, 13}},
			want:    types.Committed,
		},
		{
			name:    "same chunk within margin",
			rules:   rules,
			summary: Summary{Pass: 2, Leader: matrix, Streak: 2, LeaderPositions: []int{12, 12}},
			want:    types.Committed,
		},
		{
			name:       "jump past margin",
			rules:      rules,
			summary:    Summary{Pass: 2, Leader: matrix, Streak: 2, LeaderPositions: []int{12, 30}},
			want:       types.Continue,
			wantReason: ReasonContinuity,
		},
		{
			name:       "backwards",
			rules:      rules,
			summary:    Summary{Pass: 2, Leader: matrix, Streak: 2, LeaderPositions: []int{12, 10}},
			want:       types.Continue,
			wantReason: ReasonContinuity,
		},
		{
			name:    "run restarts after a break",
			rules:   Rules{Floor: 0.5, Margin: 0.2, MinContinuity: 3, PositionMargin: 1},
			summary: Summary{Pass: 4, Leader: matrix, Streak: 4, LeaderPositions: []int{3, 40, 41, 43}},
			want:    types.Committed,
		},
		{
			name:       "positions of another leader",
			rules:      rules,
			summary:    Summary{Pass: 2, Leader: office, Streak: 2, LeaderPositions: []int{1, 2}},
			want:       types.Continue,
			wantReason: ReasonContinuity,
		},
		{
			name:    "accept score skips continuity",
			rules:   Rules{Floor: 0.5, Margin: 0.2, MinContinuity: 2, AcceptScore: 0.9},
			summary: Summary{Pass: 1, Leader: matrix, Streak: 1, LeaderPositions: []int{12}},
			want:    types.Committed,
		},
		{
			name:    "disabled",
			rules:   Rules{Floor: 0.5, Margin: 0.2, MinContinuity: 1},
			summary: Summary{Pass: 1, Leader: matrix, Streak: 1},
			want:    types.Committed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := NewDeterministic(tt.rules).Decide(context.Background(), cands(0.91, 0.40), tt.summary)
			if err != nil {
				t.Fatalf("Decide: %v", err)
			}
			if d.Outcome != tt.want {
				t.Fatalf("Outcome = %v (%s), want %v", d.Outcome, d.Reason, tt.want)
			}
			if tt.wantReason != "" && d.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", d.Reason, tt.wantReason)
			}
		})
	}
}

func TestDeterministic_ScoreWindow(t *testing.T) {
	t.Parallel()

	rules := Rules{Floor: 0.5, Margin: 0.2, Window: 3}

	tests := []struct {
		name       string
		rules      Rules
		candidates []types.Candidate
		recent     []float64
		want       types.Outcome
		wantReason string
	}{
		{
			name:       "window not full",
			rules:      rules,
			candidates: cands(0.2),
			recent:     []float64{0.1, 0.2},
			want:       types.Continue,
			wantReason: ReasonBelowFloor,
		},
		{
			name:       "mean below floor",
			rules:      rules,
			candidates: cands(0.2),
			recent:     []float64{0.3, 0.1, 0.2},
			want:       types.Abstained,
			wantReason: ReasonLowScores,
		},
		{
			name:       "only the last passes count",
			rules:      rules,
			candidates: cands(0.45),
			recent:     []float64{0.1, 0.1, 0.9, 0.4, 0.45},
			want:       types.Continue,
			wantReason: ReasonBelowFloor,
		},
		{
			name:       "strong pass overrides a weak window",
			rules:      rules,
			candidates: cands(0.91, 0.40),
			recent:     []float64{0.1, 0.1, 0.91},
			want:       types.Committed,
		},
		{
			name:       "disabled",
			rules:      Rules{Floor: 0.5, Margin: 0.2},
			candidates: cands(0.2),
			recent:     []float64{0, 0, 0, 0.2},
			want:       types.Continue,
			wantReason: ReasonBelowFloor,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := Summary{Pass: len(tt.recent), MaxPasses: 10, RecentTop: tt.recent}
			d, err := NewDeterministic(tt.rules).Decide(context.Background(), tt.candidates, s)
			if err != nil {
				t.Fatalf("Decide: %v", err)
			}
			if d.Outcome != tt.want {
				t.Fatalf("Outcome = %v (%s), want %v", d.Outcome, d.Reason, tt.want)
			}
			if tt.wantReason != "" && d.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", d.Reason, tt.wantReason)
			}
		})
	}
}

func TestDeterministic_UsesBoostedScore(t *testing.T) {
	t.Parallel()

	c := []types.Candidate{
		{Media: matrix, Score: 0.45, BoostedScore: 0.72, Boosted: true},
		{Media: office, Score: 0.44, BoostedScore: 0.44, Boosted: true},
	}
	d, err := NewDeterministic(Rules{Floor: 0.5, Margin: 0.2}).Decide(context.Background(), c, Summary{Pass: 1})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Outcome != types.Committed || d.Confidence != 0.72 {
		t.Errorf("Decision = %+v, want committed at 0.72", d)
	}
}

func TestSummary_Exhausted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		s    Summary
		want bool
	}{
		{Summary{Pass: 3}, false},
		{Summary{Pass: 3, MaxPasses: 4}, false},
		{Summary{Pass: 4, MaxPasses: 4}, true},
		{Summary{Elapsed: time.Second, MaxDuration: time.Second}, true},
		{Summary{Elapsed: time.Second, MaxDuration: time.Minute}, false},
	}
	for _, tt := range tests {
		if got := tt.s.Exhausted(); got != tt.want {
			t.Errorf("%+v.Exhausted() = %v, want %v", tt.s, got, tt.want)
		}
	}
}
