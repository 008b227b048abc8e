package types

import (
	"errors"
	"testing"
)

func TestParseMediaID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    MediaID
		wantErr bool
	}{
		{in: "movie:603", want: MediaID{Kind: KindMovie, ID: "603"}},
		{in: "TV:1399", want: MediaID{Kind: KindTV, ID: "1399"}},
		{in: " movie:42 ", want: MediaID{Kind: KindMovie, ID: "42"}},
		{in: "movie:", wantErr: true},
		{in: "603", wantErr: true},
		{in: "book:1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseMediaID(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidMediaID) {
					t.Fatalf("ParseMediaID(%q) error = %v, want ErrInvalidMediaID", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMediaID(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseMediaID(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
			if got.String() != string(got.Kind)+":"+got.ID {
				t.Errorf("String() = %q", got.String())
			}
		})
	}
}

func TestCandidate_Effective(t *testing.T) {
	t.Parallel()

	c := Candidate{Score: 0.4}
	if got := c.Effective(); got != 0.4 {
		t.Errorf("unboosted Effective() = %v, want 0.4", got)
	}
	c.Boosted = true
	c.BoostedScore = 0.7
	if got := c.Effective(); got != 0.7 {
		t.Errorf("boosted Effective() = %v, want 0.7", got)
	}
}

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	if got := NormalizeName("  Keanu   REEVES "); got != "keanu reeves" {
		t.Errorf("NormalizeName = %q", got)
	}
}

func TestOutcome_String(t *testing.T) {
	t.Parallel()

	for o, want := range map[Outcome]string{Continue: "continue", Committed: "committed", Abstained: "abstained", Outcome(9): "outcome(9)"} {
		if got := o.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", int(o), got, want)
		}
	}
}
