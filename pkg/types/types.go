// Package types defines the shared domain types used across reelscout packages.
//
// These types form the lingua franca between providers, the catalog, the
// identification pipeline, and the session layer. Each package still owns its
// own internal types; cross-cutting data structures live here to avoid
// circular imports.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MediaKind distinguishes movies from TV series.
type MediaKind string

const (
	KindMovie MediaKind = "movie"
	KindTV    MediaKind = "tv"
)

// IsValid reports whether k is a recognised media kind.
func (k MediaKind) IsValid() bool {
	return k == KindMovie || k == KindTV
}

// ErrInvalidMediaID is returned by [ParseMediaID] for strings that are not of
// the form "kind:id".
var ErrInvalidMediaID = errors.New("types: invalid media id")

// MediaID identifies a title in the catalog. The ID is the upstream catalog
// identifier (a TMDb id for the stock corpus) and is only unique within Kind.
type MediaID struct {
	Kind MediaKind
	ID   string
}

// String renders the id as "kind:id", e.g. "movie:603".
func (m MediaID) String() string {
	return string(m.Kind) + ":" + m.ID
}

// IsZero reports whether m is the zero value.
func (m MediaID) IsZero() bool {
	return m.Kind == "" && m.ID == ""
}

// ParseMediaID parses the "kind:id" form produced by [MediaID.String].
func ParseMediaID(s string) (MediaID, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || id == "" {
		return MediaID{}, fmt.Errorf("%w: %q", ErrInvalidMediaID, s)
	}
	m := MediaID{Kind: MediaKind(strings.ToLower(kind)), ID: id}
	if !m.Kind.IsValid() {
		return MediaID{}, fmt.Errorf("%w: unknown kind in %q", ErrInvalidMediaID, s)
	}
	return m, nil
}

// TranscriptChunk is an immutable segment of a title's dialogue stored in the
// catalog. Embedding vectors stay inside the index and are never surfaced.
type TranscriptChunk struct {
	// ID is the catalog-assigned chunk identifier.
	ID int64

	// Media is the title this chunk belongs to.
	Media MediaID

	// Position is the zero-based index of this chunk within the title.
	Position int

	// Text is the dialogue content.
	Text string

	// InsertedAt records when the chunk was added to the index. Used as the
	// retrieval tie-breaker (newer wins).
	InsertedAt time.Time
}

// ScoredChunk is a single retrieval hit.
type ScoredChunk struct {
	Chunk TranscriptChunk

	// Score is the fused retrieval score. Never negative.
	Score float64
}

// ActorObservation records that an actor was recognised on screen.
type ActorObservation struct {
	// Name is the display name reported by the recognition provider.
	Name string

	// Confidence is the recognition confidence in [0, 1].
	Confidence float64

	// LastSeen is when the actor was most recently observed.
	LastSeen time.Time
}

// Key returns the normalised identity used to merge observations.
func (o ActorObservation) Key() string {
	return NormalizeName(o.Name)
}

// CastMember is one billed entry of a title's cast.
type CastMember struct {
	Name      string
	Character string

	// Rank is the 1-based billing order.
	Rank int
}

// MediaRecord is the catalog's descriptive record for a title.
type MediaRecord struct {
	ID             MediaID
	Title          string
	Year           int
	Genres         []string
	Overview       string
	PosterURL      string
	Rating         float64
	RuntimeMinutes int
	Cast           []CastMember
}

// Candidate is a title under consideration during a pipeline pass.
type Candidate struct {
	Media MediaID

	// Score is the best retrieval score among this title's chunks.
	Score float64

	// MatchConfidence is the cast corroboration strength in [0, 1].
	MatchConfidence float64

	// MatchedCast lists roster names that matched an on-screen observation.
	MatchedCast []string

	// BoostedScore is set by the booster. Zero means not boosted.
	BoostedScore float64

	// Boosted reports whether BoostedScore is meaningful.
	Boosted bool

	// BestChunk is the chunk that produced Score.
	BestChunk TranscriptChunk
}

// Effective returns the score the decision engine should rank by.
func (c Candidate) Effective() float64 {
	if c.Boosted {
		return c.BoostedScore
	}
	return c.Score
}

// Outcome is the closed set of decision results.
type Outcome int

const (
	// Continue means the evidence is not yet conclusive.
	Continue Outcome = iota

	// Committed means a title has been chosen. Terminal.
	Committed

	// Abstained means the session budget ran out without a commit. Terminal.
	Abstained
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case Committed:
		return "committed"
	case Abstained:
		return "abstained"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Decision is the result of one decision-engine evaluation.
type Decision struct {
	Outcome Outcome

	// Media is set only when Outcome is Committed.
	Media MediaID

	// Confidence is the engine's confidence in Media, when committed.
	Confidence float64

	// Reason is a short machine-friendly explanation used in logs.
	Reason string
}

// DisplayPayload is the client-facing description of an identified title.
// JSON keys match the session wire format.
type DisplayPayload struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	PosterURL    string  `json:"posterUrl"`
	Year         int     `json:"year"`
	Genre        string  `json:"genre"`
	Description  string  `json:"description"`
	TMDBRating   float64 `json:"tmdbRating"`
	Duration     int     `json:"duration"`
	IdentifiedAt string  `json:"identifiedAt"`
}

// NormalizeName lower-cases s and collapses internal whitespace so that
// "Keanu  Reeves" and "keanu reeves" share an identity.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
