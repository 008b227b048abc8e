// Package castmatch corroborates retrieval candidates with the actors seen on
// screen.
//
// For every candidate title the [Matcher] fetches the billed cast from the
// catalog and compares it with the session's actor observations. The strength
// of the best overlap becomes the candidate's MatchConfidence:
//
//	contribution = observation confidence × billing weight × name similarity
//
// Billing weight favours the top-billed cast, so spotting the lead is
// stronger evidence than spotting a supporting actor. How names are compared
// is pluggable via [Identity]: [Lookup] requires the normalised names to be
// equal, [Fuzzy] also accepts phonetic near-misses.
//
// Rosters are cached process-wide and concurrent lookups of the same title
// share one catalog call.
package castmatch

import (
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/reelscout/internal/resilience"
	"github.com/MrWong99/reelscout/pkg/catalog"
	"github.com/MrWong99/reelscout/pkg/types"
)

const (
	defaultTopBilled        = 3
	defaultTopBilledWeight  = 1.0
	defaultSupportingWeight = 0.75

	// fetchConcurrency bounds parallel roster lookups per Match call.
	fetchConcurrency = 4
)

// Identity decides whether an observed actor name refers to a billed cast
// member. Similarity returns a value in (0, 1] for a match and 0 otherwise.
// Implementations must be safe for concurrent use.
type Identity interface {
	Similarity(observed, billed string) float64
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithBilling sets the rank cut-off for top billing and the weights applied
// to top-billed and supporting cast members.
func WithBilling(topBilled int, topWeight, supportingWeight float64) Option {
	return func(m *Matcher) {
		m.topBilled = topBilled
		m.topWeight = topWeight
		m.supportingWeight = supportingWeight
	}
}

// WithCache shares a roster cache between matchers. By default every Matcher
// owns a private cache.
func WithCache(c *RosterCache) Option {
	return func(m *Matcher) {
		m.cache = c
	}
}

// WithRetry retries failed roster lookups with backoff. By default a lookup
// is attempted once.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(m *Matcher) {
		m.retry = cfg
	}
}

// Matcher computes cast corroboration for candidates. It is safe for
// concurrent use.
type Matcher struct {
	store    catalog.MediaStore
	identity Identity
	cache    *RosterCache
	retry    resilience.RetryConfig

	topBilled        int
	topWeight        float64
	supportingWeight float64
}

// New returns a Matcher reading rosters from store and comparing names with
// identity. A nil identity defaults to [Lookup].
func New(store catalog.MediaStore, identity Identity, opts ...Option) *Matcher {
	if identity == nil {
		identity = Lookup{}
	}
	m := &Matcher{
		store:            store,
		identity:         identity,
		topBilled:        defaultTopBilled,
		topWeight:        defaultTopBilledWeight,
		supportingWeight: defaultSupportingWeight,
		retry:            resilience.RetryConfig{Name: "cast", Attempts: 1},
	}
	for _, o := range opts {
		o(m)
	}
	if m.cache == nil {
		m.cache = NewRosterCache()
	}
	return m
}

// Match returns a copy of candidates with MatchConfidence and MatchedCast
// filled in. The order of candidates is preserved. Without observations no
// roster is fetched and every confidence is 0.
//
// A roster lookup failure aborts the whole call; partially computed results
// are discarded.
func (m *Matcher) Match(ctx context.Context, candidates []types.Candidate, observations []types.ActorObservation) ([]types.Candidate, error) {
	out := slices.Clone(candidates)
	for i := range out {
		out[i].MatchConfidence = 0
		out[i].MatchedCast = nil
	}
	if len(out) == 0 || len(observations) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i := range out {
		g.Go(func() error {
			roster, err := resilience.RetryWithResult(gctx, m.retry, func(ctx context.Context) ([]types.CastMember, error) {
				return m.cache.Get(ctx, m.store, out[i].Media)
			})
			if err != nil {
				return fmt.Errorf("castmatch: roster for %s: %w", out[i].Media, err)
			}
			out[i].MatchConfidence, out[i].MatchedCast = m.score(roster, observations)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// score returns the strongest single contribution and the roster names that
// matched any observation, in billing order.
func (m *Matcher) score(roster []types.CastMember, observations []types.ActorObservation) (float64, []string) {
	var (
		best    float64
		matched []string
	)
	for _, member := range roster {
		hit := false
		for _, obs := range observations {
			sim := m.identity.Similarity(obs.Name, member.Name)
			if sim <= 0 {
				continue
			}
			hit = true
			if c := obs.Confidence * m.rankWeight(member.Rank) * sim; c > best {
				best = c
			}
		}
		if hit {
			matched = append(matched, member.Name)
		}
	}
	return min(max(best, 0), 1), matched
}

func (m *Matcher) rankWeight(rank int) float64 {
	if rank >= 1 && rank <= m.topBilled {
		return m.topWeight
	}
	return m.supportingWeight
}

// Lookup matches names by exact normalised identity.
type Lookup struct{}

// Similarity returns 1 when both names normalise to the same identity.
func (Lookup) Similarity(observed, billed string) float64 {
	o := types.NormalizeName(observed)
	if o != "" && o == types.NormalizeName(billed) {
		return 1
	}
	return 0
}
