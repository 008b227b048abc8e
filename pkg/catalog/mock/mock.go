// Package mock provides test doubles for the catalog interfaces.
//
// Catalog serves canned search results and records from maps and records
// every call, so tests can assert which collaborators a pipeline stage hit.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/reelscout/pkg/catalog"
	"github.com/MrWong99/reelscout/pkg/types"
)

// Catalog is a mock implementation of catalog.ChunkIndex, catalog.MediaStore
// and catalog.Writer.
type Catalog struct {
	mu sync.Mutex

	// SemanticResults is returned by SemanticSearch (truncated to opts.Limit).
	SemanticResults []types.ScoredChunk

	// LexicalResults is returned by LexicalSearch (truncated to opts.Limit).
	LexicalResults []types.ScoredChunk

	// SemanticErr and LexicalErr, if non-nil, are returned by the searches.
	SemanticErr error
	LexicalErr  error

	// Records backs Media and Cast. Missing ids yield catalog.ErrNotFound.
	Records map[types.MediaID]types.MediaRecord

	// CastErr, if non-nil, is returned by Cast.
	CastErr error

	// MediaErr, if non-nil, is returned by Media.
	MediaErr error

	// PingErr, if non-nil, is returned by Ping.
	PingErr error

	// Chunks records the last ReplaceChunks input per media id.
	Chunks map[types.MediaID][]catalog.ChunkInput

	// --- Call records ---

	SemanticCalls int
	LexicalCalls  int
	LexicalQuery  []string
	CastCalls     map[types.MediaID]int
	MediaCalls    int
}

// SemanticSearch implements catalog.ChunkIndex.
func (c *Catalog) SemanticSearch(_ context.Context, _ []float32, opts catalog.SearchOpts) ([]types.ScoredChunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SemanticCalls++
	if c.SemanticErr != nil {
		return nil, c.SemanticErr
	}
	return limit(c.SemanticResults, opts.Limit), nil
}

// LexicalSearch implements catalog.ChunkIndex.
func (c *Catalog) LexicalSearch(_ context.Context, query string, opts catalog.SearchOpts) ([]types.ScoredChunk, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LexicalCalls++
	c.LexicalQuery = append(c.LexicalQuery, query)
	if c.LexicalErr != nil {
		return nil, c.LexicalErr
	}
	return limit(c.LexicalResults, opts.Limit), nil
}

// Media implements catalog.MediaStore.
func (c *Catalog) Media(_ context.Context, id types.MediaID) (types.MediaRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MediaCalls++
	if c.MediaErr != nil {
		return types.MediaRecord{}, c.MediaErr
	}
	rec, ok := c.Records[id]
	if !ok {
		return types.MediaRecord{}, fmt.Errorf("%w: media %s", catalog.ErrNotFound, id)
	}
	return rec, nil
}

// Cast implements catalog.MediaStore.
func (c *Catalog) Cast(_ context.Context, id types.MediaID) ([]types.CastMember, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CastCalls == nil {
		c.CastCalls = make(map[types.MediaID]int)
	}
	c.CastCalls[id]++
	if c.CastErr != nil {
		return nil, c.CastErr
	}
	return c.Records[id].Cast, nil
}

// Ping reports PingErr, standing in for a database round trip.
func (c *Catalog) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.PingErr
}

// UpsertMedia implements catalog.Writer.
func (c *Catalog) UpsertMedia(_ context.Context, rec types.MediaRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Records == nil {
		c.Records = make(map[types.MediaID]types.MediaRecord)
	}
	c.Records[rec.ID] = rec
	return nil
}

// ReplaceChunks implements catalog.Writer.
func (c *Catalog) ReplaceChunks(_ context.Context, id types.MediaID, chunks []catalog.ChunkInput) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Chunks == nil {
		c.Chunks = make(map[types.MediaID][]catalog.ChunkInput)
	}
	c.Chunks[id] = append([]catalog.ChunkInput(nil), chunks...)
	return nil
}

// CastCallCount returns how often Cast was called for id.
func (c *Catalog) CastCallCount(id types.MediaID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CastCalls[id]
}

// SearchCalls returns the semantic and lexical call counts.
func (c *Catalog) SearchCalls() (semantic, lexical int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.SemanticCalls, c.LexicalCalls
}

func limit(in []types.ScoredChunk, n int) []types.ScoredChunk {
	if n > 0 && len(in) > n {
		in = in[:n]
	}
	return append([]types.ScoredChunk(nil), in...)
}

var (
	_ catalog.ChunkIndex = (*Catalog)(nil)
	_ catalog.MediaStore = (*Catalog)(nil)
	_ catalog.Writer     = (*Catalog)(nil)
)
