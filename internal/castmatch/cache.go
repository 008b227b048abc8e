package castmatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/reelscout/pkg/catalog"
	"github.com/MrWong99/reelscout/pkg/types"
)

// maxCachedRosters bounds the cache. When full, the cache is reset; rosters
// are small and refetching them is cheap compared to unbounded growth.
const maxCachedRosters = 4096

// rosterLookupTimeout bounds a shared store call. The call outlives the
// caller that started it, so it cannot inherit that caller's deadline.
const rosterLookupTimeout = 10 * time.Second

// RosterCache memoises cast rosters by media id. Rosters are immutable once
// ingested, so entries never expire. Failed lookups are not cached.
type RosterCache struct {
	mu      sync.RWMutex
	entries map[types.MediaID][]types.CastMember
	group   singleflight.Group
}

// NewRosterCache returns an empty cache.
func NewRosterCache() *RosterCache {
	return &RosterCache{entries: make(map[types.MediaID][]types.CastMember)}
}

// Get returns the roster for id, loading it from store on a miss. Concurrent
// misses for the same id share a single store call. That call is detached
// from every caller's cancellation; each caller only stops waiting when its
// own ctx ends.
func (c *RosterCache) Get(ctx context.Context, store catalog.MediaStore, id types.MediaID) ([]types.CastMember, error) {
	c.mu.RLock()
	roster, ok := c.entries[id]
	c.mu.RUnlock()
	if ok {
		return roster, nil
	}

	ch := c.group.DoChan(id.String(), func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rosterLookupTimeout)
		defer cancel()

		roster, err := store.Cast(lctx, id)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if len(c.entries) >= maxCachedRosters {
			clear(c.entries)
		}
		c.entries[id] = roster
		c.mu.Unlock()
		return roster, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]types.CastMember), nil
	}
}

// Len returns the number of cached rosters.
func (c *RosterCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
