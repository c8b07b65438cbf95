package accum

import (
	"fmt"
	"sync"
	"time"

	"github.com/stratuscast/gridgen/internal/grid"
)

// cacheEntry holds the totals computed so far for one forecast hour.
// Snow totals are stored as liquid-equivalent millimeters; the inches
// conversion happens once, on the way out.
type cacheEntry struct {
	precipTotalMM *grid.Grid
	snowLiquidMM  *grid.Grid
}

// runCache holds at most one run's worth of accumulation entries.
// A request for a different run clears it wholesale; entries are never
// evicted otherwise; the engine's lifetime (one polling loop) bounds
// growth. The cache is private to one engine and never shared across
// engines, so a forecast hour computed by a different engine has to be
// rebuilt from raw data here.
type runCache struct {
	mu     sync.Mutex
	runKey string
	byHour map[int]*cacheEntry
}

func newRunCache() *runCache {
	return &runCache{byHour: make(map[int]*cacheEntry)}
}

func runKey(model string, runTime time.Time) string {
	return fmt.Sprintf("%s-%s", model, runTime.UTC().Format("2006010215"))
}

// entry returns the cache entry for the hour, resetting the cache first
// when the run differs from the cached one. The second return is false
// when no entry exists yet.
func (c *runCache) entry(key string, hour int) (*cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetIfStaleLocked(key)
	e, ok := c.byHour[hour]
	return e, ok
}

// store records grids for the hour, merging with any existing entry.
// Nil grids leave the existing value untouched.
func (c *runCache) store(key string, hour int, precipMM, snowMM *grid.Grid) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetIfStaleLocked(key)
	e, ok := c.byHour[hour]
	if !ok {
		e = &cacheEntry{}
		c.byHour[hour] = e
	}
	if precipMM != nil {
		e.precipTotalMM = precipMM
	}
	if snowMM != nil {
		e.snowLiquidMM = snowMM
	}
}

func (c *runCache) resetIfStaleLocked(key string) {
	if c.runKey != key {
		c.runKey = key
		c.byHour = make(map[int]*cacheEntry)
	}
}
