package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jujuci/bundleverify/internal/models"
)

// ReportCache stores the latest verification report per model so the serve
// surface can answer without waiting on a probe round.
// Get returns the cached report if present and not expired, Set stores a
// report with TTL.
type ReportCache interface {
	Get(ctx context.Context, model string) (*models.Report, bool, error)
	Set(ctx context.Context, model string, report *models.Report, ttl time.Duration) error
}

// InMemoryCache implements ReportCache with a mutex-guarded map and
// TTL-based expiration. Expired entries are removed on access. Safe for
// concurrent use by the watch loop and the HTTP handlers.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
}

type cacheEntry struct {
	report    *models.Report
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory report cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
	}
}

// Get retrieves the cached report for the model if present and not expired.
// Returns (report, true, nil) on hit, (nil, false, nil) on miss or expiry.
func (c *InMemoryCache) Get(ctx context.Context, model string) (*models.Report, bool, error) {
	c.mu.RLock()
	entry, ok := c.data[model]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		// Re-check before deleting: a fresh report may have landed between
		// dropping the read lock and taking the write lock.
		cur, ok := c.data[model]
		if ok && time.Now().After(cur.expiresAt) {
			delete(c.data, model)
			ok = false
		}
		c.mu.Unlock()
		if !ok {
			return nil, false, nil
		}
		return cur.report, true, nil
	}

	return entry.report, true, nil
}

// Set stores the report with the specified TTL.
func (c *InMemoryCache) Set(ctx context.Context, model string, report *models.Report, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[model] = cacheEntry{
		report:    report,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}
