package cache

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/config"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/logger"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant"
)

const (
	DefaultMaxSize = 1000
	DefaultTTL     = 5 * time.Minute
)

// Stats is a point-in-time view of the cache counters
type Stats struct {
	Size          int     `json:"size"`
	MaxSize       int     `json:"max_size"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Evictions     int64   `json:"evictions"`
	HitRate       float64 `json:"hit_rate_percent"`
	TotalRequests int64   `json:"total_requests"`
}

type entry struct {
	record    *tenant.Record
	expiresAt time.Time
}

// Cache is a TTL + LRU cache of tenant records keyed by tenant id
type Cache struct {
	mu      sync.Mutex
	entries *simplelru.LRU[string, *entry]

	maxSize     int
	ttl         time.Duration
	enableStats bool
	now         func() time.Time
	logger      *zap.Logger

	hits      int64
	misses    int64
	evictions int64

	// gen is bumped by Delete and Clear; a fetch started before the bump
	// must not write its result back
	gen   uint64
	group singleflight.Group
}

// Option configures a Cache
type Option func(*Cache)

// WithClock replaces time.Now, used by tests to move time forward
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithStats toggles hit/miss/eviction counting
func WithStats(enabled bool) Option {
	return func(c *Cache) {
		c.enableStats = enabled
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// New creates a cache holding at most maxSize records for ttl each
func New(maxSize int, ttl time.Duration, opts ...Option) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		maxSize:     maxSize,
		ttl:         ttl,
		enableStats: true,
		now:         time.Now,
		logger:      logger.Logger.Named("tenant.cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	// evictions are done by hand in Set, the list never grows past maxSize on its own
	c.entries, _ = simplelru.NewLRU[string, *entry](maxSize, nil)
	c.logger.Info("tenant cache initialized", zap.Int("max_size", maxSize), zap.Duration("ttl", ttl))
	return c
}

// NewFromConfig creates a cache from the tenants.cache section
func NewFromConfig(cfg config.TenantCache, opts ...Option) *Cache {
	return New(cfg.MaxSize, cfg.TTL, append([]Option{WithStats(cfg.EnableStats)}, opts...)...)
}

// Get returns a copy of the cached record. Absent and expired keys count as a
// miss; an expired entry is dropped on the way.
func (c *Cache) Get(id string) (*tenant.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Peek(id)
	if !ok {
		c.countMiss()
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.entries.Remove(id)
		c.countMiss()
		return nil, false
	}

	c.entries.Get(id) // mark as most recently used
	if c.enableStats {
		c.hits++
	}
	return e.record.Clone(), true
}

// Set stores a copy of r under id with a fresh TTL. A new key arriving at
// MaxSize evicts the least recently accessed entry first.
func (c *Cache) Set(id string, r *tenant.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(id, r)
}

func (c *Cache) setLocked(id string, r *tenant.Record) {
	if !c.entries.Contains(id) && c.entries.Len() >= c.maxSize {
		if evicted, _, ok := c.entries.RemoveOldest(); ok {
			if c.enableStats {
				c.evictions++
			}
			c.logger.Debug("evicted least recently used tenant", zap.String("tenant_id", evicted))
		}
	}
	c.entries.Add(id, &entry{record: r.Clone(), expiresAt: c.now().Add(c.ttl)})
}

// Delete removes id. A fetch already in flight for id will not store its result.
func (c *Cache) Delete(id string) {
	c.mu.Lock()
	c.entries.Remove(id)
	c.gen++
	c.mu.Unlock()
	c.group.Forget(id)
}

// Clear removes every entry, counters are kept
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries.Purge()
	c.gen++
	c.mu.Unlock()
	c.logger.Info("tenant cache cleared")
}

func (c *Cache) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// setIfCurrent stores r unless Delete or Clear ran since gen was read
func (c *Cache) setIfCurrent(id string, r *tenant.Record, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.setLocked(id, r)
	return true
}

// CleanupExpired removes every expired entry and returns how many were removed.
// Live entries are never touched.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, id := range c.entries.Keys() {
		e, ok := c.entries.Peek(id)
		if ok && now.After(e.expiresAt) {
			c.entries.Remove(id)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("removed expired tenants", zap.Int("count", removed))
	}
	return removed
}

// Stats returns the current counters
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var rate float64
	if total > 0 {
		rate = math.Round(float64(c.hits)/float64(total)*100*100) / 100
	}
	return Stats{
		Size:          c.entries.Len(),
		MaxSize:       c.maxSize,
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		HitRate:       rate,
		TotalRequests: total,
	}
}

// GetOrFetch returns the cached record or loads it with fetch. Only found
// records are cached; errors and nil results are returned as is and the next
// call fetches again. Concurrent misses for one id share a single fetch, which
// runs detached from any one caller's cancellation; a caller whose ctx ends
// stops waiting without failing the others.
func (c *Cache) GetOrFetch(ctx context.Context, id string, fetch func(ctx context.Context, id string) (*tenant.Record, error)) (*tenant.Record, error) {
	if r, ok := c.Get(id); ok {
		return r, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(id, func() (interface{}, error) {
		gen := c.generation()
		r, err := fetch(shared, id)
		if err != nil || r == nil {
			return nil, err
		}
		if !c.setIfCurrent(id, r, gen) {
			c.logger.Debug("tenant invalidated during fetch, result not cached", zap.String("tenant_id", id))
		}
		return r, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil || res.Val == nil {
			return nil, res.Err
		}
		return res.Val.(*tenant.Record).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Schedule registers CleanupExpired on a cron runner
func (c *Cache) Schedule(runner *cron.Cron, spec string) (cron.EntryID, error) {
	return runner.AddFunc(spec, func() {
		c.CleanupExpired()
	})
}

func (c *Cache) countMiss() {
	if c.enableStats {
		c.misses++
	}
}
