// Package catalog holds the in-memory reference catalog and refreshes it
// from its authoritative source.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"invoicematch/internal/metrics"
	"invoicematch/internal/model"
)

// Loader reads every catalog entry from the authoritative source.
type Loader interface {
	LoadCatalog(ctx context.Context) ([]model.CatalogEntry, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) ([]model.CatalogEntry, error)

func (f LoaderFunc) LoadCatalog(ctx context.Context) ([]model.CatalogEntry, error) { return f(ctx) }

// LoadError is returned by Get when the catalog has never loaded successfully.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string { return fmt.Sprintf("catalog unavailable: %v", e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

const (
	StatusEmpty   = "empty"
	StatusValid   = "valid"
	StatusExpired = "expired"
)

// Stats describes the cache for observability.
type Stats struct {
	Status      string  `json:"status"`
	ItemCount   int     `json:"item_count"`
	AgeSeconds  float64 `json:"age_seconds"`
	LoadCount   int64   `json:"load_count"`
	FailedLoads int64   `json:"failed_loads"`
	TTLSeconds  float64 `json:"ttl"`
	ExpiresIn   float64 `json:"expires_in"`
	Generation  uint64  `json:"generation"`
	LastError   string  `json:"last_error,omitempty"`
}

// Cache serves catalog snapshots. Concurrent callers that find the snapshot
// stale block until a single in-flight refresh completes.
type Cache struct {
	loader     Loader
	ttl        time.Duration
	cooldown   time.Duration
	now        func() time.Time
	preprocess func(string) string
	logger     *slog.Logger
	metrics    *metrics.Metrics

	current       atomic.Pointer[Snapshot]
	invalidations atomic.Uint64
	loadCount     atomic.Int64
	failedLoads   atomic.Int64
	// refresh is a one-slot semaphore around the load path. A channel lets
	// waiters give up when their context ends.
	refresh chan struct{}

	mu          sync.Mutex
	lastFailure time.Time
	lastErr     error
	generation  uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets how long a snapshot is served before a refresh.
func WithTTL(ttl time.Duration) Option { return func(c *Cache) { c.ttl = ttl } }

// WithFailureCooldown sets how long a failed load suppresses new attempts.
func WithFailureCooldown(d time.Duration) Option { return func(c *Cache) { c.cooldown = d } }

func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// WithPreprocessor stores preprocess(description) for every entry of each
// snapshot in Snapshot.Normalized.
func WithPreprocessor(f func(string) string) Option { return func(c *Cache) { c.preprocess = f } }

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l.With("component", "catalog") }
}

func WithMetrics(m *metrics.Metrics) Option { return func(c *Cache) { c.metrics = m } }

// New creates an empty cache. Nothing is loaded until the first Get.
func New(loader Loader, opts ...Option) *Cache {
	c := &Cache{
		loader:   loader,
		ttl:      time.Hour,
		cooldown: 30 * time.Second,
		now:      time.Now,
		logger:   slog.Default().With("component", "catalog"),
		refresh:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) isFresh(s *Snapshot) bool {
	return s != nil &&
		s.invalidationSeen == c.invalidations.Load() &&
		c.now().Sub(s.LoadedAt) < c.ttl
}

// Get returns a snapshot no older than the TTL. If the snapshot is stale it
// is refreshed first; if that refresh fails the previous snapshot is served.
// An error is returned only when no snapshot was ever loaded or ctx ends
// while waiting.
func (c *Cache) Get(ctx context.Context) (*Snapshot, error) {
	if s := c.current.Load(); c.isFresh(s) {
		return s, nil
	}

	select {
	case c.refresh <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.refresh }()

	// Another caller may have refreshed while we waited.
	prev := c.current.Load()
	if c.isFresh(prev) {
		return prev, nil
	}

	if cooling, lastErr := c.coolingDown(); cooling {
		if prev != nil {
			return prev, nil
		}
		return nil, &LoadError{Err: lastErr}
	}

	snap, err := c.load(ctx)
	if err != nil {
		if ctx.Err() != nil && prev == nil {
			return nil, ctx.Err()
		}
		if prev != nil {
			c.logger.Warn("Catalog refresh failed, serving previous snapshot",
				"error", err, "generation", prev.Generation, "age", c.now().Sub(prev.LoadedAt))
			return prev, nil
		}
		return nil, &LoadError{Err: err}
	}
	return snap, nil
}

func (c *Cache) coolingDown() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastErr == nil || c.cooldown <= 0 {
		return false, nil
	}
	return c.now().Sub(c.lastFailure) < c.cooldown, c.lastErr
}

// load must be called with the refresh slot held. A load abandoned because
// ctx ended is not counted as a source failure and starts no cooldown.
func (c *Cache) load(ctx context.Context) (*Snapshot, error) {
	invalidations := c.invalidations.Load()
	start := c.now()
	entries, err := c.loader.LoadCatalog(ctx)
	if err != nil && ctx.Err() != nil {
		c.logger.Debug("Catalog load abandoned by caller", "error", err)
		return nil, err
	}
	if err != nil {
		c.failedLoads.Add(1)
		c.metrics.CatalogLoad(false, 0)
		c.mu.Lock()
		c.lastErr = err
		c.lastFailure = c.now()
		c.mu.Unlock()
		return nil, err
	}

	c.mu.Lock()
	c.generation++
	generation := c.generation
	c.lastErr = nil
	c.mu.Unlock()

	loadedAt := c.now()
	snap := newSnapshot(filterEntries(entries), c.preprocess, loadedAt, generation, invalidations)
	c.current.Store(snap)
	count := c.loadCount.Add(1)
	c.metrics.CatalogLoad(true, snap.Len())
	c.logger.Info("Catalog loaded",
		"items", snap.Len(),
		"dropped", len(entries)-snap.Len(),
		"generation", generation,
		"load_count", count,
		"duration", loadedAt.Sub(start))
	return snap, nil
}

func filterEntries(entries []model.CatalogEntry) []model.CatalogEntry {
	out := make([]model.CatalogEntry, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Description) == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Invalidate forces the next Get to refresh regardless of TTL. The current
// snapshot is still served if that refresh fails.
func (c *Cache) Invalidate() {
	c.invalidations.Add(1)
	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
	c.logger.Info("Catalog invalidated")
}

// Refresh loads a new snapshot now, waiting for any in-flight refresh.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	c.Invalidate()
	snap, err := c.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !c.isFresh(snap) {
		return snap, errors.New("catalog refresh failed, previous snapshot retained")
	}
	return snap, nil
}

// Stats reports the current cache state.
func (c *Cache) Stats() Stats {
	st := Stats{
		Status:      StatusEmpty,
		LoadCount:   c.loadCount.Load(),
		FailedLoads: c.failedLoads.Load(),
		TTLSeconds:  c.ttl.Seconds(),
	}
	c.mu.Lock()
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	c.mu.Unlock()

	s := c.current.Load()
	if s == nil {
		return st
	}
	age := c.now().Sub(s.LoadedAt)
	st.ItemCount = s.Len()
	st.AgeSeconds = round2(age.Seconds())
	st.Generation = s.Generation
	st.ExpiresIn = math.Max(0, round2((c.ttl - age).Seconds()))
	if c.isFresh(s) {
		st.Status = StatusValid
	} else {
		st.Status = StatusExpired
		st.ExpiresIn = 0
	}
	return st
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
