package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"ratesservice/internal/metrics"
	"ratesservice/internal/provider"
)

const (
	// DefaultBase is used when a caller does not name a base currency.
	DefaultBase = "INR"
	// DefaultRatesTTL is how long a snapshot is served without refetching.
	DefaultRatesTTL = 10 * time.Minute
)

// Snapshot is the rate table last fetched for one base currency.
type Snapshot struct {
	Base      string
	Rates     provider.Rates
	FetchedAt time.Time
}

// Result is the outcome of a cache lookup. Stale is set when the rates come from
// the held snapshot after a failed refresh.
type Result struct {
	Base      string
	Rates     provider.Rates
	FetchedAt time.Time
	Stale     bool
}

// RateCache holds a single process-wide rate snapshot and refreshes it on demand.
// Concurrent misses for the same base share one upstream fetch.
type RateCache struct {
	fetcher     provider.Fetcher
	log         *zap.SugaredLogger
	metrics     *metrics.RateMetrics
	ttl         time.Duration
	defaultBase string
	now         func() time.Time
	onStore     func(Snapshot)

	mu   sync.RWMutex
	snap Snapshot

	inflight singleflight.Group
}

// RateCacheOption configures a RateCache.
type RateCacheOption func(*RateCache)

// WithTTL sets the freshness window.
func WithTTL(ttl time.Duration) RateCacheOption {
	return func(c *RateCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithDefaultBase sets the base used when GetRates is called with "".
func WithDefaultBase(base string) RateCacheOption {
	return func(c *RateCache) {
		if base != "" {
			c.defaultBase = base
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RateCacheOption {
	return func(c *RateCache) { c.now = now }
}

// WithMetrics records hits, misses, fallbacks and fetches.
func WithMetrics(m *metrics.RateMetrics) RateCacheOption {
	return func(c *RateCache) { c.metrics = m }
}

// WithStoreHook registers fn to run after every newly stored snapshot.
// fn runs synchronously on the fetching goroutine. A table that is already held
// (same base and fetch time, e.g. served again from Redis) is not passed to fn.
func WithStoreHook(fn func(Snapshot)) RateCacheOption {
	return func(c *RateCache) { c.onStore = fn }
}

// NewRateCache creates an empty RateCache backed by fetcher.
func NewRateCache(fetcher provider.Fetcher, logger *zap.SugaredLogger, opts ...RateCacheOption) *RateCache {
	c := &RateCache{
		fetcher:     fetcher,
		log:         logger,
		ttl:         DefaultRatesTTL,
		defaultBase: DefaultBase,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetRates returns the rate table for base. The returned map is shared with the
// cache and must not be modified.
func (c *RateCache) GetRates(ctx context.Context, base string) (provider.Rates, error) {
	res, err := c.Lookup(ctx, base)
	if err != nil {
		return nil, err
	}
	return res.Rates, nil
}

// Lookup serves the held snapshot while it is fresh for base, otherwise fetches.
// When the fetch fails the held snapshot is returned as stale if it has the same
// base; the error is returned only when no such snapshot exists. A caller whose ctx
// ends while waiting gets ctx.Err().
func (c *RateCache) Lookup(ctx context.Context, base string) (Result, error) {
	if base == "" {
		base = c.defaultBase
	}

	if snap, ok := c.fresh(base); ok {
		c.metrics.Hit(base)
		return Result{Base: snap.Base, Rates: snap.Rates, FetchedAt: snap.FetchedAt}, nil
	}
	c.metrics.Miss(base)

	snap, err := c.fetchShared(ctx, base, false)
	if err == nil {
		return Result{Base: snap.Base, Rates: snap.Rates, FetchedAt: snap.FetchedAt}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}

	held := c.Current()
	if held.Base == base && len(held.Rates) > 0 {
		c.metrics.Fallback(base)
		c.log.Warnw("Serving stale rates after failed fetch",
			"base", base,
			"fetched_at", held.FetchedAt,
			"error", err)
		return Result{Base: held.Base, Rates: held.Rates, FetchedAt: held.FetchedAt, Stale: true}, nil
	}
	return Result{}, err
}

// Refresh fetches rates for base from upstream regardless of freshness and stores them.
// Shared caches such as Redis are bypassed and rewritten. Unlike Lookup it never falls
// back to the held snapshot.
func (c *RateCache) Refresh(ctx context.Context, base string) (Snapshot, error) {
	if base == "" {
		base = c.defaultBase
	}
	return c.fetchShared(ctx, base, true)
}

// Seed installs snap as the held snapshot, keeping its original FetchedAt.
// It is ignored when snap has no rates or is older than the held snapshot.
func (c *RateCache) Seed(snap Snapshot) bool {
	if snap.Base == "" || len(snap.Rates) == 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.snap.FetchedAt.IsZero() && !snap.FetchedAt.After(c.snap.FetchedAt) {
		return false
	}
	c.snap = snap
	return true
}

// Current returns the held snapshot. The zero Snapshot means nothing was fetched yet.
func (c *RateCache) Current() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// TTL returns the freshness window.
func (c *RateCache) TTL() time.Duration { return c.ttl }

func (c *RateCache) fresh(base string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap.Base == base && len(c.snap.Rates) > 0 && c.now().Sub(c.snap.FetchedAt) < c.ttl {
		return c.snap, true
	}
	return Snapshot{}, false
}

// fetchShared runs at most one fetch per base at a time. Callers arriving while a
// fetch is in flight wait for its result unless their own ctx ends first. The fetch
// is detached from every caller's cancellation; the HTTP client timeout bounds it.
func (c *RateCache) fetchShared(ctx context.Context, base string, force bool) (Snapshot, error) {
	key := base
	fetchCtx := context.WithoutCancel(ctx)
	if force {
		key = "refresh:" + base
		fetchCtx = provider.WithForceRefresh(fetchCtx)
	}
	ch := c.inflight.DoChan(key, func() (any, error) {
		if !force {
			// Another caller may have stored fresh rates while we waited for the slot.
			if snap, ok := c.fresh(base); ok {
				return snap, nil
			}
		}
		return c.fetchAndStore(fetchCtx, base)
	})

	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Snapshot{}, res.Err
		}
		return res.Val.(Snapshot), nil
	}
}

func (c *RateCache) fetchAndStore(ctx context.Context, base string) (Snapshot, error) {
	started := c.now()
	rates, fetchedAt, err := provider.FetchTimed(ctx, c.fetcher, base)
	c.metrics.Fetch(base, c.now().Sub(started), err)
	if err != nil {
		c.log.Errorw("Rate fetch failed", "base", base, "error", err)
		return Snapshot{}, err
	}
	if len(rates) == 0 {
		return Snapshot{}, &provider.FetchError{Provider: "cache", Base: base, Err: provider.ErrNoRates}
	}
	// A table shared through Redis keeps the time it left upstream.
	timed := !fetchedAt.IsZero()
	if !timed {
		fetchedAt = c.now()
	}

	snap := Snapshot{Base: base, Rates: rates, FetchedAt: fetchedAt}
	c.mu.Lock()
	seen := timed && c.snap.Base == base && c.snap.FetchedAt.Equal(fetchedAt)
	c.snap = snap
	c.mu.Unlock()

	c.log.Infow("Rates refreshed", "base", base, "currencies", len(rates), "fetched_at", fetchedAt)
	if c.onStore != nil && !seen {
		c.onStore(snap)
	}
	return snap, nil
}
