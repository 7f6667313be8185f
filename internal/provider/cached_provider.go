package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	_ Fetcher      = (*CachedFetcherDecorator)(nil)
	_ TimedFetcher = (*CachedFetcherDecorator)(nil)
)

// CachedFetcherDecorator wraps a Fetcher with a Redis cache shared by all service replicas.
type CachedFetcherDecorator struct {
	fetcher      Fetcher
	cache        *redis.Client
	ttl          time.Duration
	providerName string
	now          func() time.Time
}

// NewCachedFetcher creates a new CachedFetcherDecorator.
func NewCachedFetcher(fetcher Fetcher, cache *redis.Client, ttl time.Duration, providerName string) *CachedFetcherDecorator {
	return &CachedFetcherDecorator{
		fetcher:      fetcher,
		cache:        cache,
		ttl:          ttl,
		providerName: providerName,
		now:          time.Now,
	}
}

func (p *CachedFetcherDecorator) cacheKey(base string) string {
	return fmt.Sprintf("provider_cache:%s:{%s}", p.providerName, base)
}

// FetchRates attempts to read the rate table from Redis before calling the wrapped fetcher.
func (p *CachedFetcherDecorator) FetchRates(ctx context.Context, base string) (Rates, error) {
	rates, _, err := p.FetchRatesAt(ctx, base)
	return rates, err
}

// FetchRatesAt returns the rate table and the time it was fetched from upstream.
// A table served from Redis keeps the fetch time stored with it. Contexts marked with
// WithForceRefresh skip the Redis read. Redis failures are never returned; they fall
// through to the wrapped fetcher.
func (p *CachedFetcherDecorator) FetchRatesAt(ctx context.Context, base string) (Rates, time.Time, error) {
	if p.cache == nil {
		rates, err := p.fetcher.FetchRates(ctx, base)
		if err != nil {
			return nil, time.Time{}, err
		}
		return rates, p.now().UTC(), nil
	}

	key := p.cacheKey(base)

	if !isForceRefresh(ctx) {
		if rates, fetchedAt, ok := p.readCache(ctx, key); ok {
			return rates, fetchedAt, nil
		}
	}

	rates, err := p.fetcher.FetchRates(ctx, base)
	if err != nil {
		return nil, time.Time{}, err
	}
	fetchedAt := p.now().UTC()

	payload, err := json.Marshal(rates)
	if err != nil {
		return rates, fetchedAt, nil
	}
	pipe := p.cache.Pipeline()
	pipe.HSet(ctx, key, "rates", string(payload), "fetched_at", fetchedAt.Format(time.RFC3339Nano))
	pipe.Expire(ctx, key, p.ttl)
	_, _ = pipe.Exec(ctx)

	return rates, fetchedAt, nil
}

func (p *CachedFetcherDecorator) readCache(ctx context.Context, key string) (Rates, time.Time, bool) {
	vals, err := p.cache.HMGet(ctx, key, "rates", "fetched_at").Result()
	if err != nil || len(vals) != 2 {
		return nil, time.Time{}, false
	}
	raw, ok1 := vals[0].(string)
	stamp, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return nil, time.Time{}, false
	}

	var rates Rates
	if err := json.Unmarshal([]byte(raw), &rates); err != nil || len(rates) == 0 {
		return nil, time.Time{}, false
	}
	fetchedAt, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return nil, time.Time{}, false
	}
	return rates, fetchedAt, true
}
