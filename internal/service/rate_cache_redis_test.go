package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ratesservice/internal/provider"
)

func newRedisBackedFetcher(t *testing.T, upstream provider.Fetcher) *provider.CachedFetcherDecorator {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return provider.NewCachedFetcher(upstream, rdb, 5*time.Minute, "test_provider")
}

func TestRateCache_RefreshReachesUpstreamThroughRedis(t *testing.T) {
	upstream := newFakeFetcher(ratesFor)
	c := NewRateCache(newRedisBackedFetcher(t, upstream), zap.NewNop().Sugar())

	_, err := c.GetRates(context.Background(), "INR")
	require.NoError(t, err)
	require.Equal(t, 1, upstream.count("INR"))

	upstream.setFn(func(string) (provider.Rates, error) {
		return provider.Rates{"USD": 0.0125}, nil
	})
	snap, err := c.Refresh(context.Background(), "INR")
	require.NoError(t, err)
	assert.Equal(t, 2, upstream.count("INR"))
	assert.Equal(t, 0.0125, snap.Rates["USD"])

	// Lookups keep reading the refreshed table.
	rates, err := c.GetRates(context.Background(), "INR")
	require.NoError(t, err)
	assert.Equal(t, 0.0125, rates["USD"])
	assert.Equal(t, 2, upstream.count("INR"))
}

func TestRateCache_KeepsUpstreamFetchTimeFromRedis(t *testing.T) {
	upstream := newFakeFetcher(ratesFor)
	shared := newRedisBackedFetcher(t, upstream)

	var storedA, storedB []Snapshot
	replicaA := NewRateCache(shared, zap.NewNop().Sugar(),
		WithStoreHook(func(s Snapshot) { storedA = append(storedA, s) }))

	_, err := replicaA.GetRates(context.Background(), "INR")
	require.NoError(t, err)
	fetchedAt := replicaA.Current().FetchedAt

	// A second replica, an hour later, is served the Redis copy with its original time.
	later := time.Now().Add(time.Hour)
	replicaB := NewRateCache(shared, zap.NewNop().Sugar(),
		WithClock(func() time.Time { return later }),
		WithStoreHook(func(s Snapshot) { storedB = append(storedB, s) }))

	_, err = replicaB.GetRates(context.Background(), "INR")
	require.NoError(t, err)
	assert.Equal(t, 1, upstream.count("INR"))
	assert.True(t, fetchedAt.Equal(replicaB.Current().FetchedAt),
		"expected %v, got %v", fetchedAt, replicaB.Current().FetchedAt)
	assert.Len(t, storedA, 1)
	assert.Len(t, storedB, 1)

	// The same Redis table served again is not handed to the store hook twice.
	// Held rates are already older than the TTL on this clock, so this refetches from Redis.
	_, err = replicaB.GetRates(context.Background(), "INR")
	require.NoError(t, err)
	assert.Equal(t, 1, upstream.count("INR"))
	assert.Len(t, storedB, 1)
}

func TestRateCache_CancelledWaiterReturnsEarly(t *testing.T) {
	release := make(chan struct{})
	f := newFakeFetcher(func(base string) (provider.Rates, error) {
		<-release
		return ratesFor(base)
	})
	c := NewRateCache(f, zap.NewNop().Sugar())

	leader := make(chan error, 1)
	go func() {
		_, err := c.GetRates(context.Background(), "INR")
		leader <- err
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Lookup(ctx, "INR")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	assert.NoError(t, <-leader)
	assert.Equal(t, 1, f.count("INR"))
	assert.Equal(t, "INR", c.Current().Base)
}
