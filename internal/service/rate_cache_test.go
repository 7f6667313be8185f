package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ratesservice/internal/metrics"
	"ratesservice/internal/provider"
)

// fakeFetcher returns a response per base and counts calls.
type fakeFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(base string) (provider.Rates, error)
}

func newFakeFetcher(fn func(base string) (provider.Rates, error)) *fakeFetcher {
	return &fakeFetcher{calls: map[string]int{}, fn: fn}
}

func (f *fakeFetcher) FetchRates(_ context.Context, base string) (provider.Rates, error) {
	f.mu.Lock()
	f.calls[base]++
	fn := f.fn
	f.mu.Unlock()
	return fn(base)
}

func (f *fakeFetcher) setFn(fn func(base string) (provider.Rates, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
}

func (f *fakeFetcher) count(base string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[base]
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var errUpstream = &provider.FetchError{Provider: "test", Base: "INR", Err: errors.New("upstream down")}

func ratesFor(base string) (provider.Rates, error) {
	switch base {
	case "INR":
		return provider.Rates{"USD": 0.012, "EUR": 0.011}, nil
	case "USD":
		return provider.Rates{"INR": 83.2, "EUR": 0.92}, nil
	default:
		return nil, errUpstream
	}
}

func newTestCache(f provider.Fetcher, clock *fakeClock, opts ...RateCacheOption) *RateCache {
	opts = append([]RateCacheOption{WithClock(clock.Now)}, opts...)
	return NewRateCache(f, zap.NewNop().Sugar(), opts...)
}

func TestRateCache_HitWithinTTL(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	f := newFakeFetcher(ratesFor)
	c := newTestCache(f, clock)

	first, err := c.GetRates(context.Background(), "INR")
	require.NoError(t, err)

	clock.Advance(9 * time.Minute)
	second, err := c.GetRates(context.Background(), "INR")
	require.NoError(t, err)

	assert.Equal(t, 1, f.count("INR"))
	assert.Equal(t, first, second)
	assert.Equal(t, reflect.ValueOf(first).Pointer(), reflect.ValueOf(second).Pointer(), "expected the same map instance")
}

func TestRateCache_ExpiryTriggersOneFetch(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	f := newFakeFetcher(ratesFor)
	c := newTestCache(f, clock)

	_, err := c.GetRates(context.Background(), "INR")
	require.NoError(t, err)

	clock.Advance(DefaultRatesTTL)
	_, err = c.GetRates(context.Background(), "INR")
	require.NoError(t, err)
	assert.Equal(t, 2, f.count("INR"))

	assert.Equal(t, clock.Now(), c.Current().FetchedAt)
}

func TestRateCache_StaleFallbackOnFetchError(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	f := newFakeFetcher(ratesFor)
	c := newTestCache(f, clock)

	first, err := c.GetRates(context.Background(), "INR")
	require.NoError(t, err)
	fetchedAt := c.Current().FetchedAt

	f.setFn(func(string) (provider.Rates, error) { return nil, errUpstream })
	clock.Advance(time.Hour)

	res, err := c.Lookup(context.Background(), "INR")
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Equal(t, first, res.Rates)

	// fallback does not extend the stale snapshot, so the next call retries
	assert.Equal(t, fetchedAt, c.Current().FetchedAt)
	_, err = c.GetRates(context.Background(), "INR")
	require.NoError(t, err)
	assert.Equal(t, 3, f.count("INR"))
}

func TestRateCache_HardFailureWhenEmpty(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	f := newFakeFetcher(func(string) (provider.Rates, error) { return nil, errUpstream })
	c := newTestCache(f, clock)

	_, err := c.GetRates(context.Background(), "INR")
	require.Error(t, err)
	assert.True(t, provider.IsFetchError(err))
	assert.Equal(t, Snapshot{}, c.Current())
}

func TestRateCache_BaseSwitchFetchesImmediately(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	f := newFakeFetcher(ratesFor)
	c := newTestCache(f, clock)

	_, err := c.GetRates(context.Background(), "INR")
	require.NoError(t, err)

	usd, err := c.GetRates(context.Background(), "USD")
	require.NoError(t, err)
	assert.Equal(t, 1, f.count("USD"))
	assert.Equal(t, 83.2, usd["INR"])
	assert.Equal(t, "USD", c.Current().Base)

	// single slot: INR was evicted by the USD snapshot
	_, err = c.GetRates(context.Background(), "INR")
	require.NoError(t, err)
	assert.Equal(t, 2, f.count("INR"))
}

func TestRateCache_NoFallbackAcrossBases(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	f := newFakeFetcher(ratesFor)
	c := newTestCache(f, clock)

	_, err := c.GetRates(context.Background(), "INR")
	require.NoError(t, err)

	// GBP always fails upstream; the held INR rates must not be served for it.
	_, err = c.GetRates(context.Background(), "GBP")
	require.Error(t, err)
	assert.ErrorIs(t, err, errUpstream)
	assert.Equal(t, "INR", c.Current().Base)
}

func TestRateCache_DefaultBase(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	f := newFakeFetcher(ratesFor)
	c := newTestCache(f, clock)

	res, err := c.Lookup(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "INR", res.Base)
	assert.Equal(t, 1, f.count("INR"))

	c2 := newTestCache(f, clock, WithDefaultBase("USD"))
	res, err = c2.Lookup(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "USD", res.Base)
}

func TestRateCache_ConcurrentMissesShareOneFetch(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	release := make(chan struct{})
	f := newFakeFetcher(func(base string) (provider.Rates, error) {
		<-release
		return ratesFor(base)
	})
	c := newTestCache(f, clock)

	const callers = 20
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetRates(context.Background(), "INR")
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, f.count("INR"))
}

func TestRateCache_RefreshIgnoresFreshnessAndNeverFallsBack(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	f := newFakeFetcher(ratesFor)
	c := newTestCache(f, clock)

	_, err := c.GetRates(context.Background(), "INR")
	require.NoError(t, err)

	snap, err := c.Refresh(context.Background(), "INR")
	require.NoError(t, err)
	assert.Equal(t, "INR", snap.Base)
	assert.Equal(t, 2, f.count("INR"))

	f.setFn(func(string) (provider.Rates, error) { return nil, errUpstream })
	_, err = c.Refresh(context.Background(), "INR")
	assert.Error(t, err)
}

func TestRateCache_EmptyRatesAreRejected(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	f := newFakeFetcher(func(string) (provider.Rates, error) { return provider.Rates{}, nil })
	c := newTestCache(f, clock)

	_, err := c.GetRates(context.Background(), "INR")
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrNoRates)
	assert.True(t, c.Current().FetchedAt.IsZero())
}

func TestRateCache_Seed(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	f := newFakeFetcher(func(string) (provider.Rates, error) { return nil, errUpstream })
	c := newTestCache(f, clock)

	assert.False(t, c.Seed(Snapshot{Base: "INR"}))

	old := Snapshot{Base: "INR", Rates: provider.Rates{"USD": 0.011}, FetchedAt: clock.Now().Add(-24 * time.Hour)}
	require.True(t, c.Seed(old))

	// seeded snapshot is stale: a fetch is attempted, then it serves as fallback
	res, err := c.Lookup(context.Background(), "INR")
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Equal(t, 0.011, res.Rates["USD"])
	assert.Equal(t, 1, f.count("INR"))

	assert.False(t, c.Seed(Snapshot{Base: "INR", Rates: provider.Rates{"USD": 0.01}, FetchedAt: old.FetchedAt.Add(-time.Hour)}))
}

func TestRateCache_StoreHookAndMetrics(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	f := newFakeFetcher(ratesFor)
	m := metrics.NewRateMetrics(prometheus.NewRegistry())

	var stored []Snapshot
	c := newTestCache(f, clock,
		WithMetrics(m),
		WithStoreHook(func(s Snapshot) { stored = append(stored, s) }),
	)

	_, _ = c.GetRates(context.Background(), "INR")
	_, _ = c.GetRates(context.Background(), "INR")
	f.setFn(func(string) (provider.Rates, error) { return nil, errUpstream })
	clock.Advance(time.Hour)
	_, _ = c.GetRates(context.Background(), "INR")

	require.Len(t, stored, 1)
	assert.Equal(t, "INR", stored[0].Base)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits.WithLabelValues("INR")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheMisses.WithLabelValues("INR")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fallbacks.WithLabelValues("INR")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchErrors.WithLabelValues("INR")))
}
