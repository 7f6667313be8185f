//go:build integration

package integration

import (
	"context"
	"database/sql"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"ratesservice/internal/provider"
	"ratesservice/internal/testkit"
)

var (
	testDB  *sql.DB
	testRDB *redis.Client
)

// resetTestData clears stored snapshots and Redis, and binds testDB and testRDB
// to the shared stack.
func resetTestData(t *testing.T) {
	t.Helper()

	stack := testkit.Shared()
	if err := stack.Reset(context.Background()); err != nil {
		t.Fatalf("reset integration stack: %v", err)
	}
	testDB, testRDB = stack.DB(), stack.Redis()
}

// testContext returns a context with a 30-second deadline tied to the test's cleanup.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// countingFetcher serves fixed rates per base and counts upstream calls.
// Setting fail makes every call return a FetchError.
type countingFetcher struct {
	rates map[string]provider.Rates
	calls atomic.Int32
	fail  atomic.Bool
}

func (f *countingFetcher) FetchRates(_ context.Context, base string) (provider.Rates, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return nil, &provider.FetchError{Provider: "fake", Base: base, Err: context.DeadlineExceeded}
	}
	r, ok := f.rates[base]
	if !ok {
		return nil, &provider.FetchError{Provider: "fake", Base: base, Err: provider.ErrNoRates}
	}
	return r, nil
}
