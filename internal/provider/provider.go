// Package provider implements external rate providers for fetching currency exchange rates.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Rates maps a currency code to its conversion factor relative to a base currency.
type Rates map[string]float64

// Fetcher retrieves the latest rate table for a base currency from an external source.
type Fetcher interface {
	FetchRates(ctx context.Context, base string) (Rates, error)
}

// FetcherFunc adapts a plain function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, base string) (Rates, error)

// FetchRates calls f.
func (f FetcherFunc) FetchRates(ctx context.Context, base string) (Rates, error) {
	return f(ctx, base)
}

// TimedFetcher is implemented by fetchers that know when a table was fetched from upstream,
// which is earlier than the call when the table is served from a shared cache.
type TimedFetcher interface {
	FetchRatesAt(ctx context.Context, base string) (Rates, time.Time, error)
}

// FetchTimed calls f, returning its fetch time when f is a TimedFetcher.
// The time is zero when f cannot tell.
func FetchTimed(ctx context.Context, f Fetcher, base string) (Rates, time.Time, error) {
	if tf, ok := f.(TimedFetcher); ok {
		return tf.FetchRatesAt(ctx, base)
	}
	rates, err := f.FetchRates(ctx, base)
	return rates, time.Time{}, err
}

type forceRefreshKey struct{}

// WithForceRefresh marks ctx so caching fetchers skip their stored copy and go upstream.
// The fresh result is still written back.
func WithForceRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, forceRefreshKey{}, true)
}

func isForceRefresh(ctx context.Context) bool {
	force, _ := ctx.Value(forceRefreshKey{}).(bool)
	return force
}

// ErrNoRates is wrapped by FetchError when the upstream response carries no usable rates field.
var ErrNoRates = errors.New("response has no rates")

// FetchError reports a failed upstream call: transport error, timeout, bad status or malformed body.
type FetchError struct {
	Provider string
	Base     string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s rates from %s: %v", e.Base, e.Provider, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func newFetchError(providerName, base string, err error) *FetchError {
	return &FetchError{Provider: providerName, Base: base, Err: err}
}

// IsFetchError reports whether err is or wraps a *FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
