package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	_ Fetcher      = (*ExchangeProviderFacade)(nil)
	_ TimedFetcher = (*ExchangeProviderFacade)(nil)
)

// ExchangeProviderFacade is an abstraction that calls fetchers sequentially.
type ExchangeProviderFacade struct {
	fetchers []Fetcher
}

// NewExchangeProviderFacade creates a new ExchangeProviderFacade with the given list of fetchers.
func NewExchangeProviderFacade(fetchers ...Fetcher) *ExchangeProviderFacade {
	return &ExchangeProviderFacade{
		fetchers: fetchers,
	}
}

// FetchRates calls fetchers sequentially until one succeeds.
func (p *ExchangeProviderFacade) FetchRates(ctx context.Context, base string) (Rates, error) {
	rates, _, err := p.FetchRatesAt(ctx, base)
	return rates, err
}

// FetchRatesAt is FetchRates that also passes on the fetch time of the winning fetcher.
func (p *ExchangeProviderFacade) FetchRatesAt(ctx context.Context, base string) (Rates, time.Time, error) {
	var errs []error
	for _, f := range p.fetchers {
		rates, fetchedAt, err := FetchTimed(ctx, f, base)
		if err == nil {
			return rates, fetchedAt, nil
		}
		errs = append(errs, err)
	}

	return nil, time.Time{}, newFetchError("facade", base, fmt.Errorf("all providers failed: %w", errors.Join(errs...)))
}
