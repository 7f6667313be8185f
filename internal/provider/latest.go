package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var _ Fetcher = (*LatestRatesProvider)(nil)

// LatestRatesProvider fetches rate tables from APIs exposing GET /latest?base=CODE
// (Frankfurter and compatible services).
type LatestRatesProvider struct {
	name    string
	baseURL string
	client  *http.Client
}

// NewLatestRatesProvider creates a new LatestRatesProvider.
func NewLatestRatesProvider(name, baseURL string, timeoutSec int) *LatestRatesProvider {
	if baseURL == "" {
		baseURL = "https://api.frankfurter.dev/v1"
	}
	if name == "" {
		name = "latest_rates"
	}
	return &LatestRatesProvider{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}
}

// Name returns the provider name used in logs, cache keys and errors.
func (p *LatestRatesProvider) Name() string { return p.name }

type latestResponse struct {
	Base  string `json:"base"`
	Date  string `json:"date"`
	Rates Rates  `json:"rates"`
}

// FetchRates retrieves the latest rates for base. The table is returned as provided upstream.
func (p *LatestRatesProvider) FetchRates(ctx context.Context, base string) (Rates, error) {
	reqURL := fmt.Sprintf("%s/latest?base=%s", p.baseURL, url.QueryEscape(base))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, newFetchError(p.name, base, fmt.Errorf("request creation failed: %w", err))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, newFetchError(p.name, base, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, newFetchError(p.name, base, fmt.Errorf("returned status %d: %s", resp.StatusCode, string(body)))
	}

	var result latestResponse
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, newFetchError(p.name, base, fmt.Errorf("failed to decode response: %w", err))
	}
	if len(result.Rates) == 0 {
		return nil, newFetchError(p.name, base, ErrNoRates)
	}

	return result.Rates, nil
}
