package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var _ Fetcher = (*ExchangeRateHostProvider)(nil)

// ExchangeRateHostProvider fetches rates from the exchangerate.host API.
type ExchangeRateHostProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewExchangeRateHostProvider creates a new ExchangeRateHostProvider with the given configuration.
func NewExchangeRateHostProvider(baseURL, apiKey string, timeoutSec int) *ExchangeRateHostProvider {
	if baseURL == "" {
		baseURL = "https://api.exchangerate.host"
	}
	return &ExchangeRateHostProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}
}

// Name returns the provider name.
func (p *ExchangeRateHostProvider) Name() string { return "exchangerate_host" }

func (p *ExchangeRateHostProvider) liveURL(base string) string {
	return fmt.Sprintf("%s/live?access_key=%s&source=%s",
		p.baseURL, url.QueryEscape(p.apiKey), url.QueryEscape(base))
}

// exchangerate.host live API response structure
type erHostResponse struct {
	Success bool               `json:"success"`
	Source  string             `json:"source"`
	Quotes  map[string]float64 `json:"quotes"`
}

// FetchRates fetches every quote for base and re-keys them by quote currency.
func (p *ExchangeRateHostProvider) FetchRates(ctx context.Context, base string) (Rates, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.liveURL(base), http.NoBody)
	if err != nil {
		return nil, newFetchError(p.Name(), base, fmt.Errorf("request creation failed: %w", err))
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, newFetchError(p.Name(), base, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, newFetchError(p.Name(), base, fmt.Errorf("returned status %d: %s", resp.StatusCode, string(body)))
	}
	var result erHostResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, newFetchError(p.Name(), base, fmt.Errorf("failed to decode response: %w", err))
	}
	if !result.Success {
		return nil, newFetchError(p.Name(), base, fmt.Errorf("returned success=false"))
	}

	// The API returns quotes keyed as "BASEQUOTE", e.g. "INRUSD"
	rates := make(Rates, len(result.Quotes))
	for key, val := range result.Quotes {
		quote, ok := strings.CutPrefix(key, base)
		if !ok || quote == "" {
			continue
		}
		rates[quote] = val
	}
	if len(rates) == 0 {
		return nil, newFetchError(p.Name(), base, ErrNoRates)
	}
	return rates, nil
}
