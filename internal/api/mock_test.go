package api

import (
	"context"

	"ratesservice/internal/service"
)

// mockRatesService implements service.RatesServiceInterface for testing.
type mockRatesService struct {
	getRatesFunc       func(ctx context.Context, base string) (*service.RatesResult, error)
	convertFunc        func(ctx context.Context, amount float64, base, target string) (*service.ConversionResult, error)
	requestRefreshFunc func(ctx context.Context, base string) (string, string, error)
	historyFunc        func(ctx context.Context, base string, limit int) ([]service.RatesResult, string, error)
}

func (m *mockRatesService) GetRates(ctx context.Context, base string) (*service.RatesResult, error) {
	return m.getRatesFunc(ctx, base)
}

func (m *mockRatesService) Convert(ctx context.Context, amount float64, base, target string) (*service.ConversionResult, error) {
	return m.convertFunc(ctx, amount, base, target)
}

func (m *mockRatesService) RequestRefresh(ctx context.Context, base string) (string, string, error) {
	return m.requestRefreshFunc(ctx, base)
}

func (m *mockRatesService) ProcessRefresh(_ context.Context, _ string) error {
	return nil // Not used in handler tests
}

func (m *mockRatesService) History(ctx context.Context, base string, limit int) ([]service.RatesResult, string, error) {
	return m.historyFunc(ctx, base, limit)
}
