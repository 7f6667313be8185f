package provider

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FetchRates(ctx context.Context, base string) (Rates, error) {
	args := m.Called(ctx, base)
	rates, _ := args.Get(0).(Rates)
	return rates, args.Error(1)
}
