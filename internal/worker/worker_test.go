package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ratesservice/internal/service"
)

// mockRatesService implements service.RatesServiceInterface; only ProcessRefresh is used here.
type mockRatesService struct {
	service.RatesServiceInterface
	processRefreshFunc func(ctx context.Context, base string) error
}

func (m *mockRatesService) ProcessRefresh(ctx context.Context, base string) error {
	return m.processRefreshFunc(ctx, base)
}

func TestRefreshRatesHandler(t *testing.T) {
	logger := zap.NewNop().Sugar()

	t.Run("processes payload base", func(t *testing.T) {
		var got string
		svc := &mockRatesService{processRefreshFunc: func(_ context.Context, base string) error {
			got = base
			return nil
		}}

		task, err := NewRefreshTask("INR", 3, 30*time.Second)
		require.NoError(t, err)

		err = NewRefreshRatesHandler(svc, logger)(context.Background(), task)
		assert.NoError(t, err)
		assert.Equal(t, "INR", got)
	})

	t.Run("fetch error is retried", func(t *testing.T) {
		svc := &mockRatesService{processRefreshFunc: func(context.Context, string) error {
			return errors.New("upstream down")
		}}
		task, _ := NewRefreshTask("INR", 3, 30*time.Second)

		err := NewRefreshRatesHandler(svc, logger)(context.Background(), task)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("invalid currency skips retry", func(t *testing.T) {
		svc := &mockRatesService{processRefreshFunc: func(context.Context, string) error {
			return service.ErrInvalidCurrency
		}}
		task, _ := NewRefreshTask("RUPEE", 3, 30*time.Second)

		err := NewRefreshRatesHandler(svc, logger)(context.Background(), task)
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("malformed payload skips retry", func(t *testing.T) {
		svc := &mockRatesService{processRefreshFunc: func(context.Context, string) error {
			t.Error("ProcessRefresh must not be called")
			return nil
		}}
		task := asynq.NewTask(service.TaskTypeRefreshRates, []byte("{"))

		err := NewRefreshRatesHandler(svc, logger)(context.Background(), task)
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})
}

func TestNewRefreshTask(t *testing.T) {
	task, err := NewRefreshTask("USD", 2, 10*time.Second)
	require.NoError(t, err)

	assert.Equal(t, service.TaskTypeRefreshRates, task.Type())
	var payload service.RefreshRatesPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "USD", payload.Base)
}
