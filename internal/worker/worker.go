// Package worker implements background task handlers for async rate refreshes.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"ratesservice/internal/service"
)

// NewRefreshRatesHandler returns a function to handle rate refresh tasks.
func NewRefreshRatesHandler(svc service.RatesServiceInterface, logger *zap.SugaredLogger) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload service.RefreshRatesPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			logger.Errorw("Invalid task payload", "type", t.Type(), "error", err)
			return fmt.Errorf("decode payload: %w", asynq.SkipRetry)
		}

		err := svc.ProcessRefresh(ctx, payload.Base)
		if err != nil {
			logger.Errorw("Task processing failed", "base", payload.Base, "error", err)
			if errors.Is(err, service.ErrInvalidCurrency) {
				return fmt.Errorf("refresh %q: %w", payload.Base, asynq.SkipRetry)
			}
			return err
		}

		logger.Infow("Task completed", "base", payload.Base)
		return nil
	}
}

// NewRefreshTask builds a refresh task for base with the given retry policy.
func NewRefreshTask(base string, maxRetry int, timeout time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(service.RefreshRatesPayload{Base: base})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(service.TaskTypeRefreshRates, data,
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(timeout),
	), nil
}

var _ service.TaskEnqueuer = (*AsynqEnqueuer)(nil)

// AsynqEnqueuer is responsible for enqueuing tasks to an Asynq queue with specific configurations for retries and timeouts.
type AsynqEnqueuer struct {
	client   *asynq.Client
	maxRetry int
	timeout  time.Duration
}

// NewAsynqEnqueuer creates a new AsynqEnqueuer with the given client, retry limit, and task timeout duration.
func NewAsynqEnqueuer(client *asynq.Client, maxRetry int, timeout time.Duration) *AsynqEnqueuer {
	return &AsynqEnqueuer{
		client:   client,
		maxRetry: maxRetry,
		timeout:  timeout,
	}
}

// EnqueueRefreshTask enqueues a rate refresh task and returns the Asynq task ID.
func (e *AsynqEnqueuer) EnqueueRefreshTask(ctx context.Context, payload service.RefreshRatesPayload) (string, error) {
	task, err := NewRefreshTask(payload.Base, e.maxRetry, e.timeout)
	if err != nil {
		return "", err
	}

	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// RegisterPeriodicRefresh schedules a refresh of each base on cronspec.
func RegisterPeriodicRefresh(scheduler *asynq.Scheduler, cronspec string, bases []string, maxRetry int, timeout time.Duration) error {
	for _, base := range bases {
		task, err := NewRefreshTask(base, maxRetry, timeout)
		if err != nil {
			return err
		}
		// Unique keeps a slow refresh from piling up duplicates of itself.
		if _, err := scheduler.Register(cronspec, task, asynq.Unique(timeout)); err != nil {
			return fmt.Errorf("register periodic refresh for %s: %w", base, err)
		}
	}
	return nil
}
