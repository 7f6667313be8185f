// Package service implements the exchange-rate cache and the business logic built on it.
package service

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"ratesservice/internal/repository"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
	recordTimeout       = 5 * time.Second
)

// RatesServiceInterface defines the operations available to the HTTP and worker layers.
type RatesServiceInterface interface {
	GetRates(ctx context.Context, base string) (*RatesResult, error)
	Convert(ctx context.Context, amount float64, base, target string) (*ConversionResult, error)
	RequestRefresh(ctx context.Context, base string) (taskID, normalizedBase string, err error)
	ProcessRefresh(ctx context.Context, base string) error
	History(ctx context.Context, base string, limit int) (snapshots []RatesResult, normalizedBase string, err error)
}

// TaskEnqueuer schedules background refreshes.
type TaskEnqueuer interface {
	EnqueueRefreshTask(ctx context.Context, payload RefreshRatesPayload) (string, error)
}

// TaskTypeRefreshRates is the Asynq task type for rate refresh jobs.
const TaskTypeRefreshRates = "rates:refresh"

// RefreshRatesPayload is the payload structure for rate refresh Asynq tasks.
type RefreshRatesPayload struct {
	Base string `json:"base"`
}

// RatesResult is a rate table as returned by the service layer.
type RatesResult struct {
	ID        string
	Base      string
	Rates     map[string]float64
	FetchedAt time.Time
	Stale     bool
}

// ConversionResult is the outcome of converting an amount between two currencies.
type ConversionResult struct {
	Base      string
	Target    string
	Amount    float64
	Converted float64
	Rate      float64
	FetchedAt time.Time
}

// RatesService defines business logic for exchange rates.
type RatesService struct {
	cache    *RateCache
	repo     repository.SnapshotRepository
	enqueuer TaskEnqueuer
	log      *zap.SugaredLogger
}

// NewRatesService creates a new RatesService. repo and enqueuer may be nil.
func NewRatesService(cache *RateCache, repo repository.SnapshotRepository, enqueuer TaskEnqueuer, logger *zap.SugaredLogger) *RatesService {
	return &RatesService{
		cache:    cache,
		repo:     repo,
		enqueuer: enqueuer,
		log:      logger,
	}
}

// GetRates returns the rates for base, fresh or stale. Fetch errors are returned unchanged.
func (s *RatesService) GetRates(ctx context.Context, base string) (*RatesResult, error) {
	base, err := NormalizeCurrency(base, s.cache.defaultBase)
	if err != nil {
		return nil, err
	}
	res, err := s.cache.Lookup(ctx, base)
	if err != nil {
		return nil, err
	}
	return &RatesResult{
		Base:      res.Base,
		Rates:     res.Rates,
		FetchedAt: res.FetchedAt,
		Stale:     res.Stale,
	}, nil
}

// Convert converts amount from base into target using the cached rates for base.
func (s *RatesService) Convert(ctx context.Context, amount float64, base, target string) (*ConversionResult, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, ErrInvalidAmount
	}
	base, err := NormalizeCurrency(base, s.cache.defaultBase)
	if err != nil {
		return nil, err
	}
	target, err = NormalizeCurrency(target, "")
	if err != nil || target == "" {
		return nil, ErrInvalidCurrency
	}

	res, err := s.cache.Lookup(ctx, base)
	if err != nil {
		return nil, err
	}

	if _, found := res.Rates[target]; !found {
		return nil, ErrUnknownTarget
	}
	// Finite inputs can still overflow float64 once multiplied.
	converted, ok := ConvertAmount(amount, res.Rates, target)
	if !ok {
		return nil, ErrInvalidAmount
	}
	return &ConversionResult{
		Base:      res.Base,
		Target:    target,
		Amount:    amount,
		Converted: converted,
		Rate:      res.Rates[target],
		FetchedAt: res.FetchedAt,
	}, nil
}

// RequestRefresh enqueues an asynchronous refresh of base and returns the task ID
// together with the normalized base.
func (s *RatesService) RequestRefresh(ctx context.Context, base string) (string, string, error) {
	base, err := NormalizeCurrency(base, s.cache.defaultBase)
	if err != nil {
		return "", "", err
	}
	if s.enqueuer == nil {
		return "", "", ErrInternalQueue
	}

	taskID, err := s.enqueuer.EnqueueRefreshTask(ctx, RefreshRatesPayload{Base: base})
	if err != nil {
		s.log.Errorw("Failed to enqueue refresh task", "base", base, "error", err)
		return "", "", ErrInternalQueue
	}

	s.log.Infow("Enqueued refresh task", "task_id", taskID, "base", base)
	return taskID, base, nil
}

// ProcessRefresh performs the forced fetch for base (called by background worker).
func (s *RatesService) ProcessRefresh(ctx context.Context, base string) error {
	base, err := NormalizeCurrency(base, s.cache.defaultBase)
	if err != nil {
		return err
	}

	s.log.Infow("Processing refresh", "base", base)
	snap, err := s.cache.Refresh(ctx, base)
	if err != nil {
		return err
	}

	s.log.Infow("Refresh success", "base", base, "currencies", len(snap.Rates))
	return nil
}

// History returns up to limit stored snapshots for base, newest first, together with
// the normalized base.
func (s *RatesService) History(ctx context.Context, base string, limit int) ([]RatesResult, string, error) {
	base, err := NormalizeCurrency(base, s.cache.defaultBase)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if s.repo == nil {
		return []RatesResult{}, base, nil
	}

	snaps, err := s.repo.ListRecent(ctx, base, limit)
	if err != nil {
		s.log.Errorw("DB error listing snapshots", "base", base, "error", err)
		return nil, "", ErrInternal
	}

	out := make([]RatesResult, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, RatesResult{
			ID:        snap.ID,
			Base:      snap.Base,
			Rates:     snap.Rates,
			FetchedAt: snap.FetchedAt,
		})
	}
	return out, base, nil
}

// RecordSnapshot persists a freshly stored snapshot. Failures are logged, never returned,
// so history storage cannot break rate serving. Intended for WithStoreHook.
func (s *RatesService) RecordSnapshot(snap Snapshot) {
	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	id, err := s.repo.Save(ctx, repository.RateSnapshot{
		Base:      snap.Base,
		Rates:     snap.Rates,
		FetchedAt: snap.FetchedAt,
	})
	if err != nil {
		s.log.Warnw("Failed to record snapshot", "base", snap.Base, "error", err)
		return
	}
	s.log.Debugw("Recorded snapshot", "id", id, "base", snap.Base)
}

// WarmStart seeds the cache with the latest stored snapshot for base, if any.
// The snapshot keeps its original fetch time, so an old one only serves as a fallback.
func (s *RatesService) WarmStart(ctx context.Context, base string) error {
	if s.repo == nil {
		return errors.New("warm start requires a snapshot repository")
	}
	base, err := NormalizeCurrency(base, s.cache.defaultBase)
	if err != nil {
		return err
	}

	snap, err := s.repo.GetLatest(ctx, base)
	if err != nil {
		return err
	}
	if snap == nil {
		s.log.Infow("No stored snapshot to warm start from", "base", base)
		return nil
	}

	if s.cache.Seed(Snapshot{Base: snap.Base, Rates: snap.Rates, FetchedAt: snap.FetchedAt}) {
		s.log.Infow("Cache warmed from stored snapshot", "base", snap.Base, "fetched_at", snap.FetchedAt)
	}
	return nil
}
