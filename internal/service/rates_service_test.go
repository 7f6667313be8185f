package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"ratesservice/internal/provider"
	"ratesservice/internal/repository"
)

// Mock repository
type mockSnapshotRepo struct {
	saveFunc       func(ctx context.Context, snap repository.RateSnapshot) (string, error)
	getLatestFunc  func(ctx context.Context, base string) (*repository.RateSnapshot, error)
	listRecentFunc func(ctx context.Context, base string, limit int) ([]repository.RateSnapshot, error)
}

func (m *mockSnapshotRepo) Save(ctx context.Context, snap repository.RateSnapshot) (string, error) {
	return m.saveFunc(ctx, snap)
}

func (m *mockSnapshotRepo) GetLatest(ctx context.Context, base string) (*repository.RateSnapshot, error) {
	return m.getLatestFunc(ctx, base)
}

func (m *mockSnapshotRepo) ListRecent(ctx context.Context, base string, limit int) ([]repository.RateSnapshot, error) {
	return m.listRecentFunc(ctx, base, limit)
}

// Mock enqueuer
type mockEnqueuer struct {
	enqueueFunc func(ctx context.Context, payload RefreshRatesPayload) (string, error)
}

func (m *mockEnqueuer) EnqueueRefreshTask(ctx context.Context, payload RefreshRatesPayload) (string, error) {
	return m.enqueueFunc(ctx, payload)
}

func newTestService(f provider.Fetcher, repo repository.SnapshotRepository, enq TaskEnqueuer) *RatesService {
	logger, _ := zap.NewDevelopment()
	sugar := logger.Sugar()
	cache := NewRateCache(f, sugar)
	return NewRatesService(cache, repo, enq, sugar)
}

func TestGetRates_Validation(t *testing.T) {
	svc := newTestService(newFakeFetcher(ratesFor), nil, nil)

	tests := []struct {
		base    string
		errType error
	}{
		{"IN", ErrInvalidCurrency},
		{"RUPEE", ErrInvalidCurrency},
		{"12A", ErrInvalidCurrency},
		{"inr", nil},
		{"", nil},
	}

	for _, tc := range tests {
		t.Run(tc.base, func(t *testing.T) {
			res, err := svc.GetRates(context.Background(), tc.base)
			if err != tc.errType {
				t.Fatalf("Expected error %v, got %v", tc.errType, err)
			}
			if err == nil && res.Base != "INR" {
				t.Errorf("Expected base INR, got %s", res.Base)
			}
		})
	}
}

func TestGetRates_PropagatesFetchError(t *testing.T) {
	svc := newTestService(newFakeFetcher(func(string) (provider.Rates, error) { return nil, errUpstream }), nil, nil)

	_, err := svc.GetRates(context.Background(), "INR")
	if !provider.IsFetchError(err) {
		t.Errorf("Expected FetchError, got %v", err)
	}
}

func TestConvert(t *testing.T) {
	svc := newTestService(newFakeFetcher(ratesFor), nil, nil)

	t.Run("converts with cached rates", func(t *testing.T) {
		res, err := svc.Convert(context.Background(), 100, "inr", "usd")
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if res.Converted != 1.2 || res.Rate != 0.012 || res.Target != "USD" || res.Base != "INR" {
			t.Errorf("Unexpected result %+v", res)
		}
	})

	t.Run("unknown target", func(t *testing.T) {
		_, err := svc.Convert(context.Background(), 100, "INR", "JPY")
		if err != ErrUnknownTarget {
			t.Errorf("Expected ErrUnknownTarget, got %v", err)
		}
	})

	t.Run("missing target", func(t *testing.T) {
		_, err := svc.Convert(context.Background(), 100, "INR", "")
		if err != ErrInvalidCurrency {
			t.Errorf("Expected ErrInvalidCurrency, got %v", err)
		}
	})

	t.Run("NaN amount", func(t *testing.T) {
		_, err := svc.Convert(context.Background(), math.NaN(), "INR", "USD")
		if err != ErrInvalidAmount {
			t.Errorf("Expected ErrInvalidAmount, got %v", err)
		}
	})

	t.Run("overflowing result", func(t *testing.T) {
		_, err := svc.Convert(context.Background(), 1e308, "USD", "INR")
		if err != ErrInvalidAmount {
			t.Errorf("Expected ErrInvalidAmount, got %v", err)
		}
	})
}

func TestRequestRefresh(t *testing.T) {
	t.Run("enqueues normalized base", func(t *testing.T) {
		enq := &mockEnqueuer{
			enqueueFunc: func(ctx context.Context, payload RefreshRatesPayload) (string, error) {
				if payload.Base != "USD" {
					t.Errorf("Expected base USD, got %s", payload.Base)
				}
				return "task-1", nil
			},
		}
		svc := newTestService(newFakeFetcher(ratesFor), nil, enq)

		id, base, err := svc.RequestRefresh(context.Background(), "usd")
		if err != nil || id != "task-1" {
			t.Errorf("Expected task-1, got %q, %v", id, err)
		}
		if base != "USD" {
			t.Errorf("Expected normalized base USD, got %q", base)
		}
	})

	t.Run("enqueue failure", func(t *testing.T) {
		enq := &mockEnqueuer{
			enqueueFunc: func(ctx context.Context, payload RefreshRatesPayload) (string, error) {
				return "", errors.New("redis down")
			},
		}
		svc := newTestService(newFakeFetcher(ratesFor), nil, enq)

		_, _, err := svc.RequestRefresh(context.Background(), "INR")
		if err != ErrInternalQueue {
			t.Errorf("Expected ErrInternalQueue, got %v", err)
		}
	})

	t.Run("no enqueuer", func(t *testing.T) {
		svc := newTestService(newFakeFetcher(ratesFor), nil, nil)
		_, _, err := svc.RequestRefresh(context.Background(), "INR")
		if err != ErrInternalQueue {
			t.Errorf("Expected ErrInternalQueue, got %v", err)
		}
	})
}

func TestProcessRefresh(t *testing.T) {
	f := newFakeFetcher(ratesFor)
	svc := newTestService(f, nil, nil)

	if err := svc.ProcessRefresh(context.Background(), "INR"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := svc.ProcessRefresh(context.Background(), "INR"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if f.count("INR") != 2 {
		t.Errorf("Expected 2 fetches, got %d", f.count("INR"))
	}

	if err := svc.ProcessRefresh(context.Background(), "GBP"); err == nil {
		t.Error("Expected error, got nil")
	}
}

func TestRecordSnapshot(t *testing.T) {
	var saved []repository.RateSnapshot
	repo := &mockSnapshotRepo{
		saveFunc: func(ctx context.Context, snap repository.RateSnapshot) (string, error) {
			saved = append(saved, snap)
			return "id-1", nil
		},
	}
	f := newFakeFetcher(ratesFor)
	logger := zap.NewNop().Sugar()

	var svc *RatesService
	cache := NewRateCache(f, logger, WithStoreHook(func(s Snapshot) { svc.RecordSnapshot(s) }))
	svc = NewRatesService(cache, repo, nil, logger)

	if _, err := svc.GetRates(context.Background(), "INR"); err != nil {
		t.Fatalf("GetRates: %v", err)
	}
	if len(saved) != 1 || saved[0].Base != "INR" || saved[0].Rates["USD"] != 0.012 {
		t.Errorf("Unexpected saved snapshots %+v", saved)
	}

	// save failures never surface
	repo.saveFunc = func(ctx context.Context, snap repository.RateSnapshot) (string, error) {
		return "", errors.New("db down")
	}
	if err := svc.ProcessRefresh(context.Background(), "INR"); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestHistory(t *testing.T) {
	fetchedAt := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	repo := &mockSnapshotRepo{
		listRecentFunc: func(ctx context.Context, base string, limit int) ([]repository.RateSnapshot, error) {
			if limit != maxHistoryLimit {
				t.Errorf("Expected limit to be clamped to %d, got %d", maxHistoryLimit, limit)
			}
			return []repository.RateSnapshot{
				{ID: "a", Base: base, Rates: map[string]float64{"USD": 0.012}, FetchedAt: fetchedAt},
			}, nil
		},
	}
	svc := newTestService(newFakeFetcher(ratesFor), repo, nil)

	got, base, err := svc.History(context.Background(), "inr", 1000)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if base != "INR" {
		t.Errorf("Expected normalized base INR, got %q", base)
	}
	if len(got) != 1 || got[0].ID != "a" || got[0].Base != "INR" || !got[0].FetchedAt.Equal(fetchedAt) {
		t.Errorf("Unexpected history %+v", got)
	}

	repo.listRecentFunc = func(ctx context.Context, base string, limit int) ([]repository.RateSnapshot, error) {
		return nil, errors.New("db down")
	}
	if _, _, err := svc.History(context.Background(), "INR", 5); err != ErrInternal {
		t.Errorf("Expected ErrInternal, got %v", err)
	}

	t.Run("empty base uses default", func(t *testing.T) {
		svc := newTestService(newFakeFetcher(ratesFor), nil, nil)
		got, base, err := svc.History(context.Background(), "", 0)
		if err != nil || base != DefaultBase || len(got) != 0 {
			t.Errorf("Expected empty history for %s, got %+v %q %v", DefaultBase, got, base, err)
		}
	})
}

func TestWarmStart(t *testing.T) {
	fetchedAt := time.Now().Add(-time.Hour)
	repo := &mockSnapshotRepo{
		getLatestFunc: func(ctx context.Context, base string) (*repository.RateSnapshot, error) {
			return &repository.RateSnapshot{ID: "a", Base: base, Rates: map[string]float64{"USD": 0.011}, FetchedAt: fetchedAt}, nil
		},
	}
	f := newFakeFetcher(func(string) (provider.Rates, error) { return nil, errUpstream })
	svc := newTestService(f, repo, nil)

	if err := svc.WarmStart(context.Background(), "INR"); err != nil {
		t.Fatalf("WarmStart: %v", err)
	}

	// upstream is down: the warmed snapshot is served as a stale fallback
	res, err := svc.GetRates(context.Background(), "INR")
	if err != nil {
		t.Fatalf("GetRates: %v", err)
	}
	if !res.Stale || res.Rates["USD"] != 0.011 {
		t.Errorf("Expected stale warmed rates, got %+v", res)
	}

	if err := newTestService(f, nil, nil).WarmStart(context.Background(), "INR"); err == nil {
		t.Error("Expected error without repository, got nil")
	}
}
