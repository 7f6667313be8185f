package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"ratesservice/internal/api/middleware"
	"ratesservice/internal/service"
)

// RatesResponse represents the response for a rates lookup
type RatesResponse struct {
	Success bool               `json:"success" example:"true"`
	Base    string             `json:"base" example:"INR"`
	Rates   map[string]float64 `json:"rates"`
}

// ConvertResponse represents the response for an amount conversion
type ConvertResponse struct {
	Success   bool    `json:"success" example:"true"`
	Base      string  `json:"base" example:"INR"`
	Target    string  `json:"target" example:"USD"`
	Amount    float64 `json:"amount" example:"2500"`
	Converted float64 `json:"converted" example:"30"`
	Rate      float64 `json:"rate" example:"0.012"`
}

// RefreshRequest represents the request body for a rate refresh
type RefreshRequest struct {
	Base string `json:"base" example:"INR"`
}

// RefreshResponse represents the response for an accepted refresh request
type RefreshResponse struct {
	Success bool   `json:"success" example:"true"`
	Base    string `json:"base" example:"INR"`
	TaskID  string `json:"task_id" example:"0b7c2c55-4f3b-4d2e-9d0b-5f1d9c5b6c11"`
}

// SnapshotResponse represents one stored rate table
type SnapshotResponse struct {
	ID        string             `json:"id" example:"123e4567-e89b-12d3-a456-426614174000"`
	Rates     map[string]float64 `json:"rates"`
	FetchedAt string             `json:"fetched_at" example:"2026-10-19T10:15:30Z"`
}

// HistoryResponse represents the response for snapshot history
type HistoryResponse struct {
	Success   bool               `json:"success" example:"true"`
	Base      string             `json:"base" example:"INR"`
	Snapshots []SnapshotResponse `json:"snapshots"`
}

// HandleGetRates godoc
// @Summary Get exchange rates for a base currency
// @Description Returns the cached rate table for base, refreshing it when older than the cache TTL. If the refresh fails, the last rates fetched for the same base are returned.
// @Tags exchange
// @Produce json
// @Param base query string false "Base currency code (3 letters), defaults to INR" minlength(3) maxlength(3)
// @Success 200 {object} RatesResponse "Rates for base"
// @Failure 400 {object} ErrorResponse "Invalid currency code format"
// @Failure 500 {object} ErrorResponse "Rates unavailable"
// @Router /api/exchange/rates [get]
func HandleGetRates(svc service.RatesServiceInterface, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.GetRates(r.Context(), r.URL.Query().Get("base"))
		if err != nil {
			if errors.Is(err, service.ErrInvalidCurrency) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			logger.Errorw("Exchange rates unavailable",
				"request_id", middleware.RequestIDFromContext(r.Context()),
				"base", r.URL.Query().Get("base"),
				"error", err)
			writeError(w, http.StatusInternalServerError, msgFetchFailed)
			return
		}

		writeJSON(w, http.StatusOK, RatesResponse{
			Success: true,
			Base:    res.Base,
			Rates:   res.Rates,
		})
	}
}

// HandleConvert godoc
// @Summary Convert an amount between currencies
// @Description Converts amount from base into target using the cached rates for base, rounded to 2 decimal places.
// @Tags exchange
// @Produce json
// @Param amount query number true "Amount in base currency"
// @Param to query string true "Target currency code (3 letters)" minlength(3) maxlength(3)
// @Param base query string false "Base currency code (3 letters), defaults to INR" minlength(3) maxlength(3)
// @Success 200 {object} ConvertResponse "Converted amount"
// @Failure 400 {object} ErrorResponse "Invalid amount, currency code or unsupported target"
// @Failure 500 {object} ErrorResponse "Rates unavailable"
// @Router /api/exchange/convert [get]
func HandleConvert(svc service.RatesServiceInterface, logger *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		amount, err := strconv.ParseFloat(strings.TrimSpace(q.Get("amount")), 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "amount must be a number")
			return
		}
		if q.Get("to") == "" {
			writeError(w, http.StatusBadRequest, "to query param is required")
			return
		}

		res, err := svc.Convert(r.Context(), amount, q.Get("base"), q.Get("to"))
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidCurrency),
				errors.Is(err, service.ErrInvalidAmount),
				errors.Is(err, service.ErrUnknownTarget):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				logger.Errorw("Conversion failed",
					"request_id", middleware.RequestIDFromContext(r.Context()),
					"base", q.Get("base"),
					"to", q.Get("to"),
					"error", err)
				writeError(w, http.StatusInternalServerError, msgFetchFailed)
			}
			return
		}

		writeJSON(w, http.StatusOK, ConvertResponse{
			Success:   true,
			Base:      res.Base,
			Target:    res.Target,
			Amount:    res.Amount,
			Converted: res.Converted,
			Rate:      res.Rate,
		})
	}
}

// HandleRequestRefresh godoc
// @Summary Request asynchronous rate refresh
// @Description Enqueues a background fetch of the rates for base. Returns immediately with the task id.
// @Tags exchange
// @Accept json
// @Produce json
// @Param request body RefreshRequest false "Base currency, defaults to INR"
// @Success 202 {object} RefreshResponse "Refresh accepted"
// @Failure 400 {object} ErrorResponse "Invalid currency code format"
// @Failure 500 {object} ErrorResponse "Internal error"
// @Router /api/exchange/refresh [post]
func HandleRequestRefresh(svc service.RatesServiceInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RefreshRequest
		// An empty body refreshes the default base.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}

		taskID, base, err := svc.RequestRefresh(r.Context(), req.Base)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidCurrency):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "Internal error")
			}
			return
		}

		writeJSON(w, http.StatusAccepted, RefreshResponse{Success: true, Base: base, TaskID: taskID})
	}
}

// HandleGetHistory godoc
// @Summary List stored rate snapshots
// @Description Returns the most recent successfully fetched rate tables for base, newest first.
// @Tags exchange
// @Produce json
// @Param base query string false "Base currency code (3 letters), defaults to INR" minlength(3) maxlength(3)
// @Param limit query int false "Maximum number of snapshots (1-100)" default(10)
// @Success 200 {object} HistoryResponse "Stored snapshots"
// @Failure 400 {object} ErrorResponse "Invalid currency code or limit"
// @Failure 500 {object} ErrorResponse "Internal error"
// @Router /api/exchange/history [get]
func HandleGetHistory(svc service.RatesServiceInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		snaps, base, err := svc.History(r.Context(), r.URL.Query().Get("base"), limit)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidCurrency):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "Internal error")
			}
			return
		}

		resp := HistoryResponse{Success: true, Base: base, Snapshots: make([]SnapshotResponse, 0, len(snaps))}
		for _, s := range snaps {
			resp.Snapshots = append(resp.Snapshots, SnapshotResponse{
				ID:        s.ID,
				Rates:     s.Rates,
				FetchedAt: s.FetchedAt.UTC().Format(time.RFC3339),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
