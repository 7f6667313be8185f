package api

import (
	"database/sql"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// ReadyResponse represents the readiness response
type ReadyResponse struct {
	Status string `json:"status" example:"ready"`
}

// HandleHealthz godoc
// @Summary Health check (liveness)
// @Description Always returns 200 OK if the service is running. Used for liveness probes.
// @Tags health
// @Produce plain
// @Success 200 {string} string "OK"
// @Router /healthz [get]
func HandleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("OK"))
	}
}

// HandleReadyz godoc
// @Summary Readiness check
// @Description Checks connectivity to Postgres, the rates cache Redis and the task queue Redis. Returns 200 only when all of them are reachable. Upstream rate providers are not checked.
// @Tags health
// @Produce json
// @Success 200 {object} ReadyResponse "All dependencies ready"
// @Failure 503 {object} ErrorResponse "At least one dependency unavailable"
// @Router /readyz [get]
func HandleReadyz(db *sql.DB, cache, queue *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "DB not ready")
				return
			}
		}

		if cache != nil {
			if err := cache.Ping(r.Context()).Err(); err != nil {
				writeError(w, http.StatusServiceUnavailable, "Cache not ready")
				return
			}
		}

		if queue != nil {
			if err := queue.Ping(r.Context()).Err(); err != nil {
				writeError(w, http.StatusServiceUnavailable, "Task queue not ready")
				return
			}
		}

		writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready"})
	}
}
