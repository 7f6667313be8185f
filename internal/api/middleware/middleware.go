// Package middleware provides HTTP middleware for request ID tracking and logging.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const requestIDKey contextKey = "request_id"
const headerRequestID = "X-Request-Id"

// RequestIDFromContext returns the correlation ID set by RequestIDMiddleware, or "".
func RequestIDFromContext(ctx context.Context) string {
	reqID, _ := ctx.Value(requestIDKey).(string)
	return reqID
}

// RequestIDMiddleware ensures each request has a correlation ID
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(headerRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		w.Header().Set(headerRequestID, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLoggingMiddleware logs each HTTP request once it has been served.
// Server errors are logged at warn level.
func RequestLoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w}
			next.ServeHTTP(ww, r)
			if ww.status == 0 {
				ww.status = http.StatusOK
			}

			fields := []interface{}{
				"request_id", RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"status", ww.status,
				"bytes", ww.size,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if ww.status >= http.StatusInternalServerError {
				logger.Warnw("HTTP request failed", fields...)
				return
			}
			logger.Infow("HTTP request", fields...)
		})
	}
}

// responseWriter is a wrapper to capture HTTP status and size
type responseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

// WriteHeader captures status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size
func (rw *responseWriter) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}
