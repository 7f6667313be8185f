// Package api implements HTTP handlers for the exchange rate service.
package api

import (
	"encoding/json"
	"net/http"
)

// encodeFailedBody is sent when a response cannot be encoded.
const encodeFailedBody = `{"success":false,"error":"Internal error"}` + "\n"

// msgFetchFailed is the only detail clients get when rates cannot be served.
const msgFetchFailed = "Failed to fetch exchange rates"

// ErrorResponse represents an error response
type ErrorResponse struct {
	Success bool   `json:"success" example:"false"`
	Error   string `json:"error" example:"Failed to fetch exchange rates"`
}

// writeJSON writes a JSON response with the given status code.
// Data that cannot be encoded yields a 500 instead of a partial body.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(encodeFailedBody))
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: msg})
}
