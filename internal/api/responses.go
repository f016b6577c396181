// responses.go -- JSON response helpers.
//
// Error bodies are always {"message": ...} built from fixed strings or
// apperr.Message; raw error text never reaches the client.
package api

import (
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/MGallo-Code/cinesense/internal/apperr"
)

type messageBody struct {
	Message string `json:"message"`
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response failed", "error", err)
	}
}

// writeError classifies err through the apperr taxonomy. 5xx are logged at
// error level, client errors at warn.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logError(r, "request failed", "status", status, "error", err)
	} else {
		logWarn(r, "request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, messageBody{Message: apperr.Message(err)})
}

// badRequest returns 400 with a fixed client-facing message.
func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, messageBody{Message: message})
}

// unauthorized returns 401. Keep messages generic to prevent enumeration.
func unauthorized(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, messageBody{Message: message})
}

// tooManyRequests returns 429 for a locked-out caller.
func tooManyRequests(w http.ResponseWriter) {
	writeJSON(w, http.StatusTooManyRequests, messageBody{Message: "too many requests, try again later"})
}

// internalServerError logs err and returns a generic 500.
func internalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	writeJSON(w, http.StatusInternalServerError, messageBody{Message: "internal server error"})
}
