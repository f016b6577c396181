// apperr.go -- Error taxonomy shared across packages.
//
// Components wrap one of these sentinels with fmt.Errorf("...: %w", ...).
// The HTTP layer classifies with errors.Is and maps to a status code.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrNotAuthenticated -- missing, unknown or expired session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNotFound -- no such session, catalog item or user.
	ErrNotFound = errors.New("not found")

	// ErrServiceUnavailable -- model or encoder not loaded.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrDataUnavailable -- empty catalog, or no feedback and no bootstrap data.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrUpstream -- authoritative store or external fetch unreachable.
	ErrUpstream = errors.New("upstream failure")

	// ErrValidation -- malformed input or row.
	ErrValidation = errors.New("validation failure")

	// ErrConflict -- unique constraint hit (duplicate username).
	ErrConflict = errors.New("conflict")
)

// HTTPStatus maps an error to the status code returned to clients.
// Anything outside the taxonomy is a 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDataUnavailable):
		return http.StatusNotFound
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-safe message for err. Never includes err.Error().
func Message(err error) string {
	switch HTTPStatus(err) {
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		if errors.Is(err, ErrDataUnavailable) {
			return "no data available"
		}
		return "not found"
	case http.StatusServiceUnavailable:
		return "service unavailable"
	case http.StatusBadGateway:
		return "upstream unavailable"
	case http.StatusBadRequest:
		return "invalid request"
	case http.StatusConflict:
		return "conflict"
	default:
		return "internal server error"
	}
}
