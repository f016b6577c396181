// middleware.go

// Session and admin-token middleware.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/MGallo-Code/cinesense/internal/session"
)

// contextKey is unexported to prevent collisions with other packages.
type contextKey string

const sessionKey contextKey = "session"

// SessionFromContext returns the session RequireSession resolved.
// Returns false if RequireSession hasn't run.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	s, ok := ctx.Value(sessionKey).(*session.Session)
	return s, ok
}

// RequireSession resolves the session cookie through the session
// store (sliding the expiry) and injects the session; 401 otherwise.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(h.cookieName())
		if err != nil || c.Value == "" {
			logWarn(r, "require session failed", "reason", "missing_session_cookie")
			unauthorized(w, "unauthorized")
			return
		}
		sess, ok := h.Sessions.Get(c.Value)
		if !ok {
			logWarn(r, "require session failed", "reason", "session_not_found")
			unauthorized(w, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey, &sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin checks X-Admin-Token against the configured token in
// constant time. An empty configured token rejects everything.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Admin-Token")
		if h.AdminToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.AdminToken)) != 1 {
			logWarn(r, "admin token rejected")
			writeJSON(w, http.StatusForbidden, messageBody{Message: "forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
