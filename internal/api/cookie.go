// cookie.go -- Session cookie management.
package api

import (
	"net/http"
	"time"
)

// Browsers drop __Host- cookies that are not Secure, so plain-http
// development falls back to an unprefixed name.
const (
	sessionCookie         = "__Host-session"
	insecureSessionCookie = "session"
)

func (h *Handler) cookieName() string {
	if h.CookieSecure {
		return sessionCookie
	}
	return insecureSessionCookie
}

// setSessionCookie writes the session cookie with HttpOnly, SameSite=Lax.
func (h *Handler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName(),
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.SessionTTL / time.Second),
	})
}

// clearSessionCookie overwrites the cookie with MaxAge=-1.
func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName(),
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
