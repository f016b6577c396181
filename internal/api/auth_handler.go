// auth_handler.go -- POST /register, /login, /logout and GET /session.
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/MGallo-Code/cinesense/internal/auth"
	"github.com/MGallo-Code/cinesense/internal/session"
	"github.com/MGallo-Code/cinesense/internal/store"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register handles POST /register. Returns 201 with user_id, 400 for
// validation errors, 409 for a taken username.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		logWarn(r, "failed to decode register input", "error", err)
		badRequest(w, "error decoding request body")
		return
	}
	in.Username = strings.TrimSpace(in.Username)

	if msg := auth.ValidateUsername(in.Username); msg != "" {
		badRequest(w, msg)
		return
	}
	if msg := auth.ValidatePassword(in.Password); msg != "" {
		badRequest(w, msg)
		return
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		internalServerError(w, r, err)
		return
	}
	userID, err := uuid.NewV7()
	if err != nil {
		internalServerError(w, r, err)
		return
	}

	ctx, cancel := h.dbContext(r.Context())
	defer cancel()
	if err := h.Users.CreateUser(ctx, userID, in.Username, hash); err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			logInfo(r, "registration attempted with existing username")
		}
		writeError(w, r, err)
		return
	}

	logInfo(r, "user registered", "user_id", userID)
	writeJSON(w, http.StatusCreated, map[string]string{"user_id": userID.String()})
}

// Login handles POST /login. Verifies the password, opens a session and
// sets the session cookie. Unknown users run a dummy hash so both failure
// paths take the same time.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var in credentials
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		logWarn(r, "failed to decode login input", "error", err)
		badRequest(w, "error decoding request body")
		return
	}
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" || in.Password == "" {
		unauthorized(w, "invalid credentials")
		return
	}

	// Limit before any DB work so rejected requests never reach Argon2id.
	if h.RL != nil {
		if err := h.RL.Allow(r.Context(), "login:username:"+strings.ToLower(in.Username), h.LoginPolicy); err != nil {
			if errors.Is(err, store.ErrRateLimitExceeded) {
				logInfo(r, "login failed", "reason", "rate_limited")
				tooManyRequests(w)
				return
			}
			internalServerError(w, r, err)
			return
		}
	}

	ctx, cancel := h.dbContext(r.Context())
	defer cancel()
	user, err := h.Users.GetUserByUsername(ctx, in.Username)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			auth.VerifyDummy(in.Password)
			logInfo(r, "login attempted with non-existent username")
			unauthorized(w, "invalid credentials")
			return
		}
		internalServerError(w, r, err)
		return
	}

	valid, err := auth.VerifyPassword(in.Password, user.PasswordHash)
	if err != nil {
		internalServerError(w, r, err)
		return
	}
	if !valid {
		logInfo(r, "login attempted with incorrect password", "user_id", user.ID)
		unauthorized(w, "invalid credentials")
		return
	}

	token, err := h.Sessions.Create(user.ID, user.Username)
	if err != nil {
		internalServerError(w, r, err)
		return
	}
	h.setSessionCookie(w, token)
	logInfo(r, "user logged in", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id":  user.ID.String(),
		"username": user.Username,
	})
}

// Logout handles POST /logout. Idempotent: a missing or stale cookie still
// gets a cleared cookie and 200.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(h.cookieName()); err == nil && c.Value != "" {
		if h.Sessions.Delete(c.Value) {
			logInfo(r, "user logged out")
		}
	}
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, messageBody{Message: "logged out"})
}

type sessionResponse struct {
	UserID    string        `json:"user_id"`
	Username  string        `json:"username"`
	ExpiresAt time.Time     `json:"expires_at"`
	Mood      *session.Mood `json:"mood"`
}

// GetSession handles GET /session. Requires RequireSession.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		internalServerError(w, r, errors.New("missing session context"))
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		UserID:    sess.UserID.String(),
		Username:  sess.Username,
		ExpiresAt: sess.ExpiresAt,
		Mood:      sess.Mood,
	})
}
