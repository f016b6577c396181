// vote_handler.go -- POST /vote and GET /history.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/MGallo-Code/cinesense/internal/apperr"
)

type voteRequest struct {
	MovieID int64   `json:"movie_id" validate:"gt=0"`
	Vote    float64 `json:"vote" validate:"gte=1,lte=5"`
}

type voteResponse struct {
	WatchID        int64   `json:"watch_id"`
	MovieID        int64   `json:"movie_id"`
	Vote           float64 `json:"vote"`
	FeedbackLogged bool    `json:"feedback_logged"`
}

// Vote handles POST /vote. The watch-history write decides the status; the
// training sample is best effort and reported as feedback_logged.
func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		internalServerError(w, r, errors.New("missing session context"))
		return
	}

	var in voteRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		logWarn(r, "failed to decode vote input", "error", err)
		badRequest(w, "error decoding request body")
		return
	}
	if err := validate.Struct(in); err != nil {
		writeError(w, r, fmt.Errorf("vote: %w", apperr.ErrValidation))
		return
	}

	ctx, cancel := h.dbContext(r.Context())
	defer cancel()
	res, err := h.Votes.RecordVote(ctx, sess, in.MovieID, in.Vote)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logInfo(r, "vote recorded", "user_id", sess.UserID, "movie_id", in.MovieID, "feedback_logged", res.FeedbackLogged)
	writeJSON(w, http.StatusOK, voteResponse{
		WatchID:        res.WatchID,
		MovieID:        in.MovieID,
		Vote:           in.Vote,
		FeedbackLogged: res.FeedbackLogged,
	})
}

type historyEntry struct {
	WatchID   int64     `json:"watch_id"`
	MovieID   int64     `json:"movie_id"`
	Title     string    `json:"title"`
	Poster    *string   `json:"poster"`
	Vote      float64   `json:"vote"`
	WatchedAt time.Time `json:"watched_at"`
}

// ListHistory handles GET /history, most recent first.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		internalServerError(w, r, errors.New("missing session context"))
		return
	}

	ctx, cancel := h.dbContext(r.Context())
	defer cancel()
	rows, err := h.History.ListWatchHistory(ctx, sess.UserID)
	if err != nil {
		internalServerError(w, r, err)
		return
	}

	out := make([]historyEntry, len(rows))
	for i, e := range rows {
		out[i] = historyEntry{
			WatchID:   e.WatchID,
			MovieID:   e.MovieID,
			Title:     e.Title,
			Poster:    e.Poster,
			Vote:      e.Vote,
			WatchedAt: e.WatchedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}
