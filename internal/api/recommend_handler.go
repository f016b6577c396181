// recommend_handler.go -- POST /submit: mood questionnaire to ranked movies.
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/MGallo-Code/cinesense/internal/apperr"
	"github.com/MGallo-Code/cinesense/internal/features"
	"github.com/MGallo-Code/cinesense/internal/metrics"
	"github.com/MGallo-Code/cinesense/internal/ranking"
	"github.com/MGallo-Code/cinesense/internal/session"
)

type submitRequest struct {
	Q1    int    `json:"q1"`
	Q2    int    `json:"q2"`
	Q3    int    `json:"q3"`
	Genre string `json:"genre" validate:"max=64"`
}

type moodResponse struct {
	Valence      float64 `json:"valence"`
	Arousal      float64 `json:"arousal"`
	Genre        string  `json:"genre"`
	GenreOutcome string  `json:"genre_outcome"`
}

type submitResponse struct {
	Mood            moodResponse             `json:"mood"`
	Filter          string                   `json:"filter"`
	Recommendations []ranking.Recommendation `json:"recommendations"`
}

// Submit handles POST /submit. Normalizes the answers, caches the mood on
// the session for later feedback, and ranks the catalog.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		internalServerError(w, r, errors.New("missing session context"))
		return
	}

	var in submitRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		logWarn(r, "failed to decode submit input", "error", err)
		badRequest(w, "error decoding request body")
		return
	}
	if err := validate.Struct(in); err != nil {
		writeError(w, r, fmt.Errorf("submit: %w", apperr.ErrValidation))
		return
	}

	mood, err := h.Features.NormalizeMood(features.Answers{Q1: in.Q1, Q2: in.Q2, Q3: in.Q3}, in.Genre)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if !h.Sessions.UpdateMood(sess.Token, session.Mood{
		Valence: mood.Valence,
		Arousal: mood.Arousal,
		Genre:   mood.Genre.Label,
	}) {
		logWarn(r, "could not cache mood for feedback", "user_id", sess.UserID)
	}

	items, err := h.Catalog.All(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	batch, err := h.Features.BuildRows(mood, items)
	if err != nil {
		writeError(w, r, err)
		return
	}
	recs, err := ranking.Rank(batch, h.TopK)
	if err != nil {
		writeError(w, r, err)
		return
	}

	metrics.RecommendRequests.WithLabelValues(string(mood.Genre.Outcome), string(batch.Filter)).Inc()
	logDebug(r, "recommendations served",
		"user_id", sess.UserID,
		"genre", mood.Genre.Label,
		"genre_outcome", mood.Genre.Outcome,
		"filter", batch.Filter,
		"candidates", len(batch.Items),
	)

	writeJSON(w, http.StatusOK, submitResponse{
		Mood: moodResponse{
			Valence:      mood.Valence,
			Arousal:      mood.Arousal,
			Genre:        mood.Genre.Label,
			GenreOutcome: string(mood.Genre.Outcome),
		},
		Filter:          string(batch.Filter),
		Recommendations: recs,
	})
}
