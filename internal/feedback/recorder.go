// Package feedback records votes and, when the session still carries the mood
// that produced the recommendation, a labeled training sample.
package feedback

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MGallo-Code/cinesense/internal/apperr"
	"github.com/MGallo-Code/cinesense/internal/catalog"
	"github.com/MGallo-Code/cinesense/internal/features"
	"github.com/MGallo-Code/cinesense/internal/metrics"
	"github.com/MGallo-Code/cinesense/internal/session"
	"github.com/MGallo-Code/cinesense/internal/store"
	"github.com/gofrs/uuid/v5"
)

// Votes are on the same 1-5 scale as the questionnaire.
const (
	MinVote = 1
	MaxVote = 5
)

// Store persists watch history and samples, both keyed by (user, movie).
// Satisfied by *store.PostgresStore.
type Store interface {
	UpsertWatched(ctx context.Context, userID uuid.UUID, movieID int64, vote float64) (int64, error)
	UpsertFeedback(ctx context.Context, fs store.FeedbackSample) error
}

// Items looks up catalog items. Satisfied by *catalog.Cache.
type Items interface {
	Lookup(ctx context.Context, id int64) (catalog.Item, bool, error)
}

// Result is the outcome of one vote.
type Result struct {
	WatchID        int64
	FeedbackLogged bool
	Sample         *store.FeedbackSample
}

// Recorder handles votes.
type Recorder struct {
	store        Store
	items        Items
	defaultGenre string
}

// NewRecorder returns a Recorder.
func NewRecorder(st Store, items Items, defaultGenre string) *Recorder {
	return &Recorder{store: st, items: items, defaultGenre: defaultGenre}
}

// RecordVote writes the watch-history row, then tries to write a sample.
// Only the watch-history write can fail the call; sample problems are logged
// and reported through Result.FeedbackLogged.
func (r *Recorder) RecordVote(ctx context.Context, sess *session.Session, movieID int64, vote float64) (Result, error) {
	if sess == nil {
		return Result{}, apperr.ErrNotAuthenticated
	}
	if vote < MinVote || vote > MaxVote {
		return Result{}, fmt.Errorf("vote %v outside %d-%d: %w", vote, MinVote, MaxVote, apperr.ErrValidation)
	}

	// Watch history is the vote of record
	watchID, err := r.store.UpsertWatched(ctx, sess.UserID, movieID, vote)
	if err != nil {
		return Result{}, fmt.Errorf("recording watch: %w", err)
	}
	res := Result{WatchID: watchID}

	// Training sample is best effort from here on
	sample, reason := r.buildSample(ctx, sess, movieID, vote)
	if sample == nil {
		slog.Info("feedback sample skipped", "user_id", sess.UserID, "movie_id", movieID, "reason", reason)
		metrics.Votes.WithLabelValues("false").Inc()
		return res, nil
	}

	if err := r.store.UpsertFeedback(ctx, *sample); err != nil {
		slog.Error("feedback sample not saved", "user_id", sess.UserID, "movie_id", movieID, "error", err)
		metrics.Votes.WithLabelValues("false").Inc()
		return res, nil
	}

	res.FeedbackLogged = true
	res.Sample = sample
	metrics.Votes.WithLabelValues("true").Inc()
	return res, nil
}

// buildSample pairs the session's mood with the item's affect. A nil sample
// comes with the reason it was skipped.
func (r *Recorder) buildSample(ctx context.Context, sess *session.Session, movieID int64, vote float64) (*store.FeedbackSample, string) {
	if sess.Mood == nil {
		return nil, "no_mood"
	}
	item, ok, err := r.items.Lookup(ctx, movieID)
	if err != nil {
		slog.Warn("catalog lookup failed for feedback", "movie_id", movieID, "error", err)
		return nil, "lookup_failed"
	}
	if !ok {
		return nil, "not_cached"
	}

	return &store.FeedbackSample{
		UserID:       sess.UserID,
		MovieID:      movieID,
		UserValence:  sess.Mood.Valence,
		UserArousal:  sess.Mood.Arousal,
		UserGenre:    sess.Mood.Genre,
		MovieValence: item.Valence,
		MovieArousal: item.Arousal,
		MovieGenre:   features.ItemGenre(item, sess.Mood.Genre, r.defaultGenre),
		Vote:         vote,
	}, ""
}
