// Package retrain rebuilds the regressor from accumulated feedback and
// rotates it into place.
package retrain

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/MGallo-Code/cinesense/internal/apperr"
	"github.com/MGallo-Code/cinesense/internal/metrics"
	"github.com/MGallo-Code/cinesense/internal/model"
	"github.com/MGallo-Code/cinesense/internal/store"
)

// Training data sources.
const (
	SourceFeedbackOnly     = "feedback_only"
	SourceWithBootstrap    = "feedback_with_bootstrap"
	SourceBootstrapMissing = "feedback_without_bootstrap"
)

// FeedbackSource yields every stored training sample.
// Satisfied by *store.PostgresStore.
type FeedbackSource interface {
	ListFeedback(ctx context.Context) ([]store.FeedbackSample, error)
}

// Config controls data composition and the forest.
type Config struct {
	// More than Threshold feedback rows means bootstrap data is left out.
	Threshold     int
	BootstrapPath string
	Forest        model.ForestParams
}

// Result describes a completed retrain.
type Result struct {
	Source        string
	FeedbackRows  int
	BootstrapRows int
	TrainingRows  int
	Version       int64
}

// Trainer runs retrains. It does not serialize callers; the pipeline does.
type Trainer struct {
	feedback  FeedbackSource
	artifacts *model.ArtifactStore
	slot      *model.Slot
	cfg       Config
	now       func() time.Time
	bootstrap func(path string) ([]store.FeedbackSample, error)
	fit       func(ctx context.Context, X [][]float64, y []float64, params model.ForestParams) (*model.Forest, error)
}

// NewTrainer returns a Trainer that rotates into artifacts and reloads slot.
func NewTrainer(feedback FeedbackSource, artifacts *model.ArtifactStore, slot *model.Slot, cfg Config) *Trainer {
	return &Trainer{
		feedback:  feedback,
		artifacts: artifacts,
		slot:      slot,
		cfg:       cfg,
		now:       time.Now,
		bootstrap: LoadBootstrap,
		fit:       model.FitForest,
	}
}

// Retrain fits a fresh model, rotates it in, and reloads the slot. A failure
// before rotation leaves both the current artifact and the slot unchanged.
func (t *Trainer) Retrain(ctx context.Context) (Result, error) {
	start := t.now()

	samples, err := t.feedback.ListFeedback(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("listing feedback: %w: %w", apperr.ErrUpstream, err)
	}
	samples = dropInvalid(samples)

	// Feedback alone above the threshold, otherwise topped up with bootstrap
	rows, res, err := t.compose(samples)
	if err != nil {
		return res, err
	}

	// Encoder is fixed; only the regressor is refit
	enc, err := t.artifacts.LoadEncoder()
	if err != nil {
		return res, fmt.Errorf("loading encoder: %w", err)
	}

	X, y, err := designMatrix(enc, rows)
	if err != nil {
		return res, err
	}

	forest, err := t.fit(ctx, X, y, t.cfg.Forest)
	if err != nil {
		return res, err
	}
	// Past the stage deadline: keep the current artifact
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("retrain cancelled before rotation: %w", err)
	}

	trainedAt := t.now().UTC()
	art := &model.Artifact{
		Version:      trainedAt.UnixMilli(),
		TrainedAt:    trainedAt,
		TrainingRows: len(rows),
		Columns:      enc.ModelColumns(),
		Forest:       forest,
	}
	// Swap files, then point the slot at the new model
	if err := t.artifacts.Rotate(art); err != nil {
		return res, fmt.Errorf("rotating model: %w", err)
	}
	if err := t.slot.Reload(t.artifacts); err != nil {
		return res, fmt.Errorf("reloading model: %w", err)
	}

	res.Version = art.Version
	metrics.TrainingRows.WithLabelValues("feedback").Set(float64(res.FeedbackRows))
	metrics.TrainingRows.WithLabelValues("bootstrap").Set(float64(res.BootstrapRows))
	slog.Info("retrain complete",
		"source", res.Source,
		"feedback_rows", res.FeedbackRows,
		"bootstrap_rows", res.BootstrapRows,
		"version", res.Version,
		"duration", t.now().Sub(start),
	)
	return res, nil
}

// compose applies the data sourcing policy.
func (t *Trainer) compose(feedback []store.FeedbackSample) ([]store.FeedbackSample, Result, error) {
	res := Result{FeedbackRows: len(feedback)}

	if len(feedback) > t.cfg.Threshold {
		res.Source = SourceFeedbackOnly
		res.TrainingRows = len(feedback)
		slog.Info("training on feedback only", "feedback_rows", len(feedback), "threshold", t.cfg.Threshold)
		return feedback, res, nil
	}

	boot, err := t.bootstrap(t.cfg.BootstrapPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if len(feedback) == 0 {
			return nil, res, fmt.Errorf("no feedback and no bootstrap dataset at %s: %w", t.cfg.BootstrapPath, apperr.ErrDataUnavailable)
		}
		slog.Warn("bootstrap dataset missing, training on feedback only", "path", t.cfg.BootstrapPath)
		res.Source = SourceBootstrapMissing
		res.TrainingRows = len(feedback)
		return feedback, res, nil
	case err != nil:
		return nil, res, fmt.Errorf("loading bootstrap dataset: %w", err)
	}

	rows := make([]store.FeedbackSample, 0, len(feedback)+len(boot))
	rows = append(rows, feedback...)
	rows = append(rows, boot...)
	if len(rows) == 0 {
		return nil, res, fmt.Errorf("no training rows: %w", apperr.ErrDataUnavailable)
	}
	res.Source = SourceWithBootstrap
	res.BootstrapRows = len(boot)
	res.TrainingRows = len(rows)
	slog.Info("training on feedback plus bootstrap", "feedback_rows", len(feedback), "bootstrap_rows", len(boot))
	return rows, res, nil
}

// designMatrix lays rows out as numeric columns followed by the encoded
// (user_genre, movie_genre) pair, matching enc.ModelColumns. Genres are
// folded to the encoder's spelling first, as BuildRows does at inference.
func designMatrix(enc *model.Encoder, rows []store.FeedbackSample) ([][]float64, []float64, error) {
	X := make([][]float64, len(rows))
	y := make([]float64, len(rows))
	for i, r := range rows {
		oh, err := enc.Transform(
			encoderLabel(enc, model.UserGenreColumn, r.UserGenre),
			encoderLabel(enc, model.MovieGenreColumn, r.MovieGenre),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding row %d: %w", i, err)
		}
		row := make([]float64, 0, len(model.NumericColumns)+len(oh))
		row = append(row, r.UserValence, r.UserArousal, r.MovieValence, r.MovieArousal)
		X[i] = append(row, oh...)
		y[i] = r.Vote
	}
	return X, y, nil
}

// encoderLabel returns the vocabulary spelling of v, or v unchanged when the
// column does not know it.
func encoderLabel(enc *model.Encoder, column int, v string) string {
	if label, ok := enc.Lookup(column, strings.TrimSpace(v)); ok {
		return label
	}
	return v
}

func dropInvalid(in []store.FeedbackSample) []store.FeedbackSample {
	out := in[:0:0]
	for _, s := range in {
		if finite(s.UserValence, s.UserArousal, s.MovieValence, s.MovieArousal, s.Vote) {
			out = append(out, s)
		}
	}
	return out
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
