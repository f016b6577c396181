// model.go
//
// Small trained artifacts for tests that need a loaded model slot.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/MGallo-Code/cinesense/internal/model"
)

// TestGenres is the vocabulary of TestEncoder, for both columns.
var TestGenres = []string{"Action", "Animation", "Comedy", "Documentary", "Drama", "Music", "Romance", "Science Fiction"}

// TestEncoder returns an encoder over TestGenres.
func TestEncoder() *model.Encoder {
	return &model.Encoder{
		Columns:    []string{"user_genre", "movie_genre"},
		Categories: [][]string{append([]string(nil), TestGenres...), append([]string(nil), TestGenres...)},
	}
}

// TrainedArtifact returns an artifact (encoder attached) whose score rises
// with movie valence, so rankings are predictable.
func TrainedArtifact(tb testing.TB) *model.Artifact {
	tb.Helper()
	enc := TestEncoder()
	oh, err := enc.Transform("Drama", "Drama")
	if err != nil {
		tb.Fatalf("Transform: %v", err)
	}

	var X [][]float64
	var y []float64
	for i := 0; i <= 50; i++ {
		mv := float64(i) / 50
		row := append([]float64{0.5, 0.5, mv, 0.5}, oh...)
		X = append(X, row)
		y = append(y, 1+4*mv)
	}
	f, err := model.FitForest(context.Background(), X, y, model.ForestParams{Trees: 5, MinLeaf: 1, Seed: 42})
	if err != nil {
		tb.Fatalf("FitForest: %v", err)
	}
	return &model.Artifact{
		Version:      1,
		TrainedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		TrainingRows: len(X),
		Columns:      enc.ModelColumns(),
		Forest:       f,
		Encoder:      enc,
	}
}

// LoadedSlot returns a slot holding TrainedArtifact.
func LoadedSlot(tb testing.TB) *model.Slot {
	tb.Helper()
	var s model.Slot
	s.Set(TrainedArtifact(tb))
	return &s
}
