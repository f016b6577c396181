package model

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/MGallo-Code/cinesense/internal/apperr"
)

func testEncoder() *Encoder {
	return &Encoder{
		Columns: []string{"user_genre", "movie_genre"},
		Categories: [][]string{
			{"Comedy", "Drama", "Science Fiction"},
			{"Comedy", "Drama", "Science Fiction"},
		},
	}
}

// trainSmall fits a tiny forest where the target is 5 when movie valence is
// below 0.5 and 1 otherwise.
func trainSmall(t *testing.T, version int64) *Artifact {
	t.Helper()
	enc := testEncoder()
	var X [][]float64
	var y []float64
	for i := 0; i < 40; i++ {
		uv := float64(i%5) / 5
		mv := float64(i) / 40
		target := 5.0
		if mv >= 0.5 {
			target = 1
		}
		oh, _ := enc.Transform("Drama", "Drama")
		row := append([]float64{uv, 0.5, mv, 0.5}, oh...)
		X = append(X, row)
		y = append(y, target)
	}
	f, err := FitForest(context.Background(), X, y, ForestParams{Trees: 8, MinLeaf: 1, Seed: 1})
	if err != nil {
		t.Fatalf("FitForest: %v", err)
	}
	return &Artifact{
		Version:      version,
		TrainedAt:    time.Unix(version, 0).UTC(),
		TrainingRows: len(X),
		Columns:      enc.ModelColumns(),
		Forest:       f,
	}
}

// --- Encoder ---

func TestEncoder(t *testing.T) {
	enc := testEncoder()

	t.Run("feature names follow column_category", func(t *testing.T) {
		names := enc.FeatureNames()
		if len(names) != 6 || names[0] != "user_genre_Comedy" || names[5] != "movie_genre_Science Fiction" {
			t.Errorf("unexpected names %v", names)
		}
	})

	t.Run("known values set one bit per column", func(t *testing.T) {
		got, err := enc.Transform("Drama", "Science Fiction")
		if err != nil {
			t.Fatalf("Transform: %v", err)
		}
		want := []float64{0, 1, 0, 0, 0, 1}
		if !slices.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("unknown value encodes to zeros", func(t *testing.T) {
		got, _ := enc.Transform("Western", "Comedy")
		want := []float64{0, 0, 0, 1, 0, 0}
		if !slices.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("wrong arity errors", func(t *testing.T) {
		if _, err := enc.Transform("Drama"); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("lookup ignores case and returns vocabulary spelling", func(t *testing.T) {
		got, ok := enc.Lookup(UserGenreColumn, "science fiction")
		if !ok || got != "Science Fiction" {
			t.Errorf("Lookup: %q %v", got, ok)
		}
		if _, ok := enc.Lookup(UserGenreColumn, "Western"); ok {
			t.Error("Western should be unknown")
		}
	})

	t.Run("model columns start with numerics", func(t *testing.T) {
		cols := enc.ModelColumns()
		if !slices.Equal(cols[:4], NumericColumns) || len(cols) != 10 {
			t.Errorf("unexpected columns %v", cols)
		}
	})

	t.Run("validate rejects mismatched lists", func(t *testing.T) {
		bad := &Encoder{Columns: []string{"a", "b"}, Categories: [][]string{{"x"}}}
		if err := bad.Validate(); err == nil {
			t.Error("expected error")
		}
	})
}

// --- Forest ---

func TestFitForest(t *testing.T) {
	t.Run("learns a separable target", func(t *testing.T) {
		a := trainSmall(t, 1)
		oh, _ := testEncoder().Transform("Drama", "Drama")
		low := append([]float64{0.3, 0.5, 0.2, 0.5}, oh...)
		high := append([]float64{0.3, 0.5, 0.8, 0.5}, oh...)
		scores, err := a.Predict([][]float64{low, high})
		if err != nil {
			t.Fatalf("Predict: %v", err)
		}
		if scores[0] <= scores[1] {
			t.Errorf("low movie valence should score higher: %v", scores)
		}
	})

	t.Run("same seed gives same forest", func(t *testing.T) {
		a := trainSmall(t, 1)
		b := trainSmall(t, 1)
		row := make([]float64, len(a.Columns))
		row[0], row[2] = 0.8, 0.2
		pa, _ := a.Predict([][]float64{row})
		pb, _ := b.Predict([][]float64{row})
		if pa[0] != pb[0] {
			t.Errorf("non-deterministic: %v vs %v", pa, pb)
		}
	})

	t.Run("constant target yields single leaves", func(t *testing.T) {
		X := [][]float64{{0}, {1}, {2}}
		f, err := FitForest(context.Background(), X, []float64{3, 3, 3}, ForestParams{Trees: 3})
		if err != nil {
			t.Fatalf("FitForest: %v", err)
		}
		for _, tr := range f.Trees {
			if len(tr.Nodes) != 1 {
				t.Errorf("expected leaf-only tree, got %d nodes", len(tr.Nodes))
			}
		}
		if got := f.Predict([]float64{10}); got != 3 {
			t.Errorf("Predict = %v, want 3", got)
		}
	})

	t.Run("max depth bounds the tree", func(t *testing.T) {
		var X [][]float64
		var y []float64
		for i := 0; i < 64; i++ {
			X = append(X, []float64{float64(i)})
			y = append(y, float64(i))
		}
		f, _ := FitForest(context.Background(), X, y, ForestParams{Trees: 1, MaxDepth: 2})
		if n := len(f.Trees[0].Nodes); n > 7 {
			t.Errorf("depth-2 tree has %d nodes", n)
		}
	})

	t.Run("rejects ragged and empty input", func(t *testing.T) {
		if _, err := FitForest(context.Background(), nil, nil, DefaultForestParams()); err == nil {
			t.Error("expected error for empty input")
		}
		if _, err := FitForest(context.Background(), [][]float64{{1, 2}, {1}}, []float64{1, 2}, DefaultForestParams()); err == nil {
			t.Error("expected error for ragged rows")
		}
	})

	t.Run("cancelled context aborts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := FitForest(ctx, [][]float64{{1}, {2}}, []float64{1, 2}, ForestParams{Trees: 4})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("predict batch checks width", func(t *testing.T) {
		a := trainSmall(t, 1)
		if _, err := a.Predict([][]float64{{1, 2}}); err == nil {
			t.Error("expected width error")
		}
	})
}

// --- ArtifactStore ---

func newStore(t *testing.T) *ArtifactStore {
	t.Helper()
	s, err := NewArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewArtifactStore: %v", err)
	}
	return s
}

func TestRotate(t *testing.T) {
	t.Run("first rotation creates current only", func(t *testing.T) {
		s := newStore(t)
		if err := s.Rotate(trainSmall(t, 1)); err != nil {
			t.Fatalf("Rotate: %v", err)
		}
		if _, err := os.Stat(filepath.Join(s.Dir(), PreviousFile)); !os.IsNotExist(err) {
			t.Errorf("previous should not exist yet, stat err = %v", err)
		}
		a, err := s.LoadCurrent()
		if err != nil || a.Version != 1 {
			t.Fatalf("LoadCurrent: %+v %v", a, err)
		}
	})

	t.Run("keeps exactly one previous generation", func(t *testing.T) {
		s := newStore(t)
		for v := int64(1); v <= 3; v++ {
			if err := s.Rotate(trainSmall(t, v)); err != nil {
				t.Fatalf("Rotate v%d: %v", v, err)
			}
		}
		cur, _ := s.loadModel(CurrentFile)
		prev, _ := s.loadModel(PreviousFile)
		if cur.Version != 3 || prev.Version != 2 {
			t.Errorf("current=v%d previous=v%d, want v3/v2", cur.Version, prev.Version)
		}
		entries, _ := os.ReadDir(s.Dir())
		if len(entries) != 2 {
			t.Errorf("expected 2 files, got %d", len(entries))
		}
	})

	t.Run("crash at any step leaves a loadable current", func(t *testing.T) {
		for _, step := range []string{stepTempWritten, stepPreviousRemoved, stepPreviousLinked} {
			t.Run(step, func(t *testing.T) {
				s := newStore(t)
				s.Rotate(trainSmall(t, 1))
				s.Rotate(trainSmall(t, 2))

				crash := errors.New("simulated crash")
				s.afterStep = func(got string) error {
					if got == step {
						return crash
					}
					return nil
				}
				if err := s.Rotate(trainSmall(t, 3)); !errors.Is(err, crash) {
					t.Fatalf("expected simulated crash, got %v", err)
				}

				cur, err := s.loadModel(CurrentFile)
				if err != nil {
					t.Fatalf("current missing after crash at %s: %v", step, err)
				}
				if cur.Version != 2 {
					t.Errorf("current should still be v2, got v%d", cur.Version)
				}
			})
		}
	})

	t.Run("refuses invalid artifact", func(t *testing.T) {
		s := newStore(t)
		if err := s.Rotate(&Artifact{Version: 1}); err == nil {
			t.Error("expected validation error")
		}
	})

	t.Run("new store clears stale temp files", func(t *testing.T) {
		dir := t.TempDir()
		os.WriteFile(filepath.Join(dir, ".model-123.tmp"), []byte("junk"), 0o644)
		if _, err := NewArtifactStore(dir); err != nil {
			t.Fatalf("NewArtifactStore: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, ".model-123.tmp")); !os.IsNotExist(err) {
			t.Error("stale temp file should be removed")
		}
	})
}

func TestLoadCurrent(t *testing.T) {
	t.Run("empty dir is ErrNoArtifact", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.LoadCurrent(); !errors.Is(err, ErrNoArtifact) {
			t.Errorf("expected ErrNoArtifact, got %v", err)
		}
	})

	t.Run("corrupt current falls back to previous", func(t *testing.T) {
		s := newStore(t)
		s.Rotate(trainSmall(t, 1))
		s.Rotate(trainSmall(t, 2))
		os.WriteFile(filepath.Join(s.Dir(), CurrentFile), []byte("{not json"), 0o644)

		a, err := s.LoadCurrent()
		if err != nil {
			t.Fatalf("LoadCurrent: %v", err)
		}
		if a.Version != 1 {
			t.Errorf("expected fallback to v1, got v%d", a.Version)
		}
	})

	t.Run("both corrupt is ErrNoArtifact", func(t *testing.T) {
		s := newStore(t)
		os.WriteFile(filepath.Join(s.Dir(), CurrentFile), []byte("x"), 0o644)
		os.WriteFile(filepath.Join(s.Dir(), PreviousFile), []byte("y"), 0o644)
		if _, err := s.LoadCurrent(); !errors.Is(err, ErrNoArtifact) {
			t.Errorf("expected ErrNoArtifact, got %v", err)
		}
	})
}

// --- Slot ---

func TestSlot(t *testing.T) {
	t.Run("empty slot is service unavailable", func(t *testing.T) {
		var slot Slot
		if _, err := slot.Get(); !errors.Is(err, apperr.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable, got %v", err)
		}
		if slot.Loaded() {
			t.Error("Loaded should be false")
		}
	})

	t.Run("reload pairs encoder and model", func(t *testing.T) {
		s := newStore(t)
		if err := s.SaveEncoder(testEncoder()); err != nil {
			t.Fatalf("SaveEncoder: %v", err)
		}
		s.Rotate(trainSmall(t, 7))

		var slot Slot
		if err := slot.Reload(s); err != nil {
			t.Fatalf("Reload: %v", err)
		}
		a, err := slot.Get()
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if a.Version != 7 || a.Encoder == nil || a.Encoder.Width() != 6 {
			t.Errorf("unexpected artifact %+v", a)
		}
	})

	t.Run("failed reload keeps active artifact", func(t *testing.T) {
		s := newStore(t)
		s.SaveEncoder(testEncoder())
		s.Rotate(trainSmall(t, 1))
		var slot Slot
		slot.Reload(s)

		os.Remove(filepath.Join(s.Dir(), EncoderFile))
		if err := slot.Reload(s); err == nil {
			t.Fatal("expected reload error")
		}
		a, err := slot.Get()
		if err != nil || a.Version != 1 {
			t.Errorf("active artifact lost: %+v %v", a, err)
		}
	})

	t.Run("readers keep their artifact across a swap", func(t *testing.T) {
		var slot Slot
		first := trainSmall(t, 1)
		first.Encoder = testEncoder()
		slot.Set(first)
		held, _ := slot.Get()

		second := trainSmall(t, 2)
		second.Encoder = testEncoder()
		slot.Set(second)

		if held.Version != 1 {
			t.Error("held artifact mutated")
		}
		now, _ := slot.Get()
		if now.Version != 2 {
			t.Errorf("slot should hold v2, got v%d", now.Version)
		}
	})
}

func TestTreePredictNaNFree(t *testing.T) {
	a := trainSmall(t, 1)
	row := make([]float64, len(a.Columns))
	scores, _ := a.Predict([][]float64{row})
	if math.IsNaN(scores[0]) {
		t.Error("prediction is NaN")
	}
}
