package retrain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MGallo-Code/cinesense/internal/apperr"
	"github.com/MGallo-Code/cinesense/internal/model"
	"github.com/MGallo-Code/cinesense/internal/store"
	"github.com/MGallo-Code/cinesense/internal/testutil"
)

const sampleCSV = `user_valence,user_arousal,user_genre,movie_valence,movie_arousal,movie_genre,matching_rate
0.8,0.7,Comedy,0.6,0.5,Comedy,5
0.2,0.3,Drama,0.9,0.8,Action,1
0.6,0.5,Romance,0.5,0.4,Romance,4
`

type fixture struct {
	trainer   *Trainer
	store     *testutil.MockStore
	artifacts *model.ArtifactStore
	slot      *model.Slot
	dir       string
}

func newFixture(t *testing.T, bootstrapCSV string) *fixture {
	t.Helper()
	dir := t.TempDir()
	artifacts, err := model.NewArtifactStore(filepath.Join(dir, "models"))
	if err != nil {
		t.Fatalf("NewArtifactStore: %v", err)
	}
	if err := artifacts.SaveEncoder(testutil.TestEncoder()); err != nil {
		t.Fatalf("SaveEncoder: %v", err)
	}

	bootPath := filepath.Join(dir, "bootstrap.csv")
	if bootstrapCSV != "" {
		if err := os.WriteFile(bootPath, []byte(bootstrapCSV), 0o644); err != nil {
			t.Fatalf("writing bootstrap: %v", err)
		}
	}

	ms := testutil.NewMockStore(nil)
	slot := &model.Slot{}
	tr := NewTrainer(ms, artifacts, slot, Config{
		Threshold:     200,
		BootstrapPath: bootPath,
		Forest:        model.ForestParams{Trees: 3, MinLeaf: 2, Seed: 1},
	})
	tr.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return &fixture{trainer: tr, store: ms, artifacts: artifacts, slot: slot, dir: dir}
}

// --- Composition ---

func TestRetrainComposition(t *testing.T) {
	ctx := context.Background()

	t.Run("exactly threshold rows concatenates bootstrap", func(t *testing.T) {
		f := newFixture(t, sampleCSV)
		f.store.SeedFeedback(200)
		res, err := f.trainer.Retrain(ctx)
		if err != nil {
			t.Fatalf("Retrain: %v", err)
		}
		if res.Source != SourceWithBootstrap || res.BootstrapRows != 3 || res.TrainingRows != 203 {
			t.Errorf("unexpected %+v", res)
		}
	})

	t.Run("one over threshold uses feedback only", func(t *testing.T) {
		f := newFixture(t, sampleCSV)
		f.store.SeedFeedback(201)
		res, err := f.trainer.Retrain(ctx)
		if err != nil {
			t.Fatalf("Retrain: %v", err)
		}
		if res.Source != SourceFeedbackOnly || res.BootstrapRows != 0 || res.TrainingRows != 201 {
			t.Errorf("unexpected %+v", res)
		}
	})

	t.Run("no feedback trains on bootstrap", func(t *testing.T) {
		f := newFixture(t, sampleCSV)
		res, err := f.trainer.Retrain(ctx)
		if err != nil {
			t.Fatalf("Retrain: %v", err)
		}
		if res.TrainingRows != 3 {
			t.Errorf("expected 3 rows, got %+v", res)
		}
	})

	t.Run("missing bootstrap with feedback proceeds", func(t *testing.T) {
		f := newFixture(t, "")
		f.store.SeedFeedback(10)
		res, err := f.trainer.Retrain(ctx)
		if err != nil {
			t.Fatalf("Retrain: %v", err)
		}
		if res.Source != SourceBootstrapMissing || res.TrainingRows != 10 {
			t.Errorf("unexpected %+v", res)
		}
	})

	t.Run("missing bootstrap and no feedback is data unavailable", func(t *testing.T) {
		f := newFixture(t, "")
		_, err := f.trainer.Retrain(ctx)
		if !errors.Is(err, apperr.ErrDataUnavailable) {
			t.Errorf("expected ErrDataUnavailable, got %v", err)
		}
		if f.slot.Loaded() {
			t.Error("slot should stay empty")
		}
	})

	t.Run("feedback source failure is upstream", func(t *testing.T) {
		f := newFixture(t, sampleCSV)
		f.store.ListFeedbackErr = testutil.ErrMock
		if _, err := f.trainer.Retrain(ctx); !errors.Is(err, apperr.ErrUpstream) {
			t.Errorf("expected ErrUpstream, got %v", err)
		}
	})
}

// --- Rotation + reload ---

func TestRetrainRotation(t *testing.T) {
	ctx := context.Background()

	t.Run("installs model and reloads slot", func(t *testing.T) {
		f := newFixture(t, sampleCSV)
		f.store.SeedFeedback(20)
		res, err := f.trainer.Retrain(ctx)
		if err != nil {
			t.Fatalf("Retrain: %v", err)
		}
		a, err := f.slot.Get()
		if err != nil {
			t.Fatalf("slot empty after retrain: %v", err)
		}
		if a.Version != res.Version || a.TrainingRows != 23 {
			t.Errorf("slot holds %+v, want version %d", a, res.Version)
		}
		if len(a.Columns) != len(testutil.TestEncoder().ModelColumns()) {
			t.Errorf("column count %d", len(a.Columns))
		}
	})

	t.Run("second retrain keeps first as previous", func(t *testing.T) {
		f := newFixture(t, sampleCSV)
		first, _ := f.trainer.Retrain(ctx)
		f.trainer.now = func() time.Time { return time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC) }
		second, err := f.trainer.Retrain(ctx)
		if err != nil {
			t.Fatalf("second Retrain: %v", err)
		}
		if second.Version <= first.Version {
			t.Errorf("versions not increasing: %d then %d", first.Version, second.Version)
		}
		if _, err := os.Stat(filepath.Join(f.artifacts.Dir(), model.PreviousFile)); err != nil {
			t.Errorf("previous artifact missing: %v", err)
		}
	})

	t.Run("deadline passing during fit keeps current", func(t *testing.T) {
		f := newFixture(t, sampleCSV)
		if _, err := f.trainer.Retrain(ctx); err != nil {
			t.Fatalf("seed Retrain: %v", err)
		}
		before, _ := f.slot.Get()
		current, err := os.ReadFile(filepath.Join(f.artifacts.Dir(), model.CurrentFile))
		if err != nil {
			t.Fatalf("reading current: %v", err)
		}

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		f.trainer.fit = func(c context.Context, X [][]float64, y []float64, p model.ForestParams) (*model.Forest, error) {
			forest, err := model.FitForest(c, X, y, p)
			cancel()
			return forest, err
		}
		f.trainer.now = func() time.Time { return time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC) }

		if _, err := f.trainer.Retrain(runCtx); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		after, _ := f.slot.Get()
		if after != before {
			t.Error("slot changed after cancelled retrain")
		}
		got, _ := os.ReadFile(filepath.Join(f.artifacts.Dir(), model.CurrentFile))
		if string(got) != string(current) {
			t.Error("current artifact replaced after cancelled retrain")
		}
	})

	t.Run("missing encoder fails without touching current", func(t *testing.T) {
		f := newFixture(t, sampleCSV)
		if _, err := f.trainer.Retrain(ctx); err != nil {
			t.Fatalf("seed Retrain: %v", err)
		}
		before, _ := f.slot.Get()

		os.Remove(filepath.Join(f.artifacts.Dir(), model.EncoderFile))
		if _, err := f.trainer.Retrain(ctx); err == nil {
			t.Fatal("expected error")
		}
		after, _ := f.slot.Get()
		if after != before {
			t.Error("slot changed after failed retrain")
		}
	})
}

// --- Design matrix ---

func TestDesignMatrixFoldsGenreSpelling(t *testing.T) {
	enc := testutil.TestEncoder()
	names := enc.FeatureNames()
	col := func(name string) int {
		for i, n := range names {
			if n == name {
				return len(model.NumericColumns) + i
			}
		}
		t.Fatalf("no column %q", name)
		return -1
	}

	rows := []store.FeedbackSample{
		{UserGenre: "science fiction", MovieGenre: "comedy", UserValence: 0.5, UserArousal: 0.5, MovieValence: 0.2, MovieArousal: 0.1, Vote: 4},
		{UserGenre: "Drama", MovieGenre: " Drama ", Vote: 2},
		{UserGenre: "Western", MovieGenre: "Western", Vote: 3},
	}
	X, y, err := designMatrix(enc, rows)
	if err != nil {
		t.Fatalf("designMatrix: %v", err)
	}

	if X[0][col("user_genre_Science Fiction")] != 1 || X[0][col("movie_genre_Comedy")] != 1 {
		t.Errorf("lowercase genres not encoded: %v", X[0])
	}
	if X[1][col("user_genre_Drama")] != 1 || X[1][col("movie_genre_Drama")] != 1 {
		t.Errorf("padded genre not encoded: %v", X[1])
	}
	var hot float64
	for _, v := range X[2][len(model.NumericColumns):] {
		hot += v
	}
	if hot != 0 {
		t.Errorf("unknown genre should encode to zeros, got %v", X[2])
	}
	if y[0] != 4 || X[0][2] != 0.2 {
		t.Errorf("numeric columns or target misplaced: %v %v", X[0], y)
	}
}

// --- Bootstrap CSV ---

func TestReadBootstrap(t *testing.T) {
	t.Run("columns located by header", func(t *testing.T) {
		csv := "matching_rate,movie_genre,movie_arousal,movie_valence,user_genre,user_arousal,user_valence\n3,Drama,0.4,0.5,Comedy,0.6,0.7\n"
		rows, err := readBootstrap(strings.NewReader(csv))
		if err != nil {
			t.Fatalf("readBootstrap: %v", err)
		}
		if len(rows) != 1 || rows[0].UserValence != 0.7 || rows[0].MovieGenre != "Drama" || rows[0].Vote != 3 {
			t.Errorf("unexpected %+v", rows)
		}
	})

	t.Run("rows with bad numbers are dropped", func(t *testing.T) {
		csv := sampleCSV + "abc,0.1,Drama,0.1,0.1,Drama,3\n0.1,0.1,,0.1,0.1,Drama,3\n"
		rows, err := readBootstrap(strings.NewReader(csv))
		if err != nil {
			t.Fatalf("readBootstrap: %v", err)
		}
		if len(rows) != 3 {
			t.Errorf("expected 3 rows, got %d", len(rows))
		}
	})

	t.Run("missing column is an error", func(t *testing.T) {
		if _, err := readBootstrap(strings.NewReader("user_valence,user_arousal\n0.1,0.2\n")); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("missing file wraps not-exist", func(t *testing.T) {
		_, err := LoadBootstrap(filepath.Join(t.TempDir(), "nope.csv"))
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected ErrNotExist, got %v", err)
		}
	})
}
