package model

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ForestParams configures FitForest.
type ForestParams struct {
	Trees    int
	MaxDepth int
	MinLeaf  int
	Seed     int64
}

// DefaultForestParams returns 100 unlimited-depth trees with seed 0.
func DefaultForestParams() ForestParams {
	return ForestParams{Trees: 100, MinLeaf: 1}
}

// Forest is a bagged ensemble of regression trees. Its prediction is the mean
// of the trees' predictions.
type Forest struct {
	NumFeatures int     `json:"num_features"`
	Trees       []*Tree `json:"trees"`
}

// FitForest fits params.Trees trees on bootstrap samples of (X, y), in parallel.
// Tree i draws from its own generator seeded by (Seed, i), so results do not
// depend on scheduling.
func FitForest(ctx context.Context, X [][]float64, y []float64, params ForestParams) (*Forest, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("no training rows")
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("%d rows but %d targets", len(X), len(y))
	}
	width := len(X[0])
	for i, row := range X {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), width)
		}
	}
	if params.Trees < 1 {
		params.Trees = 1
	}

	trees := make([]*Tree, params.Trees)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for t := range trees {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(uint64(params.Seed), uint64(t)))
			sample := make([]int, len(X))
			for i := range sample {
				sample[i] = rng.IntN(len(X))
			}
			trees[t] = fitTree(X, y, sample, TreeParams{MaxDepth: params.MaxDepth, MinLeaf: params.MinLeaf}, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fitting forest: %w", err)
	}
	return &Forest{NumFeatures: width, Trees: trees}, nil
}

// Predict scores one row.
func (f *Forest) Predict(x []float64) float64 {
	var s float64
	for _, t := range f.Trees {
		s += t.Predict(x)
	}
	return s / float64(len(f.Trees))
}

// PredictBatch scores every row.
func (f *Forest) PredictBatch(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, row := range X {
		if len(row) != f.NumFeatures {
			return nil, fmt.Errorf("row %d has %d columns, model expects %d", i, len(row), f.NumFeatures)
		}
		out[i] = f.Predict(row)
	}
	return out, nil
}
