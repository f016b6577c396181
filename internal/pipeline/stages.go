package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MGallo-Code/cinesense/internal/catalog"
	"github.com/MGallo-Code/cinesense/internal/retrain"
)

// Refresher pulls the external catalog into the authoritative store.
// Satisfied by *tmdb.Ingester.
type Refresher interface {
	Refresh(ctx context.Context) (int, error)
}

// CacheSyncer rebuilds the catalog snapshot. Satisfied by *catalog.Cache.
type CacheSyncer interface {
	Sync(ctx context.Context) (catalog.RebuildResult, error)
}

// Retrainer fits and installs a new model. Satisfied by *retrain.Trainer.
type Retrainer interface {
	Retrain(ctx context.Context) (retrain.Result, error)
}

// Timeouts bounds each stage.
type Timeouts struct {
	Refresh time.Duration
	Sync    time.Duration
	Retrain time.Duration
}

// DefaultStages builds refresh_catalog -> sync_cache -> retrain. A nil
// refresher makes the first stage report skipped.
func DefaultStages(refresher Refresher, cache CacheSyncer, trainer Retrainer, t Timeouts) []Stage {
	return []Stage{
		{
			Name:    StageRefreshCatalog,
			Timeout: t.Refresh,
			Run: func(ctx context.Context) error {
				if refresher == nil {
					return fmt.Errorf("no catalog source configured: %w", ErrSkipped)
				}
				n, err := refresher.Refresh(ctx)
				if err != nil {
					return err
				}
				slog.Info("catalog refreshed", "movies", n)
				return nil
			},
		},
		{
			Name:    StageSyncCache,
			Timeout: t.Sync,
			Run: func(ctx context.Context) error {
				_, err := cache.Sync(ctx)
				return err
			},
		},
		{
			Name:    StageRetrain,
			Timeout: t.Retrain,
			Run: func(ctx context.Context) error {
				_, err := trainer.Retrain(ctx)
				return err
			},
		},
	}
}
