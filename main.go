package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MGallo-Code/cinesense/internal/affect"
	"github.com/MGallo-Code/cinesense/internal/api"
	"github.com/MGallo-Code/cinesense/internal/catalog"
	"github.com/MGallo-Code/cinesense/internal/config"
	"github.com/MGallo-Code/cinesense/internal/features"
	"github.com/MGallo-Code/cinesense/internal/feedback"
	"github.com/MGallo-Code/cinesense/internal/metrics"
	"github.com/MGallo-Code/cinesense/internal/model"
	"github.com/MGallo-Code/cinesense/internal/pipeline"
	"github.com/MGallo-Code/cinesense/internal/retrain"
	"github.com/MGallo-Code/cinesense/internal/session"
	"github.com/MGallo-Code/cinesense/internal/store"
	"github.com/MGallo-Code/cinesense/internal/tmdb"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

func main() {
	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: cfg.LogLevel == slog.LevelDebug,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup always runs. Shuts down when ctx is cancelled.
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	// Init postgres store
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	defer ps.Close()

	// Run migrations
	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	if err := ps.Migrate(ctx, migrationsFS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Init redis client; backs the catalog cache and the login limiter
	rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to set up redis client: %w", err)
	}
	defer rdb.Close()
	rs := store.NewRedisStore(rdb)

	cache := catalog.New(ps, rs)

	// Load model + encoder from MODEL_DIR
	artifacts, err := model.NewArtifactStore(cfg.ModelDir)
	if err != nil {
		return fmt.Errorf("failed to open model dir: %w", err)
	}
	var slot model.Slot
	if err := slot.Reload(artifacts); err != nil {
		// Serve with an empty slot (ranking answers 503) until a run trains one.
		slog.Warn("no usable model artifact at startup", "dir", artifacts.Dir(), "error", err)
	}

	// Request-path components
	sessions := session.NewStore(cfg.SessionTTL)
	resolver := features.NewResolver(cfg.GenreAliases, cfg.DefaultGenre)
	feats := features.New(&slot, resolver, cfg.DefaultGenre)
	recorder := feedback.NewRecorder(ps, cache, cfg.DefaultGenre)

	// Pipeline stages: TMDB refresh -> cache sync -> retrain
	trainer := retrain.NewTrainer(ps, artifacts, &slot, retrain.Config{
		Threshold:     cfg.FeedbackThreshold,
		BootstrapPath: cfg.BootstrapDataset,
		Forest: model.ForestParams{
			Trees:    cfg.ForestTrees,
			MaxDepth: cfg.ForestMaxDepth,
			MinLeaf:  cfg.ForestMinLeaf,
			Seed:     cfg.ForestSeed,
		},
	})

	refresher, err := buildRefresher(cfg, ps)
	if err != nil {
		return err
	}

	orch := pipeline.NewOrchestrator(pipeline.DefaultStages(refresher, cache, trainer, pipeline.Timeouts{
		Refresh: cfg.StageTimeoutRefresh,
		Sync:    cfg.StageTimeoutSync,
		Retrain: cfg.StageTimeoutRetrain,
	})...)
	sched, err := pipeline.NewScheduler(orch, cfg.PipelineSchedule, cfg.PipelineTimezone, cfg.PipelineTimeout)
	if err != nil {
		return err
	}
	sched.Start()

	// Background goroutines are cancelled via bgCtx when run() returns.
	bgCtx, cancelBG := context.WithCancel(ctx)
	defer cancelBG()

	// Warm the snapshot from Postgres; a failed sync keeps whatever Redis holds.
	go func() {
		syncCtx, cancel := context.WithTimeout(bgCtx, cfg.StageTimeoutSync)
		defer cancel()
		if res, err := cache.Sync(syncCtx); err != nil {
			slog.Warn("startup catalog sync failed", "error", err)
		} else {
			slog.Info("startup catalog sync complete", "applied", res.Applied, "skipped", res.Skipped)
		}
		if !slot.Loaded() {
			slog.Info("no model loaded, running pipeline now")
			if _, err := sched.Trigger(bgCtx); err != nil {
				slog.Error("startup pipeline run failed", "error", err)
			}
		}
	}()

	// Session sweeper; also keeps the active-sessions gauge current.
	go func() {
		ticker := time.NewTicker(cfg.SessionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := sessions.Sweep(); n > 0 {
					slog.Info("session sweep complete", "expired", n)
				}
				metrics.ActiveSessions.Set(float64(sessions.Len()))
			case <-bgCtx.Done():
				return
			}
		}
	}()

	// Wire handler deps
	h := &api.Handler{
		Users:        ps,
		History:      ps,
		Sessions:     sessions,
		Catalog:      cache,
		Features:     feats,
		Votes:        recorder,
		Pipeline:     sched,
		Model:        &slot,
		Postgres:     ps,
		Redis:        rs,
		RL:           rs,
		LoginPolicy: store.RateLimit{
			MaxAttempts: cfg.LoginMaxAttempts,
			Window:      cfg.LoginWindow,
			LockoutTTL:  cfg.LoginLockout,
		},
		TopK:         cfg.TopK,
		SessionTTL:   cfg.SessionTTL,
		CookieSecure: cfg.CookieSecure,
		AdminToken:   cfg.AdminToken,
		DBTimeout:    cfg.DBTimeout,
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	server := &http.Server{Handler: api.NewRouter(h)}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("cinesense listening", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	// Let a scheduled run that already started finish writing its artifact.
	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		slog.Warn("pipeline run still in progress at shutdown")
	}

	slog.Info("server stopped")
	return nil
}

// buildRefresher returns the TMDB ingester, or nil when no API key is set so
// the refresh stage reports skipped. The nil must stay an untyped interface.
func buildRefresher(cfg *config.Config, movies tmdb.MovieWriter) (pipeline.Refresher, error) {
	if cfg.TMDBAPIKey == "" {
		slog.Info("TMDB_API_KEY not set, catalog refresh stage will be skipped")
		return nil, nil
	}
	lex, err := affect.LoadLexicon(cfg.VADLexiconPath)
	if err != nil {
		return nil, err
	}
	client := tmdb.NewClient(tmdb.ClientConfig{
		BaseURL:    cfg.TMDBBaseURL,
		APIKey:     cfg.TMDBAPIKey,
		RatePerSec: cfg.TMDBRatePerSec,
	})
	return tmdb.NewIngester(client, movies, lex, tmdb.IngestConfig{
		Pages:       cfg.TMDBPages,
		Concurrency: cfg.TMDBConcurrency,
		MaxMovies:   cfg.TMDBMaxMovies,
		Region:      cfg.TMDBRegion,
	}), nil
}
