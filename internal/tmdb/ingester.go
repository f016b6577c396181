// ingester.go -- Pulls the TMDB catalog into the movies table.
package tmdb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MGallo-Code/cinesense/internal/affect"
	"github.com/MGallo-Code/cinesense/internal/apperr"
	"github.com/MGallo-Code/cinesense/internal/store"
)

const (
	notAvailable = "N/A"
	posterPrefix = "https://www.themoviedb.org/t/p/w1280"
)

// API is the subset of *Client the ingester needs.
type API interface {
	DiscoverPage(ctx context.Context, page int) ([]DiscoverMovie, error)
	Genres(ctx context.Context) (map[int]string, error)
	Directors(ctx context.Context, movieID int64) ([]string, error)
	Providers(ctx context.Context, movieID int64, region string) ([]string, error)
}

// MovieWriter persists fetched movies. Satisfied by *store.PostgresStore.
type MovieWriter interface {
	UpsertMovies(ctx context.Context, movies []store.Movie) error
}

// Analyzer scores a synopsis. Satisfied by *affect.Lexicon.
type Analyzer interface {
	Analyze(text string) affect.VA
}

// IngestConfig bounds one refresh.
type IngestConfig struct {
	Pages       int
	Concurrency int
	MaxMovies   int
	Region      string
}

// Ingester implements the refresh_catalog stage.
type Ingester struct {
	api      API
	movies   MovieWriter
	analyzer Analyzer
	cfg      IngestConfig
}

// NewIngester returns an Ingester. Non-positive Concurrency means 1.
func NewIngester(api API, movies MovieWriter, analyzer Analyzer, cfg IngestConfig) *Ingester {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Ingester{api: api, movies: movies, analyzer: analyzer, cfg: cfg}
}

// Refresh fetches discover pages, enriches each movie with directors,
// providers and synopsis affect, and upserts the lot. Any TMDB or database
// failure aborts before anything is written, so the previous catalog stays.
func (in *Ingester) Refresh(ctx context.Context) (int, error) {
	start := time.Now()

	// Genre id -> name, for translating discover results
	genres, err := in.api.Genres(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", apperr.ErrUpstream, err)
	}

	listed, err := in.discover(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", apperr.ErrUpstream, err)
	}
	slog.Info("tmdb discover complete", "movies", len(listed))

	// Credits + providers per movie, then synopsis affect
	movies, err := in.enrich(ctx, listed, genres)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", apperr.ErrUpstream, err)
	}

	// Nothing is written until every fetch succeeded
	if err := in.movies.UpsertMovies(ctx, movies); err != nil {
		return 0, fmt.Errorf("%w: saving movies: %w", apperr.ErrUpstream, err)
	}
	slog.Info("tmdb refresh saved", "movies", len(movies), "duration", time.Since(start))
	return len(movies), nil
}

// discover fetches pages 1..Pages concurrently and flattens them in page
// order, dropping repeats and stopping at MaxMovies.
func (in *Ingester) discover(ctx context.Context) ([]DiscoverMovie, error) {
	pages := make([][]DiscoverMovie, in.cfg.Pages)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.cfg.Concurrency)
	for i := range pages {
		g.Go(func() error {
			res, err := in.api.DiscoverPage(gctx, i+1)
			if err != nil {
				return err
			}
			pages[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	var out []DiscoverMovie
	for _, page := range pages {
		for _, m := range page {
			if seen[m.ID] {
				continue
			}
			if in.cfg.MaxMovies > 0 && len(out) >= in.cfg.MaxMovies {
				return out, nil
			}
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	return out, nil
}

// enrich resolves credits and providers per movie and builds the rows.
func (in *Ingester) enrich(ctx context.Context, listed []DiscoverMovie, genres map[int]string) ([]store.Movie, error) {
	out := make([]store.Movie, len(listed))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.cfg.Concurrency)
	for i, m := range listed {
		g.Go(func() error {
			directors, err := in.api.Directors(gctx, m.ID)
			if err != nil {
				return err
			}
			links, err := in.api.Providers(gctx, m.ID, in.cfg.Region)
			if err != nil {
				return err
			}
			out[i] = in.toMovie(m, genres, directors, links)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (in *Ingester) toMovie(m DiscoverMovie, genres map[int]string, directors, links []string) store.Movie {
	names := make([]string, 0, len(m.GenreIDs))
	for _, id := range m.GenreIDs {
		name, ok := genres[id]
		if !ok {
			name = notAvailable
		}
		names = append(names, name)
	}

	var poster *string
	if m.PosterPath != nil && *m.PosterPath != "" {
		p := posterPrefix + *m.PosterPath
		poster = &p
	}

	var synopsis string
	if m.Overview != nil {
		synopsis = *m.Overview
	}
	va := in.analyzer.Analyze(synopsis)

	return store.Movie{
		ID:        m.ID,
		Name:      m.Title,
		Genres:    names,
		Rating:    m.VoteAverage,
		Synopsis:  m.Overview,
		Links:     links,
		Directors: directors,
		Emotion:   []float64{va[0], va[1]},
		Poster:    poster,
	}
}
