// Package catalog maintains the read-optimized snapshot of the movie catalog.
//
// The snapshot is derived from the authoritative Postgres rows and replaced
// wholesale on every rebuild; there are no partial item updates.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MGallo-Code/cinesense/internal/apperr"
	"github.com/MGallo-Code/cinesense/internal/metrics"
	"github.com/MGallo-Code/cinesense/internal/store"
)

// Item is one cached catalog entry. Genres is never nil.
type Item struct {
	ID        int64    `json:"movie_id"`
	Title     string   `json:"title"`
	Genres    []string `json:"genres"`
	Valence   float64  `json:"valence"`
	Arousal   float64  `json:"arousal"`
	Rating    float64  `json:"rating"`
	Synopsis  string   `json:"synopsis"`
	Poster    string   `json:"poster"`
	Links     []string `json:"links"`
	Directors []string `json:"directors"`
}

// Source yields the authoritative catalog rows.
// Satisfied by *store.PostgresStore.
type Source interface {
	ListMovies(ctx context.Context) ([]store.Movie, error)
}

// Storage holds the encoded snapshot and swaps it atomically.
// Satisfied by *store.RedisStore.
type Storage interface {
	SwapCatalog(ctx context.Context, records []store.CacheRecord) (int64, error)
	LoadCatalog(ctx context.Context) ([]store.CacheRecord, error)
	LookupCatalog(ctx context.Context, id int64) (*store.CacheRecord, error)
}

// RebuildResult reports what a rebuild applied.
type RebuildResult struct {
	Applied    int
	Skipped    int
	Generation int64
}

// Cache is the catalog snapshot. Rebuilds are serialized; reads never block on them.
type Cache struct {
	source  Source
	storage Storage

	rebuildMu sync.Mutex
}

// New returns a Cache reading rows from source and storing snapshots in storage.
func New(source Source, storage Storage) *Cache {
	return &Cache{source: source, storage: storage}
}

// Sync pulls all rows from the source and rebuilds the snapshot.
// If the source fails, the previous snapshot is left untouched.
func (c *Cache) Sync(ctx context.Context) (RebuildResult, error) {
	rows, err := c.source.ListMovies(ctx)
	if err != nil {
		return RebuildResult{}, fmt.Errorf("listing catalog source: %w: %w", apperr.ErrUpstream, err)
	}
	return c.Rebuild(ctx, rows)
}

// Rebuild encodes rows and swaps them in as the new snapshot.
// Malformed rows are skipped and counted. If no row survives, the previous
// snapshot is kept and ErrDataUnavailable is returned.
func (c *Cache) Rebuild(ctx context.Context, rows []store.Movie) (RebuildResult, error) {
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()

	var res RebuildResult
	records := make([]store.CacheRecord, 0, len(rows))
	for _, row := range rows {
		item, err := itemFromRow(row)
		if err != nil {
			res.Skipped++
			slog.Debug("catalog row skipped", "movie_id", row.ID, "error", err)
			continue
		}
		rec, err := encodeItem(item)
		if err != nil {
			res.Skipped++
			slog.Warn("catalog row not encodable", "movie_id", row.ID, "error", err)
			continue
		}
		records = append(records, rec)
	}
	res.Applied = len(records)

	metrics.CatalogRebuildRows.WithLabelValues("applied").Add(float64(res.Applied))
	metrics.CatalogRebuildRows.WithLabelValues("skipped").Add(float64(res.Skipped))

	// Stale beats empty: keep the live generation
	if res.Applied == 0 {
		return res, fmt.Errorf("rebuild produced no valid items (%d skipped): %w", res.Skipped, apperr.ErrDataUnavailable)
	}

	// Write the new generation, then flip readers over to it
	gen, err := c.storage.SwapCatalog(ctx, records)
	if err != nil {
		return res, fmt.Errorf("swapping catalog snapshot: %w: %w", apperr.ErrUpstream, err)
	}
	res.Generation = gen
	metrics.CatalogItems.Set(float64(res.Applied))

	slog.Info("catalog cache rebuilt", "applied", res.Applied, "skipped", res.Skipped, "generation", gen)
	return res, nil
}

// All returns every item of the current snapshot in insertion order.
// An unpublished cache returns an empty slice, not an error.
func (c *Cache) All(ctx context.Context) ([]Item, error) {
	records, err := c.storage.LoadCatalog(ctx)
	if err != nil {
		if errors.Is(err, store.ErrCacheMiss) {
			return []Item{}, nil
		}
		return nil, fmt.Errorf("loading catalog snapshot: %w: %w", apperr.ErrUpstream, err)
	}

	items := make([]Item, 0, len(records))
	for _, rec := range records {
		item, err := decodeItem(rec)
		if err != nil {
			slog.Warn("dropping undecodable cache record", "movie_id", rec.ID, "error", err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Lookup returns one item from the current snapshot. ok is false if absent.
func (c *Cache) Lookup(ctx context.Context, id int64) (Item, bool, error) {
	rec, err := c.storage.LookupCatalog(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrCacheMiss) {
			return Item{}, false, nil
		}
		return Item{}, false, fmt.Errorf("looking up catalog item: %w: %w", apperr.ErrUpstream, err)
	}
	item, err := decodeItem(*rec)
	if err != nil {
		return Item{}, false, fmt.Errorf("decoding catalog item %d: %w", id, err)
	}
	return item, true, nil
}
