// catalog.go
//
// In-memory stand-ins for the catalog snapshot storage and its row source.
package testutil

import (
	"context"
	"sync"

	"github.com/MGallo-Code/cinesense/internal/store"
)

// MockCatalogStorage implements catalog.Storage with generation semantics
// matching the Redis store: a swap replaces the whole snapshot at once.
type MockCatalogStorage struct {
	SwapErr   error
	LoadErr   error
	LookupErr error

	mu         sync.Mutex
	generation int64
	records    []store.CacheRecord
	published  bool
	Swaps      int
}

func (m *MockCatalogStorage) SwapCatalog(_ context.Context, records []store.CacheRecord) (int64, error) {
	if m.SwapErr != nil {
		return 0, m.SwapErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]store.CacheRecord, len(records))
	copy(cp, records)
	m.records = cp
	m.generation++
	m.published = true
	m.Swaps++
	return m.generation, nil
}

func (m *MockCatalogStorage) LoadCatalog(_ context.Context) ([]store.CacheRecord, error) {
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.published {
		return nil, store.ErrCacheMiss
	}
	cp := make([]store.CacheRecord, len(m.records))
	copy(cp, m.records)
	return cp, nil
}

func (m *MockCatalogStorage) LookupCatalog(_ context.Context, id int64) (*store.CacheRecord, error) {
	if m.LookupErr != nil {
		return nil, m.LookupErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			rec := r
			return &rec, nil
		}
	}
	return nil, store.ErrCacheMiss
}

// Generation returns the number of successful swaps so far.
func (m *MockCatalogStorage) Generation() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// MockMovieSource implements catalog.Source.
type MockMovieSource struct {
	Movies []store.Movie
	Err    error
}

func (m *MockMovieSource) ListMovies(_ context.Context) ([]store.Movie, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Movies, nil
}
