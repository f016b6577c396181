package model

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/MGallo-Code/cinesense/internal/apperr"
	"github.com/MGallo-Code/cinesense/internal/metrics"
)

// Slot holds the active artifact. Readers get an immutable *Artifact and keep
// using it even if a rotation swaps the slot mid-request.
type Slot struct {
	p atomic.Pointer[Artifact]
}

// Get returns the active artifact, or ErrServiceUnavailable if none is loaded.
func (s *Slot) Get() (*Artifact, error) {
	a := s.p.Load()
	if a == nil || a.Encoder == nil {
		return nil, fmt.Errorf("model not loaded: %w", apperr.ErrServiceUnavailable)
	}
	return a, nil
}

// Loaded reports whether an artifact is active.
func (s *Slot) Loaded() bool {
	a := s.p.Load()
	return a != nil && a.Encoder != nil
}

// Set installs a as the active artifact.
func (s *Slot) Set(a *Artifact) {
	s.p.Store(a)
	metrics.ModelVersion.Set(float64(a.Version))
}

// Reload loads the encoder and current artifact from store and installs them.
// On failure the active artifact is left as it was.
func (s *Slot) Reload(store *ArtifactStore) error {
	enc, err := store.LoadEncoder()
	if err != nil {
		return fmt.Errorf("loading encoder: %w", err)
	}
	a, err := store.LoadCurrent()
	if err != nil {
		return fmt.Errorf("loading model: %w", err)
	}
	a.Encoder = enc
	s.Set(a)
	slog.Info("model loaded", "version", a.Version, "trained_at", a.TrainedAt, "columns", len(a.Columns))
	return nil
}
