// files.go -- durable artifact slots on disk.
//
// Layout under the model directory:
//
//	encoder.json     fixed encoder, never rotated
//	model.json       current regressor
//	model.prev.json  previous regressor (at most one generation)
package model

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
)

const (
	EncoderFile  = "encoder.json"
	CurrentFile  = "model.json"
	PreviousFile = "model.prev.json"
)

// ErrNoArtifact means neither the current nor the previous slot holds a
// loadable model.
var ErrNoArtifact = errors.New("no model artifact")

// Rotation steps, in order. Used to simulate crashes in tests.
const (
	stepTempWritten     = "temp_written"
	stepPreviousRemoved = "previous_removed"
	stepPreviousLinked  = "previous_linked"
)

// ArtifactStore reads and rotates artifacts in one directory.
type ArtifactStore struct {
	dir string

	// afterStep, when set, runs after each rotation step; a non-nil return
	// aborts the rotation at that point.
	afterStep func(step string) error
}

// NewArtifactStore returns a store rooted at dir, creating it if needed.
func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating model dir: %w", err)
	}
	// Leftovers from an interrupted rotation.
	if stale, _ := filepath.Glob(filepath.Join(dir, ".model-*.tmp")); len(stale) > 0 {
		for _, p := range stale {
			os.Remove(p)
		}
		slog.Info("removed stale temp artifacts", "count", len(stale))
	}
	return &ArtifactStore{dir: dir}, nil
}

// Dir returns the store's directory.
func (s *ArtifactStore) Dir() string { return s.dir }

func (s *ArtifactStore) path(name string) string { return filepath.Join(s.dir, name) }

// LoadEncoder reads and validates encoder.json.
func (s *ArtifactStore) LoadEncoder() (*Encoder, error) {
	data, err := os.ReadFile(s.path(EncoderFile))
	if err != nil {
		return nil, fmt.Errorf("reading encoder: %w", err)
	}
	var enc Encoder
	if err := json.Unmarshal(data, &enc); err != nil {
		return nil, fmt.Errorf("decoding encoder: %w", err)
	}
	if err := enc.Validate(); err != nil {
		return nil, err
	}
	return &enc, nil
}

// SaveEncoder writes encoder.json atomically.
func (s *ArtifactStore) SaveEncoder(enc *Encoder) error {
	if err := enc.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(enc)
	if err != nil {
		return fmt.Errorf("encoding encoder: %w", err)
	}
	tmp, err := s.writeTemp(data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path(EncoderFile)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("installing encoder: %w", err)
	}
	return nil
}

// LoadCurrent returns the current artifact, falling back to the previous one
// when current is missing or unreadable. ErrNoArtifact if neither loads.
func (s *ArtifactStore) LoadCurrent() (*Artifact, error) {
	a, err := s.loadModel(CurrentFile)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("current model unreadable, trying previous", "error", err)
	}

	prev, perr := s.loadModel(PreviousFile)
	if perr == nil {
		slog.Warn("loaded previous model artifact", "version", prev.Version)
		return prev, nil
	}
	if errors.Is(err, fs.ErrNotExist) && errors.Is(perr, fs.ErrNotExist) {
		return nil, ErrNoArtifact
	}
	return nil, fmt.Errorf("%w: current: %v; previous: %v", ErrNoArtifact, err, perr)
}

func (s *ArtifactStore) loadModel(name string) (*Artifact, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", name, err)
	}
	return &a, nil
}

// Rotate installs a as the current artifact and keeps the replaced one as
// previous. A current artifact exists at every point of the sequence:
//
//  1. write a to a synced temp file
//  2. remove previous
//  3. hard-link current to previous (copy if linking fails)
//  4. rename temp over current
func (s *ArtifactStore) Rotate(a *Artifact) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("refusing to rotate: %w", err)
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding artifact: %w", err)
	}

	tmp, err := s.writeTemp(data)
	if err != nil {
		return err
	}
	cleanup := func() { os.Remove(tmp) }
	if err := s.step(stepTempWritten); err != nil {
		cleanup()
		return err
	}

	current, previous := s.path(CurrentFile), s.path(PreviousFile)
	if err := os.Remove(previous); err != nil && !errors.Is(err, fs.ErrNotExist) {
		cleanup()
		return fmt.Errorf("removing previous model: %w", err)
	}
	if err := s.step(stepPreviousRemoved); err != nil {
		cleanup()
		return err
	}

	if _, err := os.Stat(current); err == nil {
		if err := os.Link(current, previous); err != nil {
			if cerr := copyFile(current, previous); cerr != nil {
				cleanup()
				return fmt.Errorf("backing up current model: %w", cerr)
			}
		}
		slog.Info("moved current model to previous")
	}
	if err := s.step(stepPreviousLinked); err != nil {
		cleanup()
		return err
	}

	if err := os.Rename(tmp, current); err != nil {
		cleanup()
		return fmt.Errorf("installing new model: %w", err)
	}
	syncDir(s.dir)

	slog.Info("model artifact rotated", "version", a.Version, "rows", a.TrainingRows)
	return nil
}

func (s *ArtifactStore) step(name string) error {
	if s.afterStep == nil {
		return nil
	}
	return s.afterStep(name)
}

// writeTemp writes data to a synced temp file in the store dir and returns its path.
func (s *ArtifactStore) writeTemp(data []byte) (string, error) {
	f, err := os.CreateTemp(s.dir, ".model-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp artifact: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("writing temp artifact: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(name)
		return "", fmt.Errorf("syncing temp artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("closing temp artifact: %w", err)
	}
	return name, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// syncDir flushes directory entries; best effort.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
