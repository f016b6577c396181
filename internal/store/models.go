// models.go -- Shared domain types for the store package.
// Used by both Postgres (authoritative store) and Redis (catalog cache).
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/MGallo-Code/cinesense/internal/apperr"
	"github.com/gofrs/uuid/v5"
)

// ErrCacheMiss is returned by catalog lookups when no snapshot or item exists.
// Callers use errors.Is to distinguish a true miss from a Redis failure.
var ErrCacheMiss = errors.New("cache miss")

// ErrMovieNotFound is returned by vote writes that reference an unknown movie_id.
// Wraps apperr.ErrNotFound so handlers map it to 404.
var ErrMovieNotFound = fmt.Errorf("movie %w", apperr.ErrNotFound)

// ErrDuplicateUsername is returned by CreateUser on a username unique violation.
var ErrDuplicateUsername = fmt.Errorf("username %w", apperr.ErrConflict)

// ErrRateLimitExceeded is returned by Allow when the caller is locked out.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// RateLimit defines the policy for a rate-limited action.
// A zero MaxAttempts or Window disables the limit; a zero LockoutTTL rejects
// only until the window expires.
type RateLimit struct {
	MaxAttempts int           // attempts allowed within Window before lockout
	Window      time.Duration // fixed window for attempt counting
	LockoutTTL  time.Duration // how long to block after MaxAttempts is exceeded
}

// User represents a row in the users table.
type User struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Movie represents a row in the movies table (the authoritative catalog).
// Nullable columns are pointers or nil slices; nil means SQL NULL.
// Emotion is the [valence, arousal] affect pair.
type Movie struct {
	ID        int64
	Name      string
	Genres    []string
	Rating    *float64
	Synopsis  *string
	Links     []string
	Directors []string
	Emotion   []float64
	Poster    *string
}

// WatchEntry is a watched row joined with display fields from movies.
type WatchEntry struct {
	WatchID   int64
	UserID    uuid.UUID
	MovieID   int64
	Vote      float64
	WatchedAt time.Time
	Title     string
	Poster    *string
}

// FeedbackSample represents a row in the feedback table: one labeled
// training example built from a vote.
type FeedbackSample struct {
	UserID       uuid.UUID
	MovieID      int64
	UserValence  float64
	UserArousal  float64
	UserGenre    string
	MovieValence float64
	MovieArousal float64
	MovieGenre   string
	Vote         float64
}

// CacheRecord is one catalog item in the cache's storage encoding:
// a flat field set, composite fields already serialized.
type CacheRecord struct {
	ID     int64
	Fields map[string]string
}
