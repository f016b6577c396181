// handler.go -- Dependencies shared by every HTTP handler.
package api

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid/v5"

	"github.com/MGallo-Code/cinesense/internal/catalog"
	"github.com/MGallo-Code/cinesense/internal/features"
	"github.com/MGallo-Code/cinesense/internal/feedback"
	"github.com/MGallo-Code/cinesense/internal/pipeline"
	"github.com/MGallo-Code/cinesense/internal/session"
	"github.com/MGallo-Code/cinesense/internal/store"
)

// Users defines the credential storage handlers need.
// Satisfied by *store.PostgresStore.
type Users interface {
	// CreateUser inserts a user. Returns store.ErrDuplicateUsername on conflict.
	CreateUser(ctx context.Context, id uuid.UUID, username, passwordHash string) error

	// GetUserByUsername returns pgx.ErrNoRows if the user does not exist.
	GetUserByUsername(ctx context.Context, username string) (*store.User, error)
}

// History lists a user's watched movies. Satisfied by *store.PostgresStore.
type History interface {
	ListWatchHistory(ctx context.Context, userID uuid.UUID) ([]store.WatchEntry, error)
}

// RateLimiter checks and records rate limit state for a given key and policy.
// Satisfied by *store.RedisStore.
type RateLimiter interface {
	// Allow returns store.ErrRateLimitExceeded when the attempt is refused.
	Allow(ctx context.Context, key string, policy store.RateLimit) error
}

// Catalog returns the current snapshot. Satisfied by *catalog.Cache.
type Catalog interface {
	All(ctx context.Context) ([]catalog.Item, error)
}

// Features normalizes moods and builds rows. Satisfied by *features.Pipeline.
type Features interface {
	NormalizeMood(a features.Answers, genre string) (features.Mood, error)
	BuildRows(mood features.Mood, items []catalog.Item) (features.Batch, error)
}

// Voter records votes. Satisfied by *feedback.Recorder.
type Voter interface {
	RecordVote(ctx context.Context, sess *session.Session, movieID int64, vote float64) (feedback.Result, error)
}

// PipelineControl triggers and inspects the pipeline. Satisfied by *pipeline.Scheduler.
type PipelineControl interface {
	Trigger(ctx context.Context) (pipeline.RunReport, error)
	Status() pipeline.Status
}

// HealthChecker pings a backing service.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// ModelState reports whether a model is loaded. Satisfied by *model.Slot.
type ModelState interface {
	Loaded() bool
}

// Handler holds dependencies for all HTTP handlers and middleware.
type Handler struct {
	Users    Users
	History  History
	Sessions *session.Store
	Catalog  Catalog
	Features Features
	Votes    Voter
	Pipeline PipelineControl
	Model    ModelState
	Postgres HealthChecker
	Redis    HealthChecker

	// RL limits login attempts per username; nil disables the check.
	RL          RateLimiter
	LoginPolicy store.RateLimit

	TopK         int
	SessionTTL   time.Duration
	CookieSecure bool
	AdminToken   string
	DBTimeout    time.Duration
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// dbContext bounds a database call by DBTimeout, when set.
func (h *Handler) dbContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.DBTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.DBTimeout)
}
