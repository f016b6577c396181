// stores.go
//
// Shared mock of the Postgres store: users, movies, watch history, feedback.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/MGallo-Code/cinesense/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

type voteKey struct {
	user  uuid.UUID
	movie int64
}

// MockStore implements the store interfaces used by api, feedback, retrain,
// and the catalog refresh.
//
// Always stateful...maps behave like the real tables, including the
// (user_id, movie_id) upsert keys and the movie foreign key.
// Use *Err fields to inject errors for specific operations.
type MockStore struct {
	// Error injection...zero value means no error
	CreateUserErr     error
	GetUserErr        error
	UpsertWatchedErr  error
	UpsertFeedbackErr error
	ListFeedbackErr   error
	ListHistoryErr    error
	ListMoviesErr     error
	UpsertMoviesErr   error
	HealthErr         error

	Users    map[string]*store.User // keyed by username
	Movies   map[int64]store.Movie
	Watched  map[voteKey]*store.WatchEntry
	Feedback map[voteKey]store.FeedbackSample

	// Now stamps watched_at; defaults to time.Now.
	Now func() time.Time

	mu       sync.Mutex
	nextID   int64
	feedSeq  []voteKey
	watchSeq int64
}

// NewMockStore returns a MockStore seeded with the given users and movies.
func NewMockStore(users []*store.User, movies ...store.Movie) *MockStore {
	ms := &MockStore{
		Users:    make(map[string]*store.User),
		Movies:   make(map[int64]store.Movie),
		Watched:  make(map[voteKey]*store.WatchEntry),
		Feedback: make(map[voteKey]store.FeedbackSample),
	}
	for _, u := range users {
		ms.Users[u.Username] = u
	}
	for _, m := range movies {
		ms.Movies[m.ID] = m
	}
	return ms
}

func (m *MockStore) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *MockStore) CheckHealth(_ context.Context) error { return m.HealthErr }

func (m *MockStore) CreateUser(_ context.Context, id uuid.UUID, username, passwordHash string) error {
	if m.CreateUserErr != nil {
		return m.CreateUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Users[username]; ok {
		return store.ErrDuplicateUsername
	}
	m.Users[username] = &store.User{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: m.now()}
	return nil
}

func (m *MockStore) GetUserByUsername(_ context.Context, username string) (*store.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[username]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return u, nil
}

func (m *MockStore) ListMovies(_ context.Context) ([]store.Movie, error) {
	if m.ListMoviesErr != nil {
		return nil, m.ListMoviesErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Movie, 0, len(m.Movies))
	for _, mv := range m.Movies {
		out = append(out, mv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockStore) UpsertMovies(_ context.Context, movies []store.Movie) error {
	if m.UpsertMoviesErr != nil {
		return m.UpsertMoviesErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mv := range movies {
		m.Movies[mv.ID] = mv
	}
	return nil
}

func (m *MockStore) UpsertWatched(_ context.Context, userID uuid.UUID, movieID int64, vote float64) (int64, error) {
	if m.UpsertWatchedErr != nil {
		return 0, m.UpsertWatchedErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mv, ok := m.Movies[movieID]
	if !ok {
		return 0, store.ErrMovieNotFound
	}
	k := voteKey{userID, movieID}
	m.watchSeq++
	if e, ok := m.Watched[k]; ok {
		e.Vote = vote
		e.WatchedAt = m.now().Add(time.Duration(m.watchSeq))
		return e.WatchID, nil
	}
	m.nextID++
	m.Watched[k] = &store.WatchEntry{
		WatchID:   m.nextID,
		UserID:    userID,
		MovieID:   movieID,
		Vote:      vote,
		WatchedAt: m.now().Add(time.Duration(m.watchSeq)),
		Title:     mv.Name,
		Poster:    mv.Poster,
	}
	return m.nextID, nil
}

func (m *MockStore) UpsertFeedback(_ context.Context, fs store.FeedbackSample) error {
	if m.UpsertFeedbackErr != nil {
		return m.UpsertFeedbackErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := voteKey{fs.UserID, fs.MovieID}
	if _, ok := m.Feedback[k]; !ok {
		m.feedSeq = append(m.feedSeq, k)
	}
	m.Feedback[k] = fs
	return nil
}

func (m *MockStore) ListFeedback(_ context.Context) ([]store.FeedbackSample, error) {
	if m.ListFeedbackErr != nil {
		return nil, m.ListFeedbackErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.FeedbackSample, 0, len(m.feedSeq))
	for _, k := range m.feedSeq {
		out = append(out, m.Feedback[k])
	}
	return out, nil
}

func (m *MockStore) ListWatchHistory(_ context.Context, userID uuid.UUID) ([]store.WatchEntry, error) {
	if m.ListHistoryErr != nil {
		return nil, m.ListHistoryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.WatchEntry
	for k, e := range m.Watched {
		if k.user == userID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WatchedAt.After(out[j].WatchedAt) })
	return out, nil
}

// FeedbackCount returns the number of stored samples.
func (m *MockStore) FeedbackCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Feedback)
}

// SeedFeedback stores n distinct samples for one synthetic user.
func (m *MockStore) SeedFeedback(n int) {
	user := uuid.Must(uuid.NewV7())
	for i := 0; i < n; i++ {
		m.UpsertFeedback(context.Background(), store.FeedbackSample{
			UserID: user, MovieID: int64(i + 1),
			UserValence: 0.6, UserArousal: 0.5, UserGenre: "Drama",
			MovieValence: float64(i%10) / 10, MovieArousal: 0.4, MovieGenre: "Drama",
			Vote: float64(1 + i%5),
		})
	}
}

// ErrMock is a generic injected failure.
var ErrMock = errors.New("mock failure")

// MockRateLimiter implements api.RateLimiter. Counts attempts per key and
// refuses once a key passes policy.MaxAttempts; AllowErr overrides that.
type MockRateLimiter struct {
	AllowErr error

	mu       sync.Mutex
	attempts map[string]int
}

func (m *MockRateLimiter) Allow(_ context.Context, key string, policy store.RateLimit) error {
	if m.AllowErr != nil {
		return m.AllowErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attempts == nil {
		m.attempts = make(map[string]int)
	}
	m.attempts[key]++
	if policy.MaxAttempts > 0 && m.attempts[key] > policy.MaxAttempts {
		return store.ErrRateLimitExceeded
	}
	return nil
}

// Attempts returns how many times key was checked.
func (m *MockRateLimiter) Attempts(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[key]
}
