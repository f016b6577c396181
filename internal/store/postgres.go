// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and queries.
// Creates a connection pool at startup, shared across all components.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// movieBatchSize caps rows per pgx.Batch in UpsertMovies.
const movieBatchSize = 100

// Postgres error codes inspected by the store.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// The store used by program to connect with Postgres db
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a verified connection pool to PostgreSQL wrapped
// in a store. Call once at startup from main.go; the returned store is safe
// for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Ping db to make sure connection works
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings the pool.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

// CreateUser inserts a new user. The caller generates the UUID v7 and the
// Argon2id hash. Returns ErrDuplicateUsername on a unique violation.
func (s *PostgresStore) CreateUser(ctx context.Context, id uuid.UUID, username, passwordHash string) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO users (id, username, password_hash) VALUES ($1, $2, $3)",
		id, username, passwordHash)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicateUsername
	}
	return err
}

// GetUserByUsername fetches a user for login. Returns pgx.ErrNoRows if absent.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// --- Movies (authoritative catalog) ---

// ListMovies returns every catalog row ordered by movie_id.
// Rows are returned as stored; validation happens in the catalog cache rebuild.
func (s *PostgresStore) ListMovies(ctx context.Context) ([]Movie, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT movie_id, movie_name, movie_genre, movie_rating, movie_synopsis,
		       movie_link, movie_direct, movie_emotion, movie_poster
		FROM movies
		ORDER BY movie_id`)
	if err != nil {
		return nil, fmt.Errorf("querying movies: %w", err)
	}
	defer rows.Close()

	var out []Movie
	for rows.Next() {
		var m Movie
		// Array columns may hold NULL elements; scan them nullable and
		// let the cache rebuild decide what is malformed.
		var genres, links, directors []*string
		var emotion []*float64
		if err := rows.Scan(&m.ID, &m.Name, &genres, &m.Rating, &m.Synopsis,
			&links, &directors, &emotion, &m.Poster); err != nil {
			return nil, fmt.Errorf("scanning movie: %w", err)
		}
		m.Genres = dropNullText(genres)
		m.Links = dropNullText(links)
		m.Directors = dropNullText(directors)
		m.Emotion = nullToNaN(emotion)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating movies: %w", err)
	}
	return out, nil
}

// dropNullText removes NULL entries from a text[] column. A NULL column
// stays nil.
func dropNullText(in []*string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}

// nullToNaN keeps the length of a float8[] column and turns NULL entries
// into NaN, which the affect range check rejects.
func nullToNaN(in []*float64) []float64 {
	if in == nil {
		return nil
	}
	out := make([]float64, len(in))
	for i, v := range in {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	return out
}

// UpsertMovies inserts or fully replaces movies keyed by movie_id,
// movieBatchSize rows per round trip.
func (s *PostgresStore) UpsertMovies(ctx context.Context, movies []Movie) error {
	for start := 0; start < len(movies); start += movieBatchSize {
		end := min(start+movieBatchSize, len(movies))

		batch := &pgx.Batch{}
		for _, m := range movies[start:end] {
			batch.Queue(`
				INSERT INTO movies (movie_id, movie_name, movie_genre, movie_rating, movie_synopsis,
				                    movie_link, movie_direct, movie_emotion, movie_poster)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (movie_id) DO UPDATE SET
					movie_name     = EXCLUDED.movie_name,
					movie_genre    = EXCLUDED.movie_genre,
					movie_rating   = EXCLUDED.movie_rating,
					movie_synopsis = EXCLUDED.movie_synopsis,
					movie_link     = EXCLUDED.movie_link,
					movie_direct   = EXCLUDED.movie_direct,
					movie_emotion  = EXCLUDED.movie_emotion,
					movie_poster   = EXCLUDED.movie_poster,
					updated_at     = now()`,
				m.ID, m.Name, m.Genres, m.Rating, m.Synopsis, m.Links, m.Directors, m.Emotion, m.Poster)
		}
		if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upserting movies %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// --- Watch history + feedback ---

// UpsertWatched records (or overwrites) a user's vote on a movie.
// Returns the watch_id; ErrMovieNotFound if movieID is not in the catalog.
func (s *PostgresStore) UpsertWatched(ctx context.Context, userID uuid.UUID, movieID int64, vote float64) (int64, error) {
	var watchID int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO watched (user_id, movie_id, vote)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, movie_id)
		DO UPDATE SET vote = EXCLUDED.vote, watched_at = now()
		RETURNING watch_id`,
		userID, movieID, vote,
	).Scan(&watchID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return 0, fmt.Errorf("%w: %d", ErrMovieNotFound, movieID)
		}
		return 0, err
	}
	return watchID, nil
}

// UpsertFeedback stores a training sample keyed by (user_id, movie_id);
// a repeat vote overwrites the prior sample.
func (s *PostgresStore) UpsertFeedback(ctx context.Context, fs FeedbackSample) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feedback (user_id, movie_id, user_valence, user_arousal, user_genre,
		                      movie_valence, movie_arousal, movie_genre, vote)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, movie_id) DO UPDATE SET
			user_valence  = EXCLUDED.user_valence,
			user_arousal  = EXCLUDED.user_arousal,
			user_genre    = EXCLUDED.user_genre,
			movie_valence = EXCLUDED.movie_valence,
			movie_arousal = EXCLUDED.movie_arousal,
			movie_genre   = EXCLUDED.movie_genre,
			vote          = EXCLUDED.vote,
			created_at    = now()`,
		fs.UserID, fs.MovieID, fs.UserValence, fs.UserArousal, fs.UserGenre,
		fs.MovieValence, fs.MovieArousal, fs.MovieGenre, fs.Vote)
	return err
}

// ListFeedback returns every stored training sample.
func (s *PostgresStore) ListFeedback(ctx context.Context) ([]FeedbackSample, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, movie_id, user_valence, user_arousal, user_genre,
		       movie_valence, movie_arousal, movie_genre, vote
		FROM feedback
		ORDER BY feedback_id`)
	if err != nil {
		return nil, fmt.Errorf("querying feedback: %w", err)
	}
	defer rows.Close()

	var out []FeedbackSample
	for rows.Next() {
		var fs FeedbackSample
		if err := rows.Scan(&fs.UserID, &fs.MovieID, &fs.UserValence, &fs.UserArousal, &fs.UserGenre,
			&fs.MovieValence, &fs.MovieArousal, &fs.MovieGenre, &fs.Vote); err != nil {
			return nil, fmt.Errorf("scanning feedback: %w", err)
		}
		out = append(out, fs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating feedback: %w", err)
	}
	return out, nil
}

// ListWatchHistory returns a user's watched movies, most recent first.
func (s *PostgresStore) ListWatchHistory(ctx context.Context, userID uuid.UUID) ([]WatchEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT w.watch_id, w.user_id, w.movie_id, w.vote, w.watched_at, m.movie_name, m.movie_poster
		FROM watched w
		JOIN movies m ON m.movie_id = w.movie_id
		WHERE w.user_id = $1
		ORDER BY w.watched_at DESC, w.watch_id DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("querying watch history: %w", err)
	}
	defer rows.Close()

	var out []WatchEntry
	for rows.Next() {
		var e WatchEntry
		if err := rows.Scan(&e.WatchID, &e.UserID, &e.MovieID, &e.Vote, &e.WatchedAt, &e.Title, &e.Poster); err != nil {
			return nil, fmt.Errorf("scanning watch entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating watch history: %w", err)
	}
	return out, nil
}
