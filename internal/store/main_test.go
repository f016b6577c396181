//go:build integration

package store

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/MGallo-Code/cinesense/internal/testinfra"
	"github.com/gofrs/uuid/v5"
)

// Shared test connections for the store package
var testStore *PostgresStore
var testRedis *RedisStore

// TestMain starts Postgres + Redis containers, runs all store tests, tears down.
func TestMain(m *testing.M) {
	if !testinfra.DockerAvailable() {
		fmt.Fprintln(os.Stderr, "docker not available, skipping store integration tests")
		os.Exit(0)
	}
	os.Exit(runWithContainers(m))
}

// runWithContainers is split from TestMain so deferred terminations run before os.Exit.
func runWithContainers(m *testing.M) int {
	ctx := context.Background()

	pgURL, stopPG, err := testinfra.StartPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
		return 1
	}
	defer stopPG()

	ps, err := NewPostgresStore(ctx, pgURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to test database: %v\n", err)
		return 1
	}
	defer ps.Close()
	testStore = ps

	if err := testStore.Migrate(ctx, os.DirFS("../../migrations")); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		return 1
	}

	redisURL, stopRedis, err := testinfra.StartRedis(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis: %v\n", err)
		return 1
	}
	defer stopRedis()

	rdb, err := NewRedisClient(ctx, redisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to test redis: %v\n", err)
		return 1
	}
	defer rdb.Close()
	testRedis = NewRedisStore(rdb)

	return m.Run()
}

// --- Helpers ---

// mustCreateUser inserts a user with a fresh v7 id and returns the id.
func mustCreateUser(t *testing.T, ctx context.Context, username string) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("failed to generate UUID: %v", err)
	}
	if err := testStore.CreateUser(ctx, id, username, "$argon2id$test"); err != nil {
		t.Fatalf("CreateUser(%q): %v", username, err)
	}
	t.Cleanup(func() {
		testStore.pool.Exec(context.Background(), "DELETE FROM users WHERE id = $1", id)
	})
	return id
}

// mustCreateUserID returns a fresh v7 id without inserting anything.
func mustCreateUserID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("failed to generate UUID: %v", err)
	}
	return id
}

// mustUpsertMovies inserts movies and removes them on cleanup.
func mustUpsertMovies(t *testing.T, ctx context.Context, movies ...Movie) {
	t.Helper()
	if err := testStore.UpsertMovies(ctx, movies); err != nil {
		t.Fatalf("UpsertMovies: %v", err)
	}
	t.Cleanup(func() {
		for _, m := range movies {
			testStore.pool.Exec(context.Background(), "DELETE FROM movies WHERE movie_id = $1", m.ID)
		}
	})
}

func ptr[T any](v T) *T { return &v }
