//go:build integration

// e2e_test.go
//
// Integration tests: exercises run() end-to-end with real Postgres and Redis
// started through testcontainers. Run with: go test -tags integration ./...
package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/MGallo-Code/cinesense/internal/config"
	"github.com/MGallo-Code/cinesense/internal/model"
	"github.com/MGallo-Code/cinesense/internal/store"
	"github.com/MGallo-Code/cinesense/internal/testinfra"
	"github.com/MGallo-Code/cinesense/internal/testutil"
)

const e2eAdminToken = "e2e-admin"

// e2eServerURL is the base URL of the running test server.
// Empty if the stack could not start; e2e tests skip in that case.
var e2eServerURL string

func TestMain(m *testing.M) {
	if !testinfra.DockerAvailable() {
		fmt.Fprintln(os.Stderr, "docker not available, skipping e2e tests")
		os.Exit(0)
	}
	os.Exit(runE2E(m))
}

func runE2E(m *testing.M) int {
	ctx := context.Background()

	pgURL, stopPG, err := testinfra.StartPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "e2e: %v\n", err)
		return 1
	}
	defer stopPG()
	redisURL, stopRedis, err := testinfra.StartRedis(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "e2e: %v\n", err)
		return 1
	}
	defer stopRedis()

	dir, err := os.MkdirTemp("", "cinesense-e2e-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "e2e: %v\n", err)
		return 1
	}
	defer os.RemoveAll(dir)
	if err := seedDataDir(dir); err != nil {
		fmt.Fprintf(os.Stderr, "e2e: %v\n", err)
		return 1
	}

	cfg := &config.Config{
		DatabaseURL:          pgURL,
		RedisURL:             redisURL,
		Port:                 "0", // OS picks a free port
		LogLevel:             slog.LevelWarn,
		SessionTTL:           time.Hour,
		SessionSweepInterval: time.Minute,
		ModelDir:             filepath.Join(dir, "models"),
		BootstrapDataset:     filepath.Join(dir, "bootstrap.csv"),
		FeedbackThreshold:    200,
		ForestTrees:          10,
		ForestMinLeaf:        1,
		TopK:                 10,
		DefaultGenre:         "Drama",
		GenreAliases:         config.DefaultGenreAliases,
		PipelineSchedule:     "0 3 * * 1",
		PipelineTimezone:     time.UTC,
		PipelineTimeout:      time.Minute,
		StageTimeoutRefresh:  time.Minute,
		StageTimeoutSync:     30 * time.Second,
		StageTimeoutRetrain:  time.Minute,
		DBTimeout:            5 * time.Second,
		AdminToken:           e2eAdminToken,
	}

	// Seed the authoritative catalog before run() starts; the refresh stage
	// is skipped without a TMDB key.
	if err := seedMovies(ctx, pgURL); err != nil {
		fmt.Fprintf(os.Stderr, "e2e: %v\n", err)
		return 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	ready := make(chan string, 1)
	runErr := make(chan error, 1)
	go func() { runErr <- run(runCtx, cfg, ready) }()

	select {
	case addr := <-ready:
		e2eServerURL = addr
	case err := <-runErr:
		fmt.Fprintf(os.Stderr, "e2e: server failed to start (%v)\n", err)
		cancel()
		return 1
	}

	code := m.Run()
	cancel()
	<-runErr
	return code
}

// seedDataDir writes the fixed encoder and a small bootstrap dataset whose
// rating rises with movie valence.
func seedDataDir(dir string) error {
	artifacts, err := model.NewArtifactStore(filepath.Join(dir, "models"))
	if err != nil {
		return err
	}
	if err := artifacts.SaveEncoder(testutil.TestEncoder()); err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("user_valence,user_arousal,user_genre,movie_valence,movie_arousal,movie_genre,matching_rate\n")
	for i := 0; i <= 40; i++ {
		mv := float64(i) / 40
		fmt.Fprintf(&b, "0.6,0.5,Drama,%.3f,0.5,Drama,%.2f\n", mv, 1+4*mv)
	}
	return os.WriteFile(filepath.Join(dir, "bootstrap.csv"), []byte(b.String()), 0o644)
}

func seedMovies(ctx context.Context, pgURL string) error {
	ps, err := store.NewPostgresStore(ctx, pgURL)
	if err != nil {
		return err
	}
	defer ps.Close()
	if err := ps.Migrate(ctx, os.DirFS("migrations")); err != nil {
		return err
	}
	return ps.UpsertMovies(ctx, []store.Movie{
		{ID: 10, Name: "Gloom", Genres: []string{"Drama"}, Emotion: []float64{0.1, 0.4}},
		{ID: 11, Name: "Glow", Genres: []string{"Drama"}, Emotion: []float64{0.9, 0.4}},
		{ID: 12, Name: "Laughs", Genres: []string{"Comedy"}, Emotion: []float64{0.8, 0.7}},
	})
}

func skipIfNoE2E(t *testing.T) {
	t.Helper()
	if e2eServerURL == "" {
		t.Skip("e2e server not running")
	}
}

func e2eDo(t *testing.T, c *http.Client, method, path string, body any, hdr ...string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, err := http.NewRequest(method, e2eServerURL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

// waitHealthy polls /health until the startup pipeline has loaded a model.
func waitHealthy(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(90 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(e2eServerURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatal("service never became healthy")
}

func TestE2E_FullRoundTrip(t *testing.T) {
	skipIfNoE2E(t)
	waitHealthy(t)

	jar, _ := cookiejar.New(nil)
	c := &http.Client{Jar: jar}
	creds := map[string]string{"username": "e2e_user", "password": "e2e-password"}

	if resp, body := e2eDo(t, c, http.MethodPost, "/register", creds); resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: %d %v", resp.StatusCode, body)
	}
	if resp, body := e2eDo(t, c, http.MethodPost, "/login", creds); resp.StatusCode != http.StatusOK {
		t.Fatalf("login: %d %v", resp.StatusCode, body)
	}

	resp, body := e2eDo(t, c, http.MethodPost, "/submit", map[string]any{"q1": 5, "q2": 3, "q3": 3, "genre": "drama"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %v", resp.StatusCode, body)
	}
	recs, _ := body["recommendations"].([]any)
	if len(recs) != 2 || recs[0].(map[string]any)["title"] != "Glow" {
		t.Errorf("recommendations %v", recs)
	}

	resp, body = e2eDo(t, c, http.MethodPost, "/vote", map[string]any{"movie_id": 11, "vote": 5})
	if resp.StatusCode != http.StatusOK || body["feedback_logged"] != true {
		t.Fatalf("vote: %d %v", resp.StatusCode, body)
	}

	resp, body = e2eDo(t, c, http.MethodGet, "/history", nil)
	if hist, _ := body["history"].([]any); resp.StatusCode != http.StatusOK || len(hist) != 1 {
		t.Errorf("history: %d %v", resp.StatusCode, body)
	}

	if resp, _ := e2eDo(t, c, http.MethodPost, "/logout", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("logout: %d", resp.StatusCode)
	}
	if resp, _ := e2eDo(t, c, http.MethodPost, "/submit", map[string]any{"q1": 3, "q2": 3, "q3": 3}); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("submit after logout: %d", resp.StatusCode)
	}
}

func TestE2E_AdminPipelineRun(t *testing.T) {
	skipIfNoE2E(t)
	waitHealthy(t)

	c := &http.Client{}
	resp, body := e2eDo(t, c, http.MethodPost, "/admin/pipeline/run", nil, "X-Admin-Token", e2eAdminToken)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("run: %d %v", resp.StatusCode, body)
	}
	stages, _ := body["stages"].([]any)
	if len(stages) != 3 || stages[0].(map[string]any)["status"] != "skipped" {
		t.Errorf("stages %v", stages)
	}

	resp, body = e2eDo(t, c, http.MethodGet, "/admin/pipeline/status", nil, "X-Admin-Token", e2eAdminToken)
	if resp.StatusCode != http.StatusOK || body["running"] != true || body["last_run"] == nil {
		t.Errorf("status: %d %v", resp.StatusCode, body)
	}
}
