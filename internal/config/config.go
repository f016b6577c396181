// config.go

// Environment variable loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultGenreAliases maps colloquial genre tokens (lowercase) to the canonical
// labels the genre encoder was trained on.
var DefaultGenreAliases = map[string]string{
	"sci-fi":   "Science Fiction",
	"scifi":    "Science Fiction",
	"sci fi":   "Science Fiction",
	"musical":  "Music",
	"romantic": "Romance",
	"animated": "Animation",
	"doc":      "Documentary",
}

// Config holds all env configuration vars for CineSense.
type Config struct {
	DatabaseURL  string
	RedisURL     string
	Port         string
	LogLevel     slog.Level
	CookieSecure bool

	// Session Store. Defaults: 10h sliding TTL, sweep every 10m.
	SessionTTL           time.Duration
	SessionSweepInterval time.Duration

	// Model artifacts + training data.
	ModelDir          string
	BootstrapDataset  string
	FeedbackThreshold int
	ForestTrees       int
	ForestMaxDepth    int // 0 = unlimited
	ForestMinLeaf     int
	ForestSeed        int64

	// Ranking + genre policy.
	TopK         int
	DefaultGenre string
	GenreAliases map[string]string

	// Orchestrator. Schedule is a standard 5-field cron expression.
	PipelineSchedule    string
	PipelineTimezone    *time.Location
	PipelineTimeout     time.Duration
	StageTimeoutRefresh time.Duration
	StageTimeoutSync    time.Duration
	StageTimeoutRetrain time.Duration
	DBTimeout           time.Duration

	// Login attempts per username. Zero LoginMaxAttempts disables the limit.
	LoginMaxAttempts int
	LoginWindow      time.Duration
	LoginLockout     time.Duration

	// AdminToken guards /admin/*. Empty disables the admin routes.
	AdminToken string

	// TMDB catalog refresh. Empty APIKey skips the refresh stage.
	TMDBAPIKey      string
	TMDBBaseURL     string
	TMDBPages       int
	TMDBConcurrency int
	TMDBMaxMovies   int
	TMDBRatePerSec  int
	TMDBRegion      string
	VADLexiconPath  string
}

// LoadConfig reads environment variables and returns a validated Config.
// A .env file in the working directory is loaded first if present; real env
// vars take precedence over it.
// Returns an error if required variables (DATABASE_URL, REDIS_URL) are missing.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	cfg.Port = envString("PORT", "8000")

	// Parse log level, default to info
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	// Default true -- only explicit "false" disables (local http development).
	cfg.CookieSecure = os.Getenv("COOKIE_SECURE") != "false"

	cfg.SessionTTL = envDuration("SESSION_TTL", 600*time.Minute)
	cfg.SessionSweepInterval = envDuration("SESSION_SWEEP_INTERVAL", 10*time.Minute)

	cfg.ModelDir = envString("MODEL_DIR", "./data/models")
	cfg.BootstrapDataset = envString("BOOTSTRAP_DATASET", "./data/bootstrap.csv")
	cfg.FeedbackThreshold = envInt("FEEDBACK_THRESHOLD", 200)
	cfg.ForestTrees = envInt("FOREST_TREES", 100)
	cfg.ForestMaxDepth = envIntAllowZero("FOREST_MAX_DEPTH", 0)
	cfg.ForestMinLeaf = envInt("FOREST_MIN_LEAF", 1)
	cfg.ForestSeed = int64(envIntAllowZero("FOREST_SEED", 0))

	cfg.TopK = envInt("TOP_K", 10)
	cfg.DefaultGenre = envString("DEFAULT_GENRE", "Drama")
	aliases, err := parseAliases(os.Getenv("GENRE_ALIASES"))
	if err != nil {
		return nil, err
	}
	cfg.GenreAliases = aliases

	cfg.PipelineSchedule = envString("PIPELINE_SCHEDULE", "0 3 * * 1")
	loc, err := time.LoadLocation(envString("PIPELINE_TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("PIPELINE_TIMEZONE: %w", err)
	}
	cfg.PipelineTimezone = loc
	cfg.PipelineTimeout = envDuration("PIPELINE_TIMEOUT", 30*time.Minute)
	cfg.StageTimeoutRefresh = envDuration("STAGE_TIMEOUT_REFRESH", 20*time.Minute)
	cfg.StageTimeoutSync = envDuration("STAGE_TIMEOUT_SYNC", 2*time.Minute)
	cfg.StageTimeoutRetrain = envDuration("STAGE_TIMEOUT_RETRAIN", 10*time.Minute)
	cfg.DBTimeout = envDuration("DB_TIMEOUT", 5*time.Second)

	cfg.LoginMaxAttempts = envIntAllowZero("LOGIN_MAX_ATTEMPTS", 10)
	cfg.LoginWindow = envDuration("LOGIN_WINDOW", 10*time.Minute)
	cfg.LoginLockout = envDuration("LOGIN_LOCKOUT", 15*time.Minute)

	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")

	cfg.TMDBAPIKey = os.Getenv("TMDB_API_KEY")
	cfg.TMDBBaseURL = envString("TMDB_BASE_URL", "https://api.themoviedb.org/3")
	cfg.TMDBPages = envInt("TMDB_PAGES", 500)
	cfg.TMDBConcurrency = envInt("TMDB_CONCURRENCY", 20)
	cfg.TMDBMaxMovies = envInt("TMDB_MAX_MOVIES", 10000)
	cfg.TMDBRatePerSec = envInt("TMDB_RATE_PER_SEC", 40)
	cfg.TMDBRegion = envString("TMDB_REGION", "TH")
	cfg.VADLexiconPath = envString("VAD_LEXICON", "./data/NRC-VAD-Lexicon.txt")

	return cfg, nil
}

// parseAliases reads GENRE_ALIASES ("sci-fi=Science Fiction,musical=Music").
// Empty input returns a copy of DefaultGenreAliases.
func parseAliases(raw string) (map[string]string, error) {
	out := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		for k, v := range DefaultGenreAliases {
			out[k] = v
		}
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		alias, canonical, ok := strings.Cut(pair, "=")
		alias = strings.ToLower(strings.TrimSpace(alias))
		canonical = strings.TrimSpace(canonical)
		if !ok || alias == "" || canonical == "" {
			return nil, fmt.Errorf("GENRE_ALIASES: malformed entry %q", pair)
		}
		out[alias] = canonical
	}
	return out, nil
}

// envString reads an env var, returning def if missing.
func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt reads an env var as int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envIntAllowZero is envInt for settings where 0 is meaningful.
func envIntAllowZero(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
