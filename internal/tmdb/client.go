// client.go -- TMDB v3 API client with rate limiting and a circuit breaker.
package tmdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/MGallo-Code/cinesense/internal/metrics"
)

const breakerName = "tmdb-api"

// ErrStatus is returned for non-2xx TMDB responses.
var ErrStatus = errors.New("tmdb: unexpected status")

// DiscoverMovie is one entry of a /discover/movie page.
type DiscoverMovie struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	GenreIDs    []int    `json:"genre_ids"`
	VoteAverage *float64 `json:"vote_average"`
	Overview    *string  `json:"overview"`
	PosterPath  *string  `json:"poster_path"`
}

type discoverPage struct {
	Page       int             `json:"page"`
	TotalPages int             `json:"total_pages"`
	Results    []DiscoverMovie `json:"results"`
}

type genreList struct {
	Genres []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"genres"`
}

type credits struct {
	Crew []struct {
		Name string `json:"name"`
		Job  string `json:"job"`
	} `json:"crew"`
}

type provider struct {
	ProviderName string `json:"provider_name"`
}

type watchProviders struct {
	Results map[string]struct {
		Flatrate []provider `json:"flatrate"`
		Buy      []provider `json:"buy"`
	} `json:"results"`
}

// ClientConfig configures a Client. Zero RatePerSec disables rate limiting.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	RatePerSec int
	Timeout    time.Duration
}

// Client calls the TMDB API. Every request waits on the rate limiter and
// runs through a circuit breaker shared by all endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	cb         *gobreaker.CircuitBreaker[[]byte]
}

// NewClient returns a Client for cfg. Uses a 10s per-request timeout unless
// cfg.Timeout is set.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		cb: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        breakerName,
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			// Opens at >= 60% failures once 10 requests have been seen.
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < 10 {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
			},
			// Caller cancellation says nothing about TMDB health.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
				metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			},
		}),
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// DiscoverPage fetches one page of highly rated, well-voted movies.
func (c *Client) DiscoverPage(ctx context.Context, page int) ([]DiscoverMovie, error) {
	q := url.Values{
		"language":         {"en-US"},
		"sort_by":          {"vote_average.desc"},
		"vote_average.gte": {"6"},
		"vote_count.gte":   {"300"},
		"page":             {strconv.Itoa(page)},
	}
	var out discoverPage
	if err := c.getJSON(ctx, "/discover/movie", q, &out); err != nil {
		return nil, fmt.Errorf("discover page %d: %w", page, err)
	}
	return out.Results, nil
}

// Genres returns TMDB's genre id -> name map.
func (c *Client) Genres(ctx context.Context) (map[int]string, error) {
	var out genreList
	if err := c.getJSON(ctx, "/genre/movie/list", url.Values{"language": {"en-US"}}, &out); err != nil {
		return nil, fmt.Errorf("genre list: %w", err)
	}
	m := make(map[int]string, len(out.Genres))
	for _, g := range out.Genres {
		m[g.ID] = g.Name
	}
	return m, nil
}

// Directors returns the crew members credited as Director, or ["N/A"].
func (c *Client) Directors(ctx context.Context, movieID int64) ([]string, error) {
	var out credits
	if err := c.getJSON(ctx, fmt.Sprintf("/movie/%d/credits", movieID), nil, &out); err != nil {
		return nil, fmt.Errorf("credits for %d: %w", movieID, err)
	}
	var names []string
	for _, m := range out.Crew {
		if m.Job == "Director" {
			names = append(names, m.Name)
		}
	}
	if len(names) == 0 {
		return []string{notAvailable}, nil
	}
	return names, nil
}

// Providers returns the de-duplicated flatrate and buy provider names for
// region, or ["N/A"].
func (c *Client) Providers(ctx context.Context, movieID int64, region string) ([]string, error) {
	var out watchProviders
	if err := c.getJSON(ctx, fmt.Sprintf("/movie/%d/watch/providers", movieID), nil, &out); err != nil {
		return nil, fmt.Errorf("watch providers for %d: %w", movieID, err)
	}
	var names []string
	if r, ok := out.Results[region]; ok {
		seen := make(map[string]bool)
		for _, list := range [][]provider{r.Flatrate, r.Buy} {
			for _, p := range list {
				if p.ProviderName == "" || seen[p.ProviderName] {
					continue
				}
				seen[p.ProviderName] = true
				names = append(names, p.ProviderName)
			}
		}
	}
	if len(names) == 0 {
		return []string{notAvailable}, nil
	}
	return names, nil
}

// getJSON GETs path under the base URL and decodes the body into dst.
func (c *Client) getJSON(ctx context.Context, path string, q url.Values, dst any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := c.cb.Execute(func() ([]byte, error) {
		return c.get(ctx, path, q)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "rejected").Inc()
		return err
	case err != nil:
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "failure").Inc()
		return err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "success").Inc()

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Cap at 4 MiB; a discover page is ~20 KiB.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d %s", ErrStatus, resp.StatusCode, path)
	}
	return body, nil
}
