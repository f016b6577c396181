// Package ranking scores feature batches with the active model and returns
// the top results with their display fields.
package ranking

import (
	"fmt"
	"sort"
	"time"

	"github.com/MGallo-Code/cinesense/internal/catalog"
	"github.com/MGallo-Code/cinesense/internal/features"
	"github.com/MGallo-Code/cinesense/internal/metrics"
)

// Recommendation is one ranked item.
type Recommendation struct {
	MovieID   int64    `json:"movie_id"`
	Title     string   `json:"title"`
	Genres    []string `json:"genres"`
	Poster    string   `json:"poster"`
	Synopsis  string   `json:"synopsis"`
	Links     []string `json:"links"`
	Directors []string `json:"directors"`
	Rating    float64  `json:"rating"`
	Score     float64  `json:"score"`
}

// Rank scores every row in one call, sorts by score descending (ties keep
// catalog order), and returns at most k results. It mutates nothing.
func Rank(b features.Batch, k int) ([]Recommendation, error) {
	start := time.Now()
	defer func() { metrics.RankDuration.Observe(time.Since(start).Seconds()) }()

	if len(b.Rows) != len(b.Items) {
		return nil, fmt.Errorf("batch has %d rows for %d items", len(b.Rows), len(b.Items))
	}
	if len(b.Rows) == 0 {
		return []Recommendation{}, nil
	}

	scores, err := b.Artifact.Predict(b.Rows)
	if err != nil {
		return nil, fmt.Errorf("scoring batch: %w", err)
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, c int) bool { return scores[order[a]] > scores[order[c]] })

	if k <= 0 || k > len(order) {
		k = len(order)
	}
	out := make([]Recommendation, k)
	for i, idx := range order[:k] {
		out[i] = enrich(b.Items[idx], scores[idx])
	}
	return out, nil
}

func enrich(item catalog.Item, score float64) Recommendation {
	return Recommendation{
		MovieID:   item.ID,
		Title:     item.Title,
		Genres:    item.Genres,
		Poster:    item.Poster,
		Synopsis:  item.Synopsis,
		Links:     item.Links,
		Directors: item.Directors,
		Rating:    item.Rating,
		Score:     score,
	}
}
