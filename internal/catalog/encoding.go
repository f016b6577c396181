// encoding.go -- row validation and the cache's flat field encoding.
//
// Composite fields (genre, link, direct, emotion) are stored as JSON arrays.
package catalog

import (
	"fmt"
	"math"
	"strconv"

	"github.com/MGallo-Code/cinesense/internal/apperr"
	"github.com/MGallo-Code/cinesense/internal/store"
	json "github.com/goccy/go-json"
)

// Affect values outside [AffectMin, AffectMax] are rejected on rebuild.
const (
	AffectMin = -1.0
	AffectMax = 1.0
)

// Cache hash field names.
const (
	fieldName     = "name"
	fieldGenre    = "genre"
	fieldRating   = "rating"
	fieldSynopsis = "synopsis"
	fieldLink     = "link"
	fieldDirect   = "direct"
	fieldEmotion  = "emotion"
	fieldPoster   = "poster"
)

// itemFromRow validates an authoritative row. The affect pair is required.
func itemFromRow(row store.Movie) (Item, error) {
	if row.ID <= 0 {
		return Item{}, fmt.Errorf("movie id %d: %w", row.ID, apperr.ErrValidation)
	}
	if len(row.Emotion) != 2 {
		return Item{}, fmt.Errorf("affect pair has %d values: %w", len(row.Emotion), apperr.ErrValidation)
	}
	valence, arousal := row.Emotion[0], row.Emotion[1]
	if !inAffectRange(valence) || !inAffectRange(arousal) {
		return Item{}, fmt.Errorf("affect pair (%v, %v) out of range: %w", valence, arousal, apperr.ErrValidation)
	}

	item := Item{
		ID:        row.ID,
		Title:     row.Name,
		Genres:    nonNil(row.Genres),
		Valence:   valence,
		Arousal:   arousal,
		Links:     nonNil(row.Links),
		Directors: nonNil(row.Directors),
	}
	if row.Rating != nil {
		item.Rating = *row.Rating
	}
	if row.Synopsis != nil {
		item.Synopsis = *row.Synopsis
	}
	if row.Poster != nil {
		item.Poster = *row.Poster
	}
	return item, nil
}

func inAffectRange(v float64) bool {
	return !math.IsNaN(v) && v >= AffectMin && v <= AffectMax
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// encodeItem flattens an item into its cache record.
func encodeItem(item Item) (store.CacheRecord, error) {
	genres, err := json.Marshal(item.Genres)
	if err != nil {
		return store.CacheRecord{}, fmt.Errorf("encoding genres: %w", err)
	}
	links, err := json.Marshal(item.Links)
	if err != nil {
		return store.CacheRecord{}, fmt.Errorf("encoding links: %w", err)
	}
	directors, err := json.Marshal(item.Directors)
	if err != nil {
		return store.CacheRecord{}, fmt.Errorf("encoding directors: %w", err)
	}
	emotion, err := json.Marshal([2]float64{item.Valence, item.Arousal})
	if err != nil {
		return store.CacheRecord{}, fmt.Errorf("encoding emotion: %w", err)
	}

	return store.CacheRecord{
		ID: item.ID,
		Fields: map[string]string{
			fieldName:     item.Title,
			fieldGenre:    string(genres),
			fieldRating:   strconv.FormatFloat(item.Rating, 'f', -1, 64),
			fieldSynopsis: item.Synopsis,
			fieldLink:     string(links),
			fieldDirect:   string(directors),
			fieldEmotion:  string(emotion),
			fieldPoster:   item.Poster,
		},
	}, nil
}

// decodeItem reverses encodeItem.
func decodeItem(rec store.CacheRecord) (Item, error) {
	item := Item{
		ID:       rec.ID,
		Title:    rec.Fields[fieldName],
		Synopsis: rec.Fields[fieldSynopsis],
		Poster:   rec.Fields[fieldPoster],
	}

	var emotion []float64
	if err := json.Unmarshal([]byte(rec.Fields[fieldEmotion]), &emotion); err != nil {
		return Item{}, fmt.Errorf("decoding emotion: %w", err)
	}
	if len(emotion) != 2 {
		return Item{}, fmt.Errorf("emotion has %d values: %w", len(emotion), apperr.ErrValidation)
	}
	item.Valence, item.Arousal = emotion[0], emotion[1]

	if err := decodeList(rec.Fields[fieldGenre], &item.Genres); err != nil {
		return Item{}, fmt.Errorf("decoding genres: %w", err)
	}
	if err := decodeList(rec.Fields[fieldLink], &item.Links); err != nil {
		return Item{}, fmt.Errorf("decoding links: %w", err)
	}
	if err := decodeList(rec.Fields[fieldDirect], &item.Directors); err != nil {
		return Item{}, fmt.Errorf("decoding directors: %w", err)
	}

	if raw := rec.Fields[fieldRating]; raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Item{}, fmt.Errorf("decoding rating: %w", err)
		}
		item.Rating = r
	}
	return item, nil
}

// decodeList decodes a JSON string array; empty input is an empty list.
func decodeList(raw string, dst *[]string) error {
	if raw == "" {
		*dst = []string{}
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return err
	}
	if *dst == nil {
		*dst = []string{}
	}
	return nil
}
