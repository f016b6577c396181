// Package features turns a mood submission and a catalog snapshot into
// feature rows laid out in the active model's column order.
package features

import (
	"fmt"

	"github.com/MGallo-Code/cinesense/internal/apperr"
	"github.com/MGallo-Code/cinesense/internal/catalog"
	"github.com/MGallo-Code/cinesense/internal/model"
	"github.com/go-playground/validator/v10"
)

// ScaleMax is the top of the questionnaire's answer scale.
const ScaleMax = 5

// Answers are the raw questionnaire answers: q1 drives valence,
// q2 and q3 drive arousal.
type Answers struct {
	Q1 int `json:"q1" validate:"min=1,max=5"`
	Q2 int `json:"q2" validate:"min=1,max=5"`
	Q3 int `json:"q3" validate:"min=1,max=5"`
}

// Mood is a normalized submission.
type Mood struct {
	Valence float64
	Arousal float64
	Genre   Genre
}

// Batch is a set of rows ready for one inference call. Rows[i] belongs to
// Items[i]; the artifact that fixed the column layout travels with them.
type Batch struct {
	Artifact *model.Artifact
	Items    []catalog.Item
	Rows     [][]float64
	Filter   FilterOutcome
}

// Pipeline builds features against whatever artifact the slot holds.
type Pipeline struct {
	slot         *model.Slot
	resolver     *Resolver
	defaultGenre string
	validate     *validator.Validate
}

// New returns a Pipeline.
func New(slot *model.Slot, resolver *Resolver, defaultGenre string) *Pipeline {
	return &Pipeline{
		slot:         slot,
		resolver:     resolver,
		defaultGenre: defaultGenre,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
}

// NormalizeMood validates the answers and maps them onto the model's range:
// valence = q1/5, arousal = (q2+q3)/10.
func (p *Pipeline) NormalizeMood(a Answers, genre string) (Mood, error) {
	art, err := p.slot.Get()
	if err != nil {
		return Mood{}, err
	}
	if err := p.validate.Struct(a); err != nil {
		return Mood{}, fmt.Errorf("answers out of range: %w", apperr.ErrValidation)
	}
	return Mood{
		Valence: float64(a.Q1) / ScaleMax,
		Arousal: float64(a.Q2+a.Q3) / (2 * ScaleMax),
		Genre:   p.resolver.Resolve(genre, art.Encoder),
	}, nil
}

// BuildRows filters items by the mood's genre (falling back to all items)
// and encodes one row per surviving item.
func (p *Pipeline) BuildRows(mood Mood, items []catalog.Item) (Batch, error) {
	art, err := p.slot.Get()
	if err != nil {
		return Batch{}, err
	}
	if len(items) == 0 {
		return Batch{}, fmt.Errorf("catalog is empty: %w", apperr.ErrDataUnavailable)
	}

	filtered, outcome := FilterByGenre(items, mood.Genre.Term)

	index := make(map[string]int, len(art.Columns))
	for i, c := range art.Columns {
		index[c] = i
	}
	encNames := art.Encoder.FeatureNames()

	rows := make([][]float64, len(filtered))
	for i, item := range filtered {
		row := make([]float64, len(art.Columns))
		set := func(name string, v float64) {
			if j, ok := index[name]; ok {
				row[j] = v
			}
		}
		set("user_valence", mood.Valence)
		set("user_arousal", mood.Arousal)
		set("movie_valence", item.Valence)
		set("movie_arousal", item.Arousal)

		itemGenre := ItemGenre(item, mood.Genre.Label, p.defaultGenre)
		if label, ok := art.Encoder.Lookup(model.MovieGenreColumn, itemGenre); ok {
			itemGenre = label
		}
		oh, err := art.Encoder.Transform(mood.Genre.Label, itemGenre)
		if err != nil {
			return Batch{}, fmt.Errorf("encoding movie %d: %w", item.ID, err)
		}
		for k, v := range oh {
			if v != 0 {
				set(encNames[k], v)
			}
		}
		rows[i] = row
	}

	return Batch{Artifact: art, Items: filtered, Rows: rows, Filter: outcome}, nil
}
