package features

import (
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/MGallo-Code/cinesense/internal/catalog"
	"github.com/MGallo-Code/cinesense/internal/model"
)

// GenreOutcome tags how a requested genre token was resolved.
type GenreOutcome string

const (
	GenreMatched         GenreOutcome = "matched"
	GenreRandom          GenreOutcome = "random"
	GenreDefaultFallback GenreOutcome = "default_fallback"
)

// FilterOutcome tags whether the genre filter narrowed the catalog.
type FilterOutcome string

const (
	FilterMatched            FilterOutcome = "matched"
	FilterUnfilteredFallback FilterOutcome = "unfiltered_fallback"
)

// RandomToken asks for a genre drawn from the encoder's vocabulary.
const RandomToken = "random"

// Genre is a resolved genre. Label is the encoder's spelling, used for
// encoding and feedback; Term is its lowercase form, used to filter the catalog.
type Genre struct {
	Label   string
	Term    string
	Outcome GenreOutcome
}

// Resolver maps requested genre tokens onto the encoder vocabulary.
type Resolver struct {
	aliases      map[string]string
	defaultGenre string
	intN         func(n int) int
}

// NewResolver builds a resolver. Alias keys are matched lowercase.
func NewResolver(aliases map[string]string, defaultGenre string) *Resolver {
	norm := make(map[string]string, len(aliases))
	for k, v := range aliases {
		norm[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &Resolver{aliases: norm, defaultGenre: defaultGenre, intN: rand.IntN}
}

// Resolve folds case, applies the alias table, and checks the result against
// the encoder's user-genre vocabulary. "random" draws one vocabulary entry and
// derives both Label and Term from that single draw. Anything the encoder does
// not know becomes the default genre.
func (r *Resolver) Resolve(token string, enc *model.Encoder) Genre {
	t := strings.ToLower(strings.TrimSpace(token))

	if t == RandomToken {
		vocab := enc.Vocabulary(model.UserGenreColumn)
		if len(vocab) > 0 {
			label := vocab[r.intN(len(vocab))]
			return Genre{Label: label, Term: strings.ToLower(label), Outcome: GenreRandom}
		}
	}

	canonical := t
	if alias, ok := r.aliases[t]; ok {
		canonical = alias
	}
	if label, ok := enc.Lookup(model.UserGenreColumn, canonical); ok {
		return Genre{Label: label, Term: strings.ToLower(label), Outcome: GenreMatched}
	}

	label, ok := enc.Lookup(model.UserGenreColumn, r.defaultGenre)
	if !ok {
		slog.Warn("default genre unknown to encoder", "default_genre", r.defaultGenre)
		label = r.defaultGenre
	}
	return Genre{Label: label, Term: strings.ToLower(label), Outcome: GenreDefaultFallback}
}

// FilterByGenre keeps items with a genre entry equal to term, ignoring case
// and surrounding space. No match returns every item.
func FilterByGenre(items []catalog.Item, term string) ([]catalog.Item, FilterOutcome) {
	term = strings.TrimSpace(term)
	var out []catalog.Item
	for _, item := range items {
		if HasGenre(item, term) {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return items, FilterUnfilteredFallback
	}
	return out, FilterMatched
}

// HasGenre reports whether item lists genre, ignoring case.
func HasGenre(item catalog.Item, genre string) bool {
	for _, g := range item.Genres {
		if strings.EqualFold(strings.TrimSpace(g), genre) {
			return true
		}
	}
	return false
}

// ItemGenre picks the genre an item is encoded and logged under: the
// requested label if the item carries it, else its first genre, else
// defaultGenre.
func ItemGenre(item catalog.Item, requested, defaultGenre string) string {
	if requested != "" && HasGenre(item, requested) {
		return requested
	}
	for _, g := range item.Genres {
		if g = strings.TrimSpace(g); g != "" {
			return g
		}
	}
	return defaultGenre
}
