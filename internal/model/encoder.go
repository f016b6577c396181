// Package model holds the genre encoder, the random-forest regressor, and the
// on-disk artifact rotation that keeps a loadable model in place at all times.
package model

import (
	"fmt"
	"strings"
)

// Encoder one-hot encodes a fixed list of categorical columns.
// It is fit once, shipped as encoder.json, and never retrained.
type Encoder struct {
	Columns    []string   `json:"columns"`
	Categories [][]string `json:"categories"`
}

// Column indexes of the encoder's categorical inputs.
const (
	UserGenreColumn  = 0
	MovieGenreColumn = 1
)

// NumericColumns precede the encoded columns in every feature row.
var NumericColumns = []string{"user_valence", "user_arousal", "movie_valence", "movie_arousal"}

// Validate checks the column and category lists line up.
func (e *Encoder) Validate() error {
	if len(e.Columns) == 0 {
		return fmt.Errorf("encoder has no columns")
	}
	if len(e.Columns) != len(e.Categories) {
		return fmt.Errorf("encoder has %d columns but %d category lists", len(e.Columns), len(e.Categories))
	}
	for i, cats := range e.Categories {
		if len(cats) == 0 {
			return fmt.Errorf("encoder column %q has no categories", e.Columns[i])
		}
	}
	return nil
}

// FeatureNames returns the output column names, "<column>_<category>", in order.
func (e *Encoder) FeatureNames() []string {
	var names []string
	for i, col := range e.Columns {
		for _, cat := range e.Categories[i] {
			names = append(names, col+"_"+cat)
		}
	}
	return names
}

// Width is the number of output columns.
func (e *Encoder) Width() int {
	n := 0
	for _, cats := range e.Categories {
		n += len(cats)
	}
	return n
}

// Transform encodes one value per column. Values outside a column's
// vocabulary encode to all zeros for that column.
func (e *Encoder) Transform(values ...string) ([]float64, error) {
	if len(values) != len(e.Columns) {
		return nil, fmt.Errorf("encoder expects %d values, got %d", len(e.Columns), len(values))
	}
	out := make([]float64, e.Width())
	offset := 0
	for i, v := range values {
		for j, cat := range e.Categories[i] {
			if cat == v {
				out[offset+j] = 1
				break
			}
		}
		offset += len(e.Categories[i])
	}
	return out, nil
}

// Lookup finds value in a column's vocabulary, ignoring case, and returns
// the vocabulary's own spelling.
func (e *Encoder) Lookup(column int, value string) (string, bool) {
	if column < 0 || column >= len(e.Categories) {
		return "", false
	}
	for _, cat := range e.Categories[column] {
		if strings.EqualFold(cat, value) {
			return cat, true
		}
	}
	return "", false
}

// Vocabulary returns a copy of a column's categories.
func (e *Encoder) Vocabulary(column int) []string {
	if column < 0 || column >= len(e.Categories) {
		return nil
	}
	out := make([]string, len(e.Categories[column]))
	copy(out, e.Categories[column])
	return out
}

// ModelColumns is the full ordered feature column list for this encoder.
func (e *Encoder) ModelColumns() []string {
	cols := make([]string, 0, len(NumericColumns)+e.Width())
	cols = append(cols, NumericColumns...)
	return append(cols, e.FeatureNames()...)
}
