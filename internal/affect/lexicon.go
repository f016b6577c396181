// Package affect estimates a text's valence and arousal from the NRC-VAD
// word lexicon.
package affect

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// VA is a [valence, arousal] pair.
type VA [2]float64

type entry struct {
	valence float64
	arousal float64
}

// Lexicon maps lowercase words to their affect scores. The zero value is an
// empty lexicon: every text analyzes to [0, 0].
type Lexicon struct {
	words map[string]entry
}

// LoadLexicon reads a tab-separated word/valence/arousal/dominance file whose
// first line is a header. A missing file yields an empty lexicon and a warning.
func LoadLexicon(path string) (*Lexicon, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("VAD lexicon not found, affect scores will be zero", "path", path)
		return &Lexicon{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening VAD lexicon: %w", err)
	}
	defer f.Close()

	lex, err := ParseLexicon(f)
	if err != nil {
		return nil, err
	}
	slog.Info("VAD lexicon loaded", "words", lex.Len())
	return lex, nil
}

// ParseLexicon reads lexicon lines from r. Lines without exactly four
// tab-separated fields, or with non-numeric scores, are ignored.
func ParseLexicon(r io.Reader) (*Lexicon, error) {
	lex := &Lexicon{words: make(map[string]entry)}
	sc := bufio.NewScanner(r)
	first := true
	for sc.Scan() {
		if first {
			first = false
			continue
		}
		parts := strings.Split(strings.TrimSpace(sc.Text()), "\t")
		if len(parts) != 4 {
			continue
		}
		v, err1 := strconv.ParseFloat(parts[1], 64)
		a, err2 := strconv.ParseFloat(parts[2], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		lex.words[strings.ToLower(parts[0])] = entry{valence: v, arousal: a}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading VAD lexicon: %w", err)
	}
	return lex, nil
}

// Len returns the number of words.
func (l *Lexicon) Len() int { return len(l.words) }

// Analyze averages the valence and arousal of every token found in the
// lexicon, rounded to 3 decimals. No hits gives [0, 0].
func (l *Lexicon) Analyze(text string) VA {
	if len(l.words) == 0 || text == "" {
		return VA{0, 0}
	}
	var sv, sa float64
	n := 0
	for _, tok := range tokenize(text) {
		if e, ok := l.words[tok]; ok {
			sv += e.valence
			sa += e.arousal
			n++
		}
	}
	if n == 0 {
		return VA{0, 0}
	}
	return VA{round3(sv / float64(n)), round3(sa / float64(n))}
}

// tokenize lowercases text and splits it into word tokens. Apostrophes and
// hyphens stay inside words; everything else separates.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
