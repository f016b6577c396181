package retrain

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/MGallo-Code/cinesense/internal/store"
)

// bootstrapColumns are the required header names of the bootstrap CSV.
// matching_rate is the training target.
var bootstrapColumns = []string{
	"user_valence", "user_arousal", "user_genre",
	"movie_valence", "movie_arousal", "movie_genre", "matching_rate",
}

// LoadBootstrap reads the static bootstrap dataset. Column order is taken
// from the header. Rows with a non-numeric value are dropped. A missing file
// returns an error wrapping fs.ErrNotExist.
func LoadBootstrap(path string) ([]store.FeedbackSample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readBootstrap(f)
}

func readBootstrap(r io.Reader) ([]store.FeedbackSample, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading bootstrap header: %w", err)
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, c := range bootstrapColumns {
		if _, ok := pos[c]; !ok {
			return nil, fmt.Errorf("bootstrap dataset missing column %q", c)
		}
	}

	var out []store.FeedbackSample
	dropped := 0
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading bootstrap line %d: %w", line, err)
		}

		s, ok := parseBootstrapRow(rec, pos)
		if !ok {
			dropped++
			continue
		}
		out = append(out, s)
	}
	if dropped > 0 {
		slog.Warn("bootstrap rows dropped", "count", dropped)
	}
	return out, nil
}

func parseBootstrapRow(rec []string, pos map[string]int) (store.FeedbackSample, bool) {
	num := func(col string) (float64, bool) {
		i := pos[col]
		if i >= len(rec) {
			return 0, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	}
	str := func(col string) (string, bool) {
		i := pos[col]
		if i >= len(rec) {
			return "", false
		}
		v := strings.TrimSpace(rec[i])
		return v, v != ""
	}

	var s store.FeedbackSample
	var ok [7]bool
	s.UserValence, ok[0] = num("user_valence")
	s.UserArousal, ok[1] = num("user_arousal")
	s.UserGenre, ok[2] = str("user_genre")
	s.MovieValence, ok[3] = num("movie_valence")
	s.MovieArousal, ok[4] = num("movie_arousal")
	s.MovieGenre, ok[5] = str("movie_genre")
	s.Vote, ok[6] = num("matching_rate")
	for _, v := range ok {
		if !v {
			return store.FeedbackSample{}, false
		}
	}
	return s, true
}
