package model

import (
	"fmt"
	"time"
)

// Artifact is a trained regressor paired with the encoder it was trained against.
type Artifact struct {
	Version      int64     `json:"version"`
	TrainedAt    time.Time `json:"trained_at"`
	TrainingRows int       `json:"training_rows"`
	Columns      []string  `json:"columns"`
	Forest       *Forest   `json:"forest"`

	// Encoder is loaded from its own file and attached on load.
	Encoder *Encoder `json:"-"`
}

// Validate checks the artifact is internally consistent. Columns need not equal
// the encoder's output; feature rows are reindexed onto Columns.
func (a *Artifact) Validate() error {
	if a.Forest == nil || len(a.Forest.Trees) == 0 {
		return fmt.Errorf("artifact v%d has no trees", a.Version)
	}
	if len(a.Columns) != a.Forest.NumFeatures {
		return fmt.Errorf("artifact v%d lists %d columns but forest expects %d", a.Version, len(a.Columns), a.Forest.NumFeatures)
	}
	for i, t := range a.Forest.Trees {
		if t == nil || len(t.Nodes) == 0 {
			return fmt.Errorf("artifact v%d tree %d is empty", a.Version, i)
		}
		// Children always follow their parent, so a valid tree cannot loop.
		for j, n := range t.Nodes {
			if n.Feature >= a.Forest.NumFeatures ||
				(n.Feature >= 0 && (n.Left <= j || n.Right <= j || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes))) {
				return fmt.Errorf("artifact v%d tree %d is malformed", a.Version, i)
			}
		}
	}
	return nil
}

// Predict scores rows laid out in a.Columns order.
func (a *Artifact) Predict(rows [][]float64) ([]float64, error) {
	return a.Forest.PredictBatch(rows)
}
