// Package pipeline chains catalog refresh, cache sync, and retrain into one
// fail-fast run, triggered on a schedule or on demand.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MGallo-Code/cinesense/internal/metrics"
)

// Stage names, in run order.
const (
	StageRefreshCatalog = "refresh_catalog"
	StageSyncCache      = "sync_cache"
	StageRetrain        = "retrain"
)

// ErrSkipped is returned by a stage that chose not to run (e.g. no API key).
// The chain continues.
var ErrSkipped = errors.New("stage skipped")

// Stage is one step of the chain. Timeout bounds Run; zero means no bound
// beyond the parent context.
type Stage struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// StageError reports which stage stopped the chain.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Stage outcomes.
const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// StageReport is the outcome of one executed stage.
type StageReport struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// RunReport is the outcome of one chain run. FailedStage is empty on success.
type RunReport struct {
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	OK          bool          `json:"ok"`
	FailedStage string        `json:"failed_stage,omitempty"`
	Stages      []StageReport `json:"stages"`
}

// Orchestrator runs stages strictly in order.
type Orchestrator struct {
	stages []Stage
	now    func() time.Time
}

// NewOrchestrator returns an Orchestrator over stages.
func NewOrchestrator(stages ...Stage) *Orchestrator {
	return &Orchestrator{stages: stages, now: time.Now}
}

// Run executes every stage in order and stops at the first failure, which is
// returned as a *StageError. Stages after the failure never start.
func (o *Orchestrator) Run(ctx context.Context) (RunReport, error) {
	report := RunReport{StartedAt: o.now()}
	slog.Info("pipeline run started", "stages", len(o.stages))

	for _, st := range o.stages {
		sr, err := o.runStage(ctx, st)
		report.Stages = append(report.Stages, sr)
		if err != nil {
			report.FinishedAt = o.now()
			report.FailedStage = st.Name
			slog.Error("pipeline run aborted", "stage", st.Name, "error", err)
			return report, &StageError{Stage: st.Name, Err: err}
		}
	}

	report.FinishedAt = o.now()
	report.OK = true
	slog.Info("pipeline run finished", "duration", report.FinishedAt.Sub(report.StartedAt))
	return report, nil
}

func (o *Orchestrator) runStage(ctx context.Context, st Stage) (StageReport, error) {
	if err := ctx.Err(); err != nil {
		return StageReport{Name: st.Name, Status: StatusFailed, Error: err.Error()}, err
	}

	sctx, cancel := ctx, context.CancelFunc(func() {})
	if st.Timeout > 0 {
		sctx, cancel = context.WithTimeout(ctx, st.Timeout)
	}
	defer cancel()

	start := o.now()
	err := st.Run(sctx)
	// A stage that overran its deadline has failed even if it reported success.
	if err == nil && sctx.Err() != nil {
		err = sctx.Err()
	}
	elapsed := o.now().Sub(start)
	metrics.PipelineStageDuration.WithLabelValues(st.Name).Observe(elapsed.Seconds())

	sr := StageReport{Name: st.Name, Duration: elapsed}
	switch {
	case err == nil:
		sr.Status = StatusOK
		slog.Info("pipeline stage ok", "stage", st.Name, "duration", elapsed)
	case errors.Is(err, ErrSkipped):
		sr.Status = StatusSkipped
		slog.Info("pipeline stage skipped", "stage", st.Name, "reason", err)
		err = nil
	default:
		sr.Status = StatusFailed
		sr.Error = err.Error()
	}
	metrics.PipelineStageResults.WithLabelValues(st.Name, sr.Status).Inc()
	return sr, err
}
