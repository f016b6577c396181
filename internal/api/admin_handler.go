// admin_handler.go -- Operational pipeline endpoints under /admin.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/MGallo-Code/cinesense/internal/apperr"
	"github.com/MGallo-Code/cinesense/internal/pipeline"
)

type stageView struct {
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	DurationMS float64 `json:"duration_ms"`
}

type runView struct {
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  time.Time   `json:"finished_at"`
	OK          bool        `json:"ok"`
	FailedStage string      `json:"failed_stage,omitempty"`
	Stages      []stageView `json:"stages"`
}

// viewRun drops per-stage error text; failures are visible in the logs.
func viewRun(rep pipeline.RunReport) runView {
	v := runView{
		StartedAt:   rep.StartedAt,
		FinishedAt:  rep.FinishedAt,
		OK:          rep.OK,
		FailedStage: rep.FailedStage,
		Stages:      make([]stageView, len(rep.Stages)),
	}
	for i, s := range rep.Stages {
		v.Stages[i] = stageView{
			Name:       s.Name,
			Status:     s.Status,
			DurationMS: float64(s.Duration) / float64(time.Millisecond),
		}
	}
	return v
}

// RunPipeline handles POST /admin/pipeline/run. Runs the chain synchronously;
// a trigger during an in-flight run joins it.
func (h *Handler) RunPipeline(w http.ResponseWriter, r *http.Request) {
	logInfo(r, "pipeline run requested")
	rep, err := h.Pipeline.Trigger(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"stages": viewRun(rep).Stages,
		})
		return
	}

	var se *pipeline.StageError
	if !errors.As(err, &se) {
		// Caller gave up or the run never started.
		writeError(w, r, err)
		return
	}
	logError(r, "pipeline run failed", "stage", se.Stage, "error", se.Err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"status":  "failed",
		"stage":   se.Stage,
		"message": apperr.Message(se.Err),
		"stages":  viewRun(rep).Stages,
	})
}

type statusView struct {
	Running    bool       `json:"running"`
	InProgress bool       `json:"in_progress"`
	NextRun    *time.Time `json:"next_run"`
	LastRun    *runView   `json:"last_run"`
}

// PipelineStatus handles GET /admin/pipeline/status.
func (h *Handler) PipelineStatus(w http.ResponseWriter, r *http.Request) {
	st := h.Pipeline.Status()
	out := statusView{Running: st.Running, InProgress: st.InProgress, NextRun: st.NextRun}
	if st.LastRun != nil {
		v := viewRun(*st.LastRun)
		out.LastRun = &v
	}
	writeJSON(w, http.StatusOK, out)
}
