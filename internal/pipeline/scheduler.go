package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

// Runner executes one pipeline run. Satisfied by *Orchestrator.
type Runner interface {
	Run(ctx context.Context) (RunReport, error)
}

// Scheduler fires the pipeline on a cron schedule and on demand. At most one
// run is in flight; a trigger during a run joins it.
type Scheduler struct {
	runner  Runner
	timeout time.Duration

	cron  *cron.Cron
	entry cron.EntryID

	group singleflight.Group

	mu       sync.Mutex
	started  bool
	inFlight bool
	last     *RunReport
}

// Status is a snapshot of the scheduler.
type Status struct {
	Running    bool       `json:"running"`
	InProgress bool       `json:"in_progress"`
	NextRun    *time.Time `json:"next_run"`
	LastRun    *RunReport `json:"last_run"`
}

type runResult struct {
	report RunReport
	err    error
}

// NewScheduler parses schedule (standard 5-field cron) in loc. Each run is
// bounded by timeout.
func NewScheduler(runner Runner, schedule string, loc *time.Location, timeout time.Duration) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scheduler{
		runner:  runner,
		timeout: timeout,
		cron:    cron.New(cron.WithLocation(loc)),
	}
	id, err := s.cron.AddFunc(schedule, s.scheduledRun)
	if err != nil {
		return nil, fmt.Errorf("parsing pipeline schedule %q: %w", schedule, err)
	}
	s.entry = id
	return s, nil
}

// Start begins firing on schedule.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.cron.Start()
	slog.Info("pipeline scheduler started", "next_run", s.cron.Entry(s.entry).Next)
}

// Stop halts the schedule. The returned context is done once a scheduled
// run already in progress has finished.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return s.cron.Stop()
}

func (s *Scheduler) scheduledRun() {
	slog.Info("scheduled pipeline run firing")
	if _, err := s.Trigger(context.Background()); err != nil {
		slog.Error("scheduled pipeline run failed", "error", err)
	}
}

// Trigger runs the pipeline and waits for it. If a run is already in flight
// the caller joins it and gets its result. The run itself is detached from
// ctx, so a caller that gives up does not cancel it for others.
func (s *Scheduler) Trigger(ctx context.Context) (RunReport, error) {
	ch := s.group.DoChan("pipeline", func() (any, error) {
		s.setInFlight(true)
		defer s.setInFlight(false)

		rctx := context.WithoutCancel(ctx)
		if s.timeout > 0 {
			var cancel context.CancelFunc
			rctx, cancel = context.WithTimeout(rctx, s.timeout)
			defer cancel()
		}
		report, err := s.runner.Run(rctx)

		s.mu.Lock()
		s.last = &report
		s.mu.Unlock()
		return runResult{report: report, err: err}, nil
	})

	select {
	case res := <-ch:
		rr := res.Val.(runResult)
		return rr.report, rr.err
	case <-ctx.Done():
		return RunReport{}, ctx.Err()
	}
}

func (s *Scheduler) setInFlight(v bool) {
	s.mu.Lock()
	s.inFlight = v
	s.mu.Unlock()
}

// Status reports whether the schedule is active, the next fire time, and the
// last completed run.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	st := Status{Running: s.started, InProgress: s.inFlight}
	if s.last != nil {
		last := *s.last
		st.LastRun = &last
	}
	s.mu.Unlock()

	if st.Running {
		if next := s.cron.Entry(s.entry).Next; !next.IsZero() {
			st.NextRun = &next
		}
	}
	return st
}
