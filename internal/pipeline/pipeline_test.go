package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MGallo-Code/cinesense/internal/catalog"
	"github.com/MGallo-Code/cinesense/internal/retrain"
)

// recorder tracks which stages ran, in order.
type recorder struct {
	mu  sync.Mutex
	ran []string
}

func (r *recorder) stage(name string, err error) Stage {
	return Stage{Name: name, Run: func(context.Context) error {
		r.mu.Lock()
		r.ran = append(r.ran, name)
		r.mu.Unlock()
		return err
	}}
}

// --- Orchestrator ---

func TestOrchestratorRun(t *testing.T) {
	ctx := context.Background()

	t.Run("runs all stages in order", func(t *testing.T) {
		rec := &recorder{}
		o := NewOrchestrator(rec.stage("a", nil), rec.stage("b", nil), rec.stage("c", nil))
		report, err := o.Run(ctx)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !report.OK || len(report.Stages) != 3 {
			t.Errorf("unexpected report %+v", report)
		}
		if got := rec.ran; len(got) != 3 || got[0] != "a" || got[2] != "c" {
			t.Errorf("ran %v", got)
		}
	})

	t.Run("failure stops the chain and names the stage", func(t *testing.T) {
		rec := &recorder{}
		boom := errors.New("redis unreachable")
		o := NewOrchestrator(rec.stage(StageRefreshCatalog, nil), rec.stage(StageSyncCache, boom), rec.stage(StageRetrain, nil))
		report, err := o.Run(ctx)

		var se *StageError
		if !errors.As(err, &se) || se.Stage != StageSyncCache || !errors.Is(err, boom) {
			t.Fatalf("expected StageError for sync_cache wrapping cause, got %v", err)
		}
		if report.OK || report.FailedStage != StageSyncCache {
			t.Errorf("unexpected report %+v", report)
		}
		for _, name := range rec.ran {
			if name == StageRetrain {
				t.Error("retrain ran after a failed stage")
			}
		}
		if report.Stages[1].Status != StatusFailed {
			t.Errorf("stage status %q", report.Stages[1].Status)
		}
	})

	t.Run("skipped stage does not stop the chain", func(t *testing.T) {
		rec := &recorder{}
		o := NewOrchestrator(rec.stage("a", ErrSkipped), rec.stage("b", nil))
		report, err := o.Run(ctx)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if report.Stages[0].Status != StatusSkipped || len(rec.ran) != 2 {
			t.Errorf("unexpected %+v / %v", report, rec.ran)
		}
	})

	t.Run("stage timeout is a stage failure", func(t *testing.T) {
		slow := Stage{Name: "slow", Timeout: 10 * time.Millisecond, Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}}
		rec := &recorder{}
		o := NewOrchestrator(slow, rec.stage("after", nil))
		_, err := o.Run(ctx)
		var se *StageError
		if !errors.As(err, &se) || se.Stage != "slow" || !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline StageError, got %v", err)
		}
		if len(rec.ran) != 0 {
			t.Error("stage after timeout ran")
		}
	})

	t.Run("stage ignoring its deadline still fails", func(t *testing.T) {
		stubborn := Stage{Name: "stubborn", Timeout: 5 * time.Millisecond, Run: func(context.Context) error {
			time.Sleep(20 * time.Millisecond)
			return nil
		}}
		if _, err := NewOrchestrator(stubborn).Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected DeadlineExceeded, got %v", err)
		}
	})

	t.Run("cancelled parent fails the first stage", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		rec := &recorder{}
		_, err := NewOrchestrator(rec.stage("a", nil)).Run(cctx)
		if !errors.Is(err, context.Canceled) || len(rec.ran) != 0 {
			t.Errorf("expected Canceled before any stage, got %v ran=%v", err, rec.ran)
		}
	})
}

// --- DefaultStages ---

type fakeRefresher struct{ err error }

func (f fakeRefresher) Refresh(context.Context) (int, error) { return 3, f.err }

type fakeCache struct{ calls int }

func (f *fakeCache) Sync(context.Context) (catalog.RebuildResult, error) {
	f.calls++
	return catalog.RebuildResult{Applied: 3}, nil
}

type fakeTrainer struct{ calls int }

func (f *fakeTrainer) Retrain(context.Context) (retrain.Result, error) {
	f.calls++
	return retrain.Result{}, nil
}

func TestDefaultStages(t *testing.T) {
	t.Run("no refresher skips refresh and continues", func(t *testing.T) {
		c, tr := &fakeCache{}, &fakeTrainer{}
		report, err := NewOrchestrator(DefaultStages(nil, c, tr, Timeouts{})...).Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if report.Stages[0].Status != StatusSkipped || c.calls != 1 || tr.calls != 1 {
			t.Errorf("unexpected %+v cache=%d train=%d", report.Stages, c.calls, tr.calls)
		}
	})

	t.Run("refresh failure leaves cache and model untouched", func(t *testing.T) {
		c, tr := &fakeCache{}, &fakeTrainer{}
		_, err := NewOrchestrator(DefaultStages(fakeRefresher{err: errors.New("tmdb 503")}, c, tr, Timeouts{})...).Run(context.Background())
		var se *StageError
		if !errors.As(err, &se) || se.Stage != StageRefreshCatalog {
			t.Fatalf("expected refresh_catalog failure, got %v", err)
		}
		if c.calls != 0 || tr.calls != 0 {
			t.Errorf("later stages ran: cache=%d train=%d", c.calls, tr.calls)
		}
	})
}

// --- Scheduler ---

type blockingRunner struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (b *blockingRunner) Run(ctx context.Context) (RunReport, error) {
	b.calls.Add(1)
	select {
	case <-b.release:
	case <-ctx.Done():
		return RunReport{}, ctx.Err()
	}
	return RunReport{OK: b.err == nil}, b.err
}

func TestScheduler(t *testing.T) {
	t.Run("invalid schedule is rejected", func(t *testing.T) {
		if _, err := NewScheduler(&blockingRunner{}, "not a cron", time.UTC, time.Minute); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("concurrent triggers share one run", func(t *testing.T) {
		r := &blockingRunner{release: make(chan struct{})}
		s, err := NewScheduler(r, "0 3 * * 1", time.UTC, time.Minute)
		if err != nil {
			t.Fatalf("NewScheduler: %v", err)
		}

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Trigger(context.Background()); err != nil {
					t.Errorf("Trigger: %v", err)
				}
			}()
		}
		for !s.Status().InProgress {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		close(r.release)
		wg.Wait()

		if n := r.calls.Load(); n != 1 {
			t.Errorf("expected 1 run, got %d", n)
		}
	})

	t.Run("caller giving up does not cancel the run", func(t *testing.T) {
		r := &blockingRunner{release: make(chan struct{})}
		s, _ := NewScheduler(r, "0 3 * * 1", time.UTC, time.Minute)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			_, err := s.Trigger(ctx)
			done <- err
		}()
		for !s.Status().InProgress {
			time.Sleep(time.Millisecond)
		}
		cancel()
		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Errorf("expected caller Canceled, got %v", err)
		}
		if !s.Status().InProgress {
			t.Error("run should continue after caller left")
		}
		close(r.release)
		for s.Status().InProgress {
			time.Sleep(time.Millisecond)
		}
		if st := s.Status(); st.LastRun == nil || !st.LastRun.OK {
			t.Errorf("last run not recorded: %+v", st.LastRun)
		}
	})

	t.Run("status reports schedule and last failure", func(t *testing.T) {
		r := &blockingRunner{release: make(chan struct{}), err: errors.New("boom")}
		close(r.release)
		s, _ := NewScheduler(r, "0 3 * * 1", time.UTC, time.Minute)

		if st := s.Status(); st.Running || st.NextRun != nil {
			t.Errorf("unstarted scheduler: %+v", st)
		}
		s.Start()
		defer s.Stop()

		st := s.Status()
		if !st.Running || st.NextRun == nil {
			t.Fatalf("started scheduler: %+v", st)
		}
		if st.NextRun.Weekday() != time.Monday || st.NextRun.Hour() != 3 {
			t.Errorf("next run %v is not Monday 03:00", st.NextRun)
		}

		if _, err := s.Trigger(context.Background()); err == nil {
			t.Fatal("expected run error")
		}
		if st := s.Status(); st.LastRun == nil || st.LastRun.OK {
			t.Errorf("last run should be failed: %+v", st.LastRun)
		}
	})
}
