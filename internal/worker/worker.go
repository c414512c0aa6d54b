// Package worker implements the Worker Loop: each worker independently
// calls Store.PopNext — no task queue or channel is shared between workers.
// Each worker runs on its own goroutine with a close-once shutdown latch;
// job execution is panic-isolated on a separate goroutine per job.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/semantica/task-engine/internal/executor"
	"github.com/semantica/task-engine/internal/metrics"
	"github.com/semantica/task-engine/internal/platform"
	"github.com/semantica/task-engine/internal/retry"
	"github.com/semantica/task-engine/internal/scheduler"
	"github.com/semantica/task-engine/internal/store"
	"github.com/semantica/task-engine/pkg/domain"
)

const (
	idleSleep          = 100 * time.Millisecond
	errorRecoverySleep = 500 * time.Millisecond
	throttleThreshold  = 90.0
)

// Worker polls one queue and runs jobs to completion with panic isolation.
type Worker struct {
	ID       int
	Queue    string
	Store    *store.Store
	Executor executor.Executor
	Gate     *scheduler.Gate
	Retry    *retry.Policy
	Clock    platform.Clock
	Probe    platform.SystemProbe
	Metrics  *metrics.Collector
	Log      *slog.Logger

	stop chan struct{}
}

func NewWorker(id int, queue string, s *store.Store, ex executor.Executor, gate *scheduler.Gate, rp *retry.Policy, clock platform.Clock, probe platform.SystemProbe, m *metrics.Collector, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		ID: id, Queue: queue, Store: s, Executor: ex, Gate: gate, Retry: rp,
		Clock: clock, Probe: probe, Metrics: m, Log: log,
		stop: make(chan struct{}),
	}
}

// Run blocks, executing the main loop until Stop is called.
func (w *Worker) Run() {
	for {
		if w.shuttingDown() {
			return
		}
		if w.throttled() {
			w.sleep(idleSleep)
			continue
		}

		job, err := w.Store.PopNext(w.Queue, w.Clock.NowMs())
		if err != nil {
			w.Log.Error("worker: pop_next failed", "queue", w.Queue, "err", err)
			w.sleep(errorRecoverySleep)
			continue
		}
		if job == nil {
			w.sleep(idleSleep)
			continue
		}

		if w.Metrics != nil {
			w.Metrics.RecordDispatch()
		}
		w.runOne(job)
	}
}

// Stop signals the worker to exit on its next suspension point.
func (w *Worker) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}

func (w *Worker) shuttingDown() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

func (w *Worker) throttled() bool {
	m, err := w.Probe.GetMetrics()
	if err != nil {
		return false
	}
	return m.CPUUsagePercent > throttleThreshold
}

// sleep races the idle/backoff interval against the shutdown signal so a
// pending stop is observed promptly instead of after a full sleep.
func (w *Worker) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-w.stop:
	}
}

func (w *Worker) runOne(job *domain.Job) {
	ready, err := w.Gate.IsReady(job)
	if err != nil {
		w.Log.Error("worker: scheduler gate failed", "job_id", job.ID, "err", err)
		ready = false
	}
	if !ready {
		job.State = domain.StateQueued
		job.StartedAt = nil
		if err := w.Store.Update(job); err != nil {
			w.Log.Error("worker: requeue after gate failed", "job_id", job.ID, "err", err)
		}
		return
	}

	now := w.Clock.NowMs()
	if retry.IsDeadlineExceeded(job, now) || retry.IsTTLExceeded(job, now) {
		w.finishTerminal(job, now)
		return
	}

	result := w.executeIsolated(job)
	w.classify(job, result)
}

// executionOutcome is what comes back from the isolated execution task: a
// normal result, or a recovered panic treated as a non-retryable host-side
// abort, matching the design's "success / graceful error / host-side
// abort" trichotomy.
type executionOutcome struct {
	result   executor.Result
	err      error
	panicked bool
}

// executeIsolated runs the job body on its own goroutine so a panic inside
// it cannot unwind into this loop — the Go analogue of scheduling the body
// on a separate task handle and inspecting the joined result.
func (w *Worker) executeIsolated(job *domain.Job) executionOutcome {
	outcome := make(chan executionOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.Log.Error("worker: job body panicked", "job_id", job.ID, "panic", r)
				outcome <- executionOutcome{panicked: true}
			}
		}()
		ctx := context.Background()
		var cancel context.CancelFunc
		if job.Deadline != nil {
			remaining := *job.Deadline - w.Clock.NowMs()
			if remaining < 1000 {
				remaining = 1000
			}
			ctx, cancel = context.WithTimeout(ctx, time.Duration(remaining)*time.Millisecond)
			defer cancel()
		}
		res, err := w.Executor.Execute(ctx, job)
		outcome <- executionOutcome{result: res, err: err}
	}()
	return <-outcome
}

func (w *Worker) classify(job *domain.Job, outcome executionOutcome) {
	now := w.Clock.NowMs()

	if outcome.panicked {
		w.finishTerminal(job, now)
		return
	}

	if outcome.err == nil && outcome.result.Status == executor.StatusSuccess {
		if err := job.Complete(now); err != nil {
			w.Log.Error("worker: complete transition failed", "job_id", job.ID, "err", err)
		}
		if w.Metrics != nil {
			w.Metrics.RecordCompleted(float64(now-deref(job.StartedAt, now)) / 1000.0)
		}
		if err := w.Store.Update(job); err != nil {
			w.Log.Error("worker: update after success failed", "job_id", job.ID, "err", err)
		}
		return
	}

	// Graceful failure: consult the retry policy.
	decision := w.Retry.ShouldRetry(job)
	if decision.ShouldRetry {
		retry.PrepareForRetry(job, now, decision.DelayMs)
		if err := w.Store.Update(job); err != nil {
			w.Log.Error("worker: update after retry prep failed", "job_id", job.ID, "err", err)
		}
		return
	}

	w.finishTerminal(job, now)
}

func (w *Worker) finishTerminal(job *domain.Job, now int64) {
	if err := job.Fail(now); err != nil {
		w.Log.Error("worker: fail transition failed", "job_id", job.ID, "err", err)
	}
	if w.Metrics != nil {
		w.Metrics.RecordFailed()
	}
	if err := w.Store.Update(job); err != nil {
		w.Log.Error("worker: update after failure failed", "job_id", job.ID, "err", err)
	}
}

func deref(p *int64, def int64) int64 {
	if p == nil {
		return def
	}
	return *p
}
