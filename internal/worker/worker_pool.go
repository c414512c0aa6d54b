package worker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/semantica/task-engine/internal/executor"
	"github.com/semantica/task-engine/internal/metrics"
	"github.com/semantica/task-engine/internal/platform"
	"github.com/semantica/task-engine/internal/retry"
	"github.com/semantica/task-engine/internal/scheduler"
	"github.com/semantica/task-engine/internal/store"
)

// Pool owns a fixed number of independent Workers, each polling the same
// queue directly from the Store. There is no shared task/result channel
// here — that would itself be an in-memory queue shared across workers.
// The lifecycle shape is Start/Stop with a WaitGroup and a one-shot
// shutdown latch.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
	started bool
}

func NewPool(n int, queue string, s *store.Store, ex executor.Executor, gate *scheduler.Gate, rp *retry.Policy, clock platform.Clock, probe platform.SystemProbe, m *metrics.Collector, log *slog.Logger) *Pool {
	p := &Pool{}
	for i := 0; i < n; i++ {
		p.workers = append(p.workers, NewWorker(i, queue, s, ex, gate, rp, clock, probe, m, log))
	}
	return p
}

// Start launches one goroutine per worker.
func (p *Pool) Start() {
	if p.started {
		return
	}
	p.started = true
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run()
		}(w)
	}
}

// Stop signals every worker and waits up to grace for them to exit, per the
// bounded shutdown grace period in the concurrency model — workers finish
// their current job before exiting, but the caller does not wait forever.
func (p *Pool) Stop(grace time.Duration) {
	for _, w := range p.workers {
		w.Stop()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
	}
}

func (p *Pool) WorkerCount() int {
	return len(p.workers)
}
