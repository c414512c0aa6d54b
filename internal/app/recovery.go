package app

import (
	"log/slog"

	"github.com/semantica/task-engine/internal/executor"
	"github.com/semantica/task-engine/internal/platform"
	"github.com/semantica/task-engine/internal/store"
	"github.com/semantica/task-engine/pkg/domain"
)

// DefaultRecoveryWindowMs is the minimum age of started_at after which a
// RUNNING job is presumed orphaned on startup.
const DefaultRecoveryWindowMs = 5 * 60 * 1000

// RecoveryService reclassifies orphaned RUNNING jobs once at startup, before
// any worker begins polling.
type RecoveryService struct {
	Store             *store.Store
	Executor          executor.Executor
	Clock             platform.Clock
	RecoveryWindowMs  int64
	Log               *slog.Logger
}

func NewRecoveryService(s *store.Store, ex executor.Executor, clock platform.Clock, recoveryWindowMs int64, log *slog.Logger) *RecoveryService {
	if recoveryWindowMs <= 0 {
		recoveryWindowMs = DefaultRecoveryWindowMs
	}
	if log == nil {
		log = slog.Default()
	}
	return &RecoveryService{Store: s, Executor: ex, Clock: clock, RecoveryWindowMs: recoveryWindowMs, Log: log}
}

// RecoverOrphanedJobs implements the §4.7 algorithm and returns the count of
// jobs reclassified.
func (r *RecoveryService) RecoverOrphanedJobs() (int, error) {
	now := r.Clock.NowMs()
	cutoff := now - r.RecoveryWindowMs

	running, err := r.Store.FindByState(domain.StateRunning)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, job := range running {
		if job.StartedAt == nil {
			r.Log.Warn("recovery: running job missing started_at, marking failed", "job_id", job.ID)
			if err := job.Fail(now); err != nil {
				return recovered, err
			}
			if err := r.Store.Update(job); err != nil {
				return recovered, err
			}
			recovered++
			continue
		}
		if *job.StartedAt >= cutoff {
			continue // still within the recovery window; not orphaned yet.
		}
		if err := r.recoverSingle(job, now); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

func (r *RecoveryService) recoverSingle(job *domain.Job, now int64) error {
	if job.PID != nil {
		alive, err := r.Executor.IsAlive(*job.PID)
		if err != nil {
			r.Log.Warn("recovery: is_alive probe failed", "job_id", job.ID, "pid", *job.PID, "err", err)
		}
		if alive {
			if err := r.Executor.Kill(*job.PID); err != nil {
				r.Log.Warn("recovery: kill failed", "job_id", job.ID, "pid", *job.PID, "err", err)
			}
		}
		// Subprocess work is not safely idempotent; fail rather than retry.
		if err := job.Fail(now); err != nil {
			return err
		}
		job.PID = nil
		r.Log.Info("recovery: orphaned subprocess job failed", "job_id", job.ID)
	} else {
		job.State = domain.StateQueued
		job.StartedAt = nil
		r.Log.Info("recovery: orphaned in-process job requeued", "job_id", job.ID)
	}
	return r.Store.Update(job)
}

// CleanupZombies scans non-RUNNING states for jobs still holding a live pid
// and kills those processes defensively.
func (r *RecoveryService) CleanupZombies() (int, error) {
	candidates, err := r.Store.FindLiveProcesses()
	if err != nil {
		return 0, err
	}
	killed := 0
	for _, job := range candidates {
		if job.PID == nil {
			continue
		}
		alive, err := r.Executor.IsAlive(*job.PID)
		if err != nil || !alive {
			continue
		}
		if err := r.Executor.Kill(*job.PID); err != nil {
			r.Log.Warn("recovery: zombie kill failed", "job_id", job.ID, "pid", *job.PID, "err", err)
			continue
		}
		killed++
	}
	return killed, nil
}
