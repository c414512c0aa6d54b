package jobrpc

import (
	"time"

	"github.com/semantica/task-engine/internal/app"
	"github.com/semantica/task-engine/internal/apperr"
	"github.com/semantica/task-engine/internal/joblog"
	"github.com/semantica/task-engine/internal/metrics"
	"github.com/semantica/task-engine/internal/platform"
	"github.com/semantica/task-engine/internal/store"
	"github.com/semantica/task-engine/pkg/domain"
)

const (
	defaultQueue     = "default"
	defaultTailLines = 50
)

// Handler implements the five RPC methods against the core use cases.
type Handler struct {
	DevTasks    *app.DevTaskService
	Maintenance *app.MaintenanceService
	Store       *store.Store
	Logs        *joblog.Store
	Clock       platform.Clock
	Metrics     *metrics.Collector
	StartedAt   time.Time
}

func NewHandler(devTasks *app.DevTaskService, maint *app.MaintenanceService, s *store.Store, logs *joblog.Store, clock platform.Clock, m *metrics.Collector) *Handler {
	return &Handler{DevTasks: devTasks, Maintenance: maint, Store: s, Logs: logs, Clock: clock, Metrics: m, StartedAt: time.Now()}
}

func (h *Handler) Enqueue(p EnqueueParams) (*EnqueueResult, error) {
	queue := p.Queue
	if queue == "" {
		queue = defaultQueue
	}
	job, err := h.DevTasks.Enqueue(app.EnqueueRequest{
		Queue:      queue,
		JobType:    p.JobType,
		SubjectKey: p.SubjectKey,
		Payload:    p.Payload,
		Priority:   p.Priority,
	})
	if err != nil {
		return nil, err
	}
	if h.Metrics != nil {
		h.Metrics.RecordEnqueue()
	}
	return &EnqueueResult{JobID: job.ID, State: string(job.State), Queue: job.Queue}, nil
}

func (h *Handler) Cancel(p CancelParams) (*CancelResult, error) {
	if p.JobID == "" {
		return nil, apperr.Validationf("job_id is required")
	}
	job, err := h.DevTasks.Cancel(p.JobID)
	if err != nil {
		return nil, err
	}
	return &CancelResult{JobID: job.ID, Cancelled: true}, nil
}

func (h *Handler) TailLogs(p TailParams) (*TailResult, error) {
	if p.JobID == "" {
		return nil, apperr.Validationf("job_id is required")
	}
	lines := p.Lines
	if lines <= 0 {
		lines = defaultTailLines
	}
	job, err := h.Store.FindByID(p.JobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apperr.NotFoundf("job %s", p.JobID)
	}
	logLines, err := h.Logs.Tail(p.JobID, lines)
	if err != nil {
		return nil, err
	}
	return &TailResult{JobID: job.ID, LogPath: job.LogPath, Lines: logLines}, nil
}

func (h *Handler) Stats() (*StatsResult, error) {
	total, err := h.Store.TotalJobs()
	if err != nil {
		return nil, err
	}
	queued, err := h.Store.CountByStateAll(domain.StateQueued)
	if err != nil {
		return nil, err
	}
	running, err := h.Store.CountByStateAll(domain.StateRunning)
	if err != nil {
		return nil, err
	}
	done, err := h.Store.CountByStateAll(domain.StateDone)
	if err != nil {
		return nil, err
	}
	failed, err := h.Store.CountByStateAll(domain.StateFailed)
	if err != nil {
		return nil, err
	}
	size, err := h.Store.DBSizeBytes()
	if err != nil {
		return nil, err
	}
	return &StatsResult{
		TotalJobs:     total,
		QueuedJobs:    queued,
		RunningJobs:   running,
		DoneJobs:      done,
		FailedJobs:    failed,
		DBSizeBytes:   size,
		UptimeSeconds: time.Since(h.StartedAt).Seconds(),
	}, nil
}

func (h *Handler) RunMaintenance(p MaintenanceParams) (*MaintenanceResult, error) {
	result, err := h.Maintenance.Run(app.DefaultMaintenanceConfig(), p.ForceVacuum)
	if err != nil {
		return nil, err
	}
	return &MaintenanceResult{
		VacuumRun:        result.VacuumRun,
		JobsDeleted:      result.JobsDeleted,
		ArtifactsDeleted: result.ArtifactsDeleted,
		DBSizeBefore:     result.Before.DBSizeBytes,
		DBSizeAfter:      result.After.DBSizeBytes,
	}, nil
}
