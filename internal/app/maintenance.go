package app

import (
	"log/slog"
	"os"

	"github.com/semantica/task-engine/internal/platform"
	"github.com/semantica/task-engine/internal/store"
	"github.com/semantica/task-engine/pkg/domain"
)

const (
	DefaultFinishedJobRetentionDays = 7
	DefaultArtifactRetentionDays    = 3
	DefaultMaxDBSizeMB              = 1000.0
	fragmentationThresholdPercent   = 10.0
	dayMs                           = int64(24 * 60 * 60 * 1000)
)

// MaintenanceConfig mirrors the original's MaintenanceConfig defaults.
type MaintenanceConfig struct {
	FinishedJobRetentionDays int
	ArtifactRetentionDays    int
	MaxDBSizeMB              float64
}

func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		FinishedJobRetentionDays: DefaultFinishedJobRetentionDays,
		ArtifactRetentionDays:    DefaultArtifactRetentionDays,
		MaxDBSizeMB:              DefaultMaxDBSizeMB,
	}
}

// MaintenanceStats is returned before and after a maintenance run for
// admin.maintenance.v1 reporting.
type MaintenanceStats struct {
	DBSizeBytes    int64
	JobCount       int64
	FinishedCount  int64
}

// MaintenanceResult summarizes one run for the RPC layer.
type MaintenanceResult struct {
	VacuumRun        bool
	VacuumReclaimMB  float64
	JobsDeleted      int64
	ArtifactsDeleted int
	Before           MaintenanceStats
	After            MaintenanceStats
}

// MaintenanceService performs periodic GC and conditional VACUUM.
type MaintenanceService struct {
	Store  *store.Store
	Clock  platform.Clock
	Log    *slog.Logger
	Remove func(path string) error // overridable for tests
}

func NewMaintenanceService(s *store.Store, clock platform.Clock, log *slog.Logger) *MaintenanceService {
	if log == nil {
		log = slog.Default()
	}
	return &MaintenanceService{Store: s, Clock: clock, Log: log, Remove: os.Remove}
}

func (m *MaintenanceService) snapshot() (MaintenanceStats, error) {
	size, err := m.Store.DBSizeBytes()
	if err != nil {
		return MaintenanceStats{}, err
	}
	total, err := m.Store.TotalJobs()
	if err != nil {
		return MaintenanceStats{}, err
	}
	return MaintenanceStats{DBSizeBytes: size, JobCount: total}, nil
}

// Run executes the five-step maintenance policy. forceVacuum, when true,
// unconditionally performs step 4; otherwise it runs only when the
// fragmentation heuristic (ratio of terminal to total rows) exceeds 10%, or
// when reported size exceeds cfg.MaxDBSizeMB.
func (m *MaintenanceService) Run(cfg MaintenanceConfig, forceVacuum bool) (*MaintenanceResult, error) {
	before, err := m.snapshot()
	if err != nil {
		return nil, err
	}

	now := m.Clock.NowMs()

	jobCutoff := now - int64(cfg.FinishedJobRetentionDays)*dayMs
	artifactCutoff := now - int64(cfg.ArtifactRetentionDays)*dayMs

	artifactPaths, err := m.Store.ArtifactsOlderThan(artifactCutoff)
	if err != nil {
		return nil, err
	}
	artifactsDeleted := 0
	for _, path := range artifactPaths {
		if err := m.Remove(path); err != nil {
			m.Log.Warn("maintenance: artifact unlink failed", "path", path, "err", err)
			continue
		}
		artifactsDeleted++
	}

	var terminal int64
	for _, st := range []domain.State{domain.StateDone, domain.StateFailed, domain.StateSuperseded, domain.StateCancelled} {
		n, err := m.Store.CountByStateAll(st)
		if err != nil {
			return nil, err
		}
		terminal += n
	}

	jobsDeleted, err := m.Store.DeleteTerminalOlderThan(jobCutoff)
	if err != nil {
		return nil, err
	}

	sizeMB := float64(before.DBSizeBytes) / (1024 * 1024)
	fragPercent := fragmentationPercent(before.JobCount, terminal)
	shouldVacuum := forceVacuum || fragPercent > fragmentationThresholdPercent || sizeMB > cfg.MaxDBSizeMB

	var reclaimed float64
	if shouldVacuum {
		reclaimed, err = m.Store.Vacuum()
		if err != nil {
			return nil, err
		}
	}

	after, err := m.snapshot()
	if err != nil {
		return nil, err
	}

	return &MaintenanceResult{
		VacuumRun:        shouldVacuum,
		VacuumReclaimMB:  reclaimed,
		JobsDeleted:      jobsDeleted,
		ArtifactsDeleted: artifactsDeleted,
		Before:           before,
		After:            after,
	}, nil
}

// fragmentationPercent is the share of terminal rows among all rows present
// at the start of the run, in percent — a proxy for how much terminal churn
// the table has accumulated since the last rewrite.
func fragmentationPercent(totalBefore, terminal int64) float64 {
	if totalBefore == 0 {
		return 0
	}
	return 100.0 * float64(terminal) / float64(totalBefore)
}
