// Package scheduler implements the Scheduler Gate: a predicate consulted by
// the Worker after popping a job, deciding whether it should run now or be
// requeued. It never pops itself.
package scheduler

import (
	"github.com/semantica/task-engine/internal/platform"
	"github.com/semantica/task-engine/pkg/domain"
)

// IdleCPUThresholdPercent is the CPU utilization at or above which the
// system is no longer considered idle for wait_for_idle purposes.
const IdleCPUThresholdPercent = 30.0

// Gate evaluates per-job execution conditions against injected Clock and
// SystemProbe ports.
type Gate struct {
	Probe platform.SystemProbe
	Clock platform.Clock
}

func NewGate(probe platform.SystemProbe, clock platform.Clock) *Gate {
	return &Gate{Probe: probe, Clock: clock}
}

// IsReady evaluates the rules in order; the first failing rule makes the
// job not-ready. wait_for_event has no delivery mechanism in this core and
// is always not-ready when set — reserved for a future extension.
func (g *Gate) IsReady(job *domain.Job) (bool, error) {
	now := g.Clock.NowMs()

	if job.ScheduleAt != nil && now < *job.ScheduleAt {
		return false, nil
	}

	if job.WaitForIdle {
		idle, err := g.Probe.IsIdle(IdleCPUThresholdPercent)
		if err != nil {
			return false, err
		}
		if !idle {
			return false, nil
		}
	}

	if job.RequireCharging {
		charging, err := g.Probe.IsCharging()
		if err != nil {
			return false, err
		}
		if !charging {
			return false, nil
		}
	}

	if job.WaitForEvent != nil {
		return false, nil
	}

	return true, nil
}
