// Package retry implements the pure retry/backoff decision function. It has
// no I/O and no clock dependency of its own beyond the now value its callers
// pass in, matching the original's "pure function from job state to retry
// decision" framing.
package retry

import (
	"math"

	"github.com/semantica/task-engine/pkg/domain"
)

// Decision is the outcome of consulting the Policy after a failed execution.
type Decision struct {
	ShouldRetry bool
	DelayMs     int64
}

// Policy computes retry decisions. BaseDelayMs is the only tunable; the
// per-job backoff_factor and max_attempts live on the job itself.
type Policy struct {
	BaseDelayMs int64
}

func NewPolicy(baseDelayMs int64) *Policy {
	if baseDelayMs <= 0 {
		baseDelayMs = 1000
	}
	return &Policy{BaseDelayMs: baseDelayMs}
}

// ShouldRetry decides whether job should be retried after a failed
// execution. The jitter factor is derived deterministically from job.ID so
// that the same job always produces the same delay sequence across runs —
// required for reproducible tests, not because production needs true
// randomness.
func (p *Policy) ShouldRetry(job *domain.Job) Decision {
	if job.Attempts >= job.MaxAttempts {
		return Decision{ShouldRetry: false}
	}
	backoff := job.BackoffFactor
	if backoff <= 0 {
		backoff = 2.0
	}
	base := float64(p.BaseDelayMs) * math.Pow(backoff, float64(job.Attempts))
	jitter := jitterFactor(job.ID)
	delay := int64(base * jitter)
	return Decision{ShouldRetry: true, DelayMs: delay}
}

// jitterFactor maps the byte-sum of id onto [0.9, 1.1], deterministically.
func jitterFactor(id string) float64 {
	var sum uint32
	for _, c := range []byte(id) {
		sum += uint32(c)
	}
	return 0.9 + float64(sum%21)/100.0
}

// IsDeadlineExceeded reports whether job.Deadline is set and in the past.
func IsDeadlineExceeded(job *domain.Job, nowMs int64) bool {
	return job.Deadline != nil && nowMs > *job.Deadline
}

// IsTTLExceeded reports whether job.TTLMs is set and the job has been queued
// longer than that.
func IsTTLExceeded(job *domain.Job, nowMs int64) bool {
	return job.TTLMs != nil && nowMs-job.CreatedAt > *job.TTLMs
}

// PrepareForRetry mutates job in place for a retry: increments attempts,
// returns it to QUEUED, clears started_at/pid, and sets
// schedule_at = now + delay so the Scheduler Gate holds it until the
// backoff elapses.
func PrepareForRetry(job *domain.Job, nowMs int64, delayMs int64) {
	job.Attempts++
	job.State = domain.StateQueued
	job.StartedAt = nil
	job.PID = nil
	notBefore := nowMs + delayMs
	job.ScheduleAt = &notBefore
}
