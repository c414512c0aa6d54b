// Package domain holds the shared types passed between the store, the
// executor, the worker loop, and the RPC layer: a dependency-free package
// that every other package can import without creating cycles.
package domain

import "fmt"

// State is the job lifecycle state. Exactly one holds at any time.
type State string

const (
	StateQueued     State = "QUEUED"
	StateRunning    State = "RUNNING"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
	StateSuperseded State = "SUPERSEDED"
	StateCancelled  State = "CANCELLED"
	StateRequeued   State = "REQUEUED"
)

// Terminal reports whether s is one of the states a job never leaves except
// by deletion.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateFailed, StateSuperseded, StateCancelled:
		return true
	default:
		return false
	}
}

// ExecutionMode selects how the Executor runs a job body.
type ExecutionMode string

const (
	ExecutionInProcess  ExecutionMode = "IN_PROCESS"
	ExecutionSubprocess ExecutionMode = "SUBPROCESS"
)

// Job is the central entity of the engine. Field groups mirror the
// identity/dispatch/body/resilience/scheduling/metadata grouping used
// throughout the design.
type Job struct {
	// Identity
	ID         string `db:"id" json:"id"`
	Queue      string `db:"queue" json:"queue"`
	JobType    string `db:"job_type" json:"job_type"`
	SubjectKey string `db:"subject_key" json:"subject_key"`
	Generation int64  `db:"generation" json:"generation"`

	// Dispatch
	Priority   int    `db:"priority" json:"priority"`
	State      State  `db:"state" json:"state"`
	CreatedAt  int64  `db:"created_at" json:"created_at"`
	StartedAt  *int64 `db:"started_at" json:"started_at,omitempty"`
	FinishedAt *int64 `db:"finished_at" json:"finished_at,omitempty"`

	// Body
	Payload       string        `db:"payload" json:"payload"` // JSON text
	LogPath       *string       `db:"log_path" json:"log_path,omitempty"`
	ExecutionMode ExecutionMode `db:"execution_mode" json:"execution_mode"`
	PID           *int          `db:"pid" json:"pid,omitempty"`
	EnvVars       *string       `db:"env_vars" json:"env_vars,omitempty"` // JSON text, map[string]string

	// Resilience
	Attempts      int     `db:"attempts" json:"attempts"`
	MaxAttempts   int     `db:"max_attempts" json:"max_attempts"`
	BackoffFactor float64 `db:"backoff_factor" json:"backoff_factor"`
	Deadline      *int64  `db:"deadline" json:"deadline,omitempty"`
	TTLMs         *int64  `db:"ttl_ms" json:"ttl_ms,omitempty"`

	// Scheduling hints
	ScheduleAt      *int64  `db:"schedule_at" json:"schedule_at,omitempty"`
	WaitForIdle     bool    `db:"wait_for_idle" json:"wait_for_idle"`
	RequireCharging bool    `db:"require_charging" json:"require_charging"`
	WaitForEvent    *string `db:"wait_for_event" json:"wait_for_event,omitempty"`

	// Metadata (opaque to the core)
	TraceID       *string `db:"trace_id" json:"trace_id,omitempty"`
	UserTag       *string `db:"user_tag" json:"user_tag,omitempty"`
	ParentJobID   *string `db:"parent_job_id" json:"parent_job_id,omitempty"`
	ChainGroupID  *string `db:"chain_group_id" json:"chain_group_id,omitempty"`
	ResultSummary *string `db:"result_summary" json:"result_summary,omitempty"`
	Artifacts     *string `db:"artifacts" json:"artifacts,omitempty"` // JSON text, []string
}

// ErrInvalidStateTransition is returned by the mutator helpers below when
// asked to move a job out of a terminal state.
type ErrInvalidStateTransition struct {
	From State
	To   State
}

func (e *ErrInvalidStateTransition) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

// Start marks the job RUNNING at the given time, recording the worker pid
// when running as a subprocess.
func (j *Job) Start(nowMs int64, pid *int) error {
	if j.State.Terminal() {
		return &ErrInvalidStateTransition{From: j.State, To: StateRunning}
	}
	j.State = StateRunning
	j.StartedAt = &nowMs
	j.PID = pid
	return nil
}

// Complete marks the job DONE.
func (j *Job) Complete(nowMs int64) error {
	if j.State.Terminal() {
		return &ErrInvalidStateTransition{From: j.State, To: StateDone}
	}
	j.State = StateDone
	j.FinishedAt = &nowMs
	j.PID = nil
	return nil
}

// Fail marks the job FAILED.
func (j *Job) Fail(nowMs int64) error {
	if j.State.Terminal() {
		return &ErrInvalidStateTransition{From: j.State, To: StateFailed}
	}
	j.State = StateFailed
	j.FinishedAt = &nowMs
	j.PID = nil
	return nil
}

// Supersede marks the job SUPERSEDED; only valid from QUEUED.
func (j *Job) Supersede(nowMs int64) error {
	if j.State != StateQueued {
		return &ErrInvalidStateTransition{From: j.State, To: StateSuperseded}
	}
	j.State = StateSuperseded
	j.FinishedAt = &nowMs
	return nil
}

// Cancel marks the job CANCELLED; a no-op returning nil if already terminal.
func (j *Job) Cancel(nowMs int64) error {
	if j.State.Terminal() {
		return nil
	}
	j.State = StateCancelled
	j.FinishedAt = &nowMs
	j.PID = nil
	return nil
}
