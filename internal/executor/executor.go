// Package executor runs a job body, either as an in-process stub or a
// spawned subprocess with an environment allowlist, a deadline, and a
// two-phase graceful kill: each execution runs on its own goroutine with a
// context timeout derived from the job's deadline.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/semantica/task-engine/internal/apperr"
	"github.com/semantica/task-engine/internal/joblog"
	"github.com/semantica/task-engine/pkg/domain"
)

// Status classifies how an execution ended.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusTimeout Status = "TIMEOUT"
	StatusKilled  Status = "KILLED"
)

// Result is what the Worker Loop classifies after Execute returns.
type Result struct {
	Status     Status
	DurationMs int64
	ExitCode   *int
	Stdout     string
	Stderr     string
}

// Executor is the capability port the Worker Loop and Recovery depend on.
type Executor interface {
	Execute(ctx context.Context, job *domain.Job) (Result, error)
	Kill(pid int) error
	IsAlive(pid int) (bool, error)
}

// subprocessPayload is the expected shape of payload for SUBPROCESS jobs.
type subprocessPayload struct {
	Command    string            `json:"command"`
	Args       []string          `json:"args"`
	Env        map[string]string `json:"env"`
	WorkingDir string            `json:"working_dir"`
}

// PosixExecutor is the production Executor.
type PosixExecutor struct {
	// Allowlist is intersected with the process environment and the
	// payload's env map; entries absent here are simply absent from the child.
	Allowlist map[string]bool
	Logs      *joblog.Store
}

func NewPosixExecutor(allowlist []string, logs *joblog.Store) *PosixExecutor {
	set := make(map[string]bool, len(allowlist))
	for _, k := range allowlist {
		set[k] = true
	}
	return &PosixExecutor{Allowlist: set, Logs: logs}
}

// DefaultAllowlist matches the design's typical allowlist.
var DefaultAllowlist = []string{"PATH", "HOME", "USER"}

func (e *PosixExecutor) Execute(ctx context.Context, job *domain.Job) (Result, error) {
	switch job.ExecutionMode {
	case domain.ExecutionSubprocess:
		return e.executeSubprocess(ctx, job)
	default:
		return e.executeInProcess(ctx, job)
	}
}

// executeInProcess is a deliberately trivial stub: the core does not
// interpret job payloads beyond dispatch. Real in-process work is
// registered by integrators; here it always succeeds immediately.
func (e *PosixExecutor) executeInProcess(ctx context.Context, job *domain.Job) (Result, error) {
	start := time.Now()
	select {
	case <-ctx.Done():
		return Result{Status: StatusTimeout, DurationMs: time.Since(start).Milliseconds()}, ctx.Err()
	default:
	}
	return Result{Status: StatusSuccess, DurationMs: time.Since(start).Milliseconds()}, nil
}

func (e *PosixExecutor) executeSubprocess(ctx context.Context, job *domain.Job) (Result, error) {
	var p subprocessPayload
	if err := json.Unmarshal([]byte(job.Payload), &p); err != nil || p.Command == "" {
		return Result{}, apperr.Wrap(apperr.Execution, "invalid subprocess payload", err)
	}

	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	if p.WorkingDir != "" {
		cmd.Dir = p.WorkingDir
	}
	cmd.Env = e.buildEnv(p.Env)

	writer := e.Logs.Writer(job.ID)
	defer writer.Close()
	cmd.Stdout = writer.Stdout()
	cmd.Stderr = writer.Stderr()

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, apperr.Wrap(apperr.Execution, "spawn failed", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		pid := cmd.Process.Pid
		killed := twoPhaseKill(pid)
		<-done
		status := StatusTimeout
		if killed {
			status = StatusKilled
		}
		return Result{
			Status:     status,
			DurationMs: time.Since(start).Milliseconds(),
			Stdout:     writer.StdoutString(),
			Stderr:     writer.StderrString(),
		}, apperr.New(apperr.Execution, "deadline exceeded")
	case err := <-done:
		code := exitCode(err)
		status := StatusSuccess
		if err != nil {
			status = StatusFailed
		}
		return Result{
			Status:     status,
			DurationMs: time.Since(start).Milliseconds(),
			ExitCode:   code,
			Stdout:     writer.StdoutString(),
			Stderr:     writer.StderrString(),
		}, nil
	}
}

func (e *PosixExecutor) buildEnv(jobEnv map[string]string) []string {
	out := make([]string, 0, len(e.Allowlist)+len(jobEnv))
	for k := range e.Allowlist {
		if v, ok := lookupHostEnv(k); ok {
			out = append(out, k+"="+v)
		}
	}
	for k, v := range jobEnv {
		if e.Allowlist[k] {
			out = append(out, k+"="+v)
		}
	}
	return out
}

func exitCode(err error) *int {
	if err == nil {
		c := 0
		return &c
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		c := exitErr.ExitCode()
		return &c
	}
	return nil
}

// Kill performs the two-phase POSIX shutdown: SIGTERM, poll every 100ms up
// to 5s, escalate to SIGKILL.
func (e *PosixExecutor) Kill(pid int) error {
	twoPhaseKill(pid)
	return nil
}

func twoPhaseKill(pid int) bool {
	_ = unix.Kill(pid, syscall.SIGTERM)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := unix.Kill(pid, 0); err != nil {
			return false // process exited on its own after SIGTERM.
		}
		time.Sleep(100 * time.Millisecond)
	}
	_ = unix.Kill(pid, syscall.SIGKILL)
	return true
}

// IsAlive non-destructively checks process existence via signal 0.
func (e *PosixExecutor) IsAlive(pid int) (bool, error) {
	err := unix.Kill(pid, 0)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, unix.ESRCH) {
		return false, nil
	}
	if errors.Is(err, unix.EPERM) {
		return true, nil // exists, just not ours to signal further.
	}
	return false, fmt.Errorf("executor: is_alive(%d): %w", pid, err)
}

func lookupHostEnv(key string) (string, bool) {
	return hostEnvLookup(key)
}
