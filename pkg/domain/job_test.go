package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_Terminal(t *testing.T) {
	assert.True(t, StateDone.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateSuperseded.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.False(t, StateQueued.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.False(t, StateRequeued.Terminal())
}

func TestJob_Start_SetsRunningAndPID(t *testing.T) {
	j := &Job{State: StateQueued}
	pid := 123
	require.NoError(t, j.Start(1000, &pid))
	assert.Equal(t, StateRunning, j.State)
	require.NotNil(t, j.StartedAt)
	assert.Equal(t, int64(1000), *j.StartedAt)
	assert.Equal(t, &pid, j.PID)
}

func TestJob_Start_RefusesFromTerminalState(t *testing.T) {
	j := &Job{State: StateDone}
	err := j.Start(1000, nil)
	require.Error(t, err)
	var transErr *ErrInvalidStateTransition
	assert.ErrorAs(t, err, &transErr)
}

func TestJob_Complete_ClearsPIDAndSetsFinishedAt(t *testing.T) {
	pid := 42
	j := &Job{State: StateRunning, PID: &pid}
	require.NoError(t, j.Complete(2000))
	assert.Equal(t, StateDone, j.State)
	require.NotNil(t, j.FinishedAt)
	assert.Equal(t, int64(2000), *j.FinishedAt)
	assert.Nil(t, j.PID)
}

func TestJob_Complete_RefusesFromTerminalState(t *testing.T) {
	j := &Job{State: StateCancelled}
	require.Error(t, j.Complete(1000))
}

func TestJob_Fail_FromRunning(t *testing.T) {
	j := &Job{State: StateRunning}
	require.NoError(t, j.Fail(3000))
	assert.Equal(t, StateFailed, j.State)
}

func TestJob_Supersede_OnlyFromQueued(t *testing.T) {
	j := &Job{State: StateQueued}
	require.NoError(t, j.Supersede(4000))
	assert.Equal(t, StateSuperseded, j.State)

	running := &Job{State: StateRunning}
	err := running.Supersede(4000)
	require.Error(t, err)
}

func TestJob_Cancel_FromNonTerminalTransitions(t *testing.T) {
	j := &Job{State: StateQueued}
	require.NoError(t, j.Cancel(5000))
	assert.Equal(t, StateCancelled, j.State)
}

func TestJob_Cancel_IsNoOpWhenAlreadyTerminal(t *testing.T) {
	finishedAt := int64(100)
	j := &Job{State: StateDone, FinishedAt: &finishedAt}
	require.NoError(t, j.Cancel(5000))
	assert.Equal(t, StateDone, j.State, "cancelling a terminal job must not change its state")
	assert.Equal(t, int64(100), *j.FinishedAt, "must not overwrite the original finish time")
}
