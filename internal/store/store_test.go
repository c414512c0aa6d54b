package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semantica/task-engine/pkg/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(Config{Path: path, PoolSize: 1})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newJob(id, queue, subjectKey string, generation int64, priority int, createdAt int64) *domain.Job {
	return &domain.Job{
		ID:            id,
		Queue:         queue,
		JobType:       "noop",
		SubjectKey:    subjectKey,
		Generation:    generation,
		Priority:      priority,
		State:         domain.StateQueued,
		CreatedAt:     createdAt,
		Payload:       "{}",
		ExecutionMode: domain.ExecutionInProcess,
		MaxAttempts:   3,
		BackoffFactor: 2.0,
	}
}

func TestInsertAndFindByID_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	job := newJob("job-1", "default", "subj-1", 1, 0, 1000)
	require.NoError(t, s.Insert(job))

	got, err := s.FindByID("job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.SubjectKey, got.SubjectKey)
	assert.Equal(t, job.Generation, got.Generation)
	assert.Equal(t, domain.StateQueued, got.State)
}

func TestFindByID_Absent(t *testing.T) {
	s := newTestStore(t)
	got, err := s.FindByID("nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetLatestGeneration_LazyCreatesAtZero(t *testing.T) {
	s := newTestStore(t)
	gen, err := s.GetLatestGeneration("brand-new-subject")
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)

	// Second call sees the same row, not a fresh zero each time.
	gen2, err := s.GetLatestGeneration("brand-new-subject")
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen2)
}

func TestMarkSuperseded_OnlyAffectsOlderQueuedRows(t *testing.T) {
	s := newTestStore(t)

	older := newJob("job-old", "default", "subj-a", 1, 0, 1000)
	newer := newJob("job-new", "default", "subj-a", 2, 0, 2000)
	otherSubject := newJob("job-other", "default", "subj-b", 1, 0, 1000)

	require.NoError(t, s.Insert(older))
	require.NoError(t, s.Insert(newer))
	require.NoError(t, s.Insert(otherSubject))

	n, err := s.MarkSuperseded("subj-a", 2, 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.FindByID("job-old")
	require.NoError(t, err)
	assert.Equal(t, domain.StateSuperseded, got.State)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, int64(5000), *got.FinishedAt)

	stillQueued, err := s.FindByID("job-new")
	require.NoError(t, err)
	assert.Equal(t, domain.StateQueued, stillQueued.State)

	untouched, err := s.FindByID("job-other")
	require.NoError(t, err)
	assert.Equal(t, domain.StateQueued, untouched.State)
}

func TestPopNext_SkipsRowsBehindLatestGeneration(t *testing.T) {
	s := newTestStore(t)

	// A dormant row left behind by a racing enqueue: generation 1 while the
	// subject's counter has already advanced to 2.
	dormant := newJob("job-dormant", "default", "subj-a", 1, 0, 1000)
	require.NoError(t, s.Insert(dormant))
	_, err := s.MarkSuperseded("subj-a", 2, 1500)
	require.NoError(t, err)

	// Simulate the generation-2 row never having been inserted (aborted
	// enqueue) — PopNext must still find nothing eligible for subj-a.
	got, err := s.PopNext("default", 2000)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPopNext_PriorityThenFIFOOrdering(t *testing.T) {
	s := newTestStore(t)

	low := newJob("job-low", "default", "subj-low", 1, 0, 1000)
	high := newJob("job-high", "default", "subj-high", 1, 10, 2000)
	require.NoError(t, s.Insert(low))
	require.NoError(t, s.Insert(high))
	// Establish each subject's counter at 1, as Enqueue's transaction does,
	// so the pop-time generation filter admits both rows.
	_, err := s.MarkSuperseded("subj-low", 1, 1000)
	require.NoError(t, err)
	_, err = s.MarkSuperseded("subj-high", 1, 2000)
	require.NoError(t, err)

	got, err := s.PopNext("default", 5000)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "job-high", got.ID, "higher priority pops first regardless of creation order")
	assert.Equal(t, domain.StateRunning, got.State)
	require.NotNil(t, got.StartedAt)
	assert.Equal(t, int64(5000), *got.StartedAt)

	got2, err := s.PopNext("default", 5001)
	require.NoError(t, err)
	require.NotNil(t, got2)
	assert.Equal(t, "job-low", got2.ID)
}

func TestPopNext_EmptyQueueReturnsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.PopNext("default", 1000)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPopNext_AtMostOneInFlightPerJob(t *testing.T) {
	s := newTestStore(t)
	job := newJob("job-1", "default", "subj-1", 1, 0, 1000)
	require.NoError(t, s.Insert(job))
	_, err := s.MarkSuperseded("subj-1", 1, 1000)
	require.NoError(t, err)

	first, err := s.PopNext("default", 1000)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := s.PopNext("default", 1001)
	require.NoError(t, err)
	assert.Nil(t, second, "a RUNNING job must not be popped again")
}

func TestUpdateState_RefusesTerminalTransition(t *testing.T) {
	s := newTestStore(t)
	job := newJob("job-1", "default", "subj-1", 1, 0, 1000)
	require.NoError(t, s.Insert(job))

	now := int64(2000)
	require.NoError(t, s.UpdateState("job-1", domain.StateDone, &now))

	err := s.UpdateState("job-1", domain.StateCancelled, &now)
	require.Error(t, err)

	got, err := s.FindByID("job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, got.State, "a terminal state must be immutable")
}

func TestUpdateState_NotFound(t *testing.T) {
	s := newTestStore(t)
	now := int64(1000)
	err := s.UpdateState("does-not-exist", domain.StateCancelled, &now)
	require.Error(t, err)
}

func TestDeleteTerminalOlderThan(t *testing.T) {
	s := newTestStore(t)

	old := newJob("job-old", "default", "subj-1", 1, 0, 1000)
	require.NoError(t, s.Insert(old))
	finishedAt := int64(1500)
	require.NoError(t, s.UpdateState("job-old", domain.StateDone, &finishedAt))

	fresh := newJob("job-fresh", "default", "subj-2", 1, 0, 9000)
	require.NoError(t, s.Insert(fresh))
	freshFinishedAt := int64(9500)
	require.NoError(t, s.UpdateState("job-fresh", domain.StateDone, &freshFinishedAt))

	n, err := s.DeleteTerminalOlderThan(5000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.FindByID("job-old")
	require.NoError(t, err)
	stillThere, err := s.FindByID("job-fresh")
	require.NoError(t, err)
	assert.NotNil(t, stillThere)
}

func TestCountByStateAll(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Insert(newJob("job-1", "default", "s1", 1, 0, 1000)))
	require.NoError(t, s.Insert(newJob("job-2", "default", "s2", 1, 0, 1000)))

	n, err := s.CountByStateAll(domain.StateQueued)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	total, err := s.TotalJobs()
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}
