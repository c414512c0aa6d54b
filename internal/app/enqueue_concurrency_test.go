package app

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semantica/task-engine/internal/platform"
	"github.com/semantica/task-engine/internal/store"
	"github.com/semantica/task-engine/pkg/domain"
)

// TestEnqueue_ConcurrentSameSubjectKeyAssignsUniqueGenerationsAndSupersedes
// submits 10 concurrent enqueues for the same subject_key over a real
// connection pool and real goroutines (PoolSize > 1), exercising the
// BEGIN IMMEDIATE write-serialization that get_latest_generation /
// insert / mark_superseded relies on for atomicity across concurrent
// transactions on the same subject.
func TestEnqueue_ConcurrentSameSubjectKeyAssignsUniqueGenerationsAndSupersedes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(store.Config{Path: path, PoolSize: 10})
	require.NoError(t, err)
	defer s.Close()

	clock := platform.SystemClock{}
	ids := platform.UUIDProvider{}
	svc := NewDevTaskService(s, clock, ids)

	const n = 10
	var wg sync.WaitGroup
	jobs := make([]*domain.Job, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, err := svc.Enqueue(EnqueueRequest{Queue: "default", JobType: "t", SubjectKey: "same-subject"})
			jobs[i] = job
			errs[i] = err
		}(i)
	}
	wg.Wait()

	seenGen := map[int64]bool{}
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, jobs[i])
		assert.False(t, seenGen[jobs[i].Generation], "generation %d assigned more than once", jobs[i].Generation)
		seenGen[jobs[i].Generation] = true
	}
	for g := int64(1); g <= n; g++ {
		assert.True(t, seenGen[g], "generation %d was never assigned", g)
	}

	queuedCount := 0
	supersededCount := 0
	for i := 0; i < n; i++ {
		got, err := s.FindByID(jobs[i].ID)
		require.NoError(t, err)
		switch got.State {
		case domain.StateQueued:
			queuedCount++
		case domain.StateSuperseded:
			supersededCount++
		default:
			t.Fatalf("unexpected state %s for job %s", got.State, got.ID)
		}
	}
	assert.Equal(t, 1, queuedCount, "exactly the highest generation must remain QUEUED")
	assert.Equal(t, n-1, supersededCount, "every lower generation must end up SUPERSEDED")
}
