package app

import (
	"github.com/semantica/task-engine/internal/apperr"
	"github.com/semantica/task-engine/internal/platform"
	"github.com/semantica/task-engine/internal/store"
	"github.com/semantica/task-engine/pkg/domain"
)

// DevTaskService wires the Enqueue and Cancel use cases against the Store
// and the injected Clock/IdProvider ports.
type DevTaskService struct {
	Store *store.Store
	Clock platform.Clock
	IDs   platform.IdProvider
}

func NewDevTaskService(s *store.Store, clock platform.Clock, ids platform.IdProvider) *DevTaskService {
	return &DevTaskService{Store: s, Clock: clock, IDs: ids}
}

// Enqueue implements the six-step transactional protocol: allocate the next
// generation, insert the new job, supersede older QUEUED rows for the same
// subject, commit. On commit failure the id is discarded; no partial state
// persists.
func (d *DevTaskService) Enqueue(req EnqueueRequest) (*domain.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := d.Store.BeginTx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	g, err := tx.GetLatestGeneration(req.SubjectKey)
	if err != nil {
		return nil, err
	}
	nextGen := g + 1

	now := d.Clock.NowMs()
	job := &domain.Job{
		ID:            d.IDs.NewID(),
		Queue:         req.Queue,
		JobType:       req.JobType,
		SubjectKey:    req.SubjectKey,
		Generation:    nextGen,
		Priority:      req.Priority,
		State:         domain.StateQueued,
		CreatedAt:     now,
		Payload:       string(req.Payload),
		ExecutionMode: domain.ExecutionInProcess,
		MaxAttempts:   3,
		BackoffFactor: 2.0,
	}
	if len(job.Payload) == 0 {
		job.Payload = "{}"
	}

	if err := tx.Insert(job); err != nil {
		return nil, err
	}

	if _, err := tx.MarkSuperseded(req.SubjectKey, nextGen, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.Db, "commit enqueue", err)
	}

	return job, nil
}

// Cancel performs a CAS transition to CANCELLED; a no-op if the job is
// already terminal, per the idempotent-cancel property.
func (d *DevTaskService) Cancel(jobID string) (*domain.Job, error) {
	job, err := d.Store.FindByID(jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apperr.NotFoundf("job %s", jobID)
	}
	if job.State.Terminal() {
		return job, nil
	}
	now := d.Clock.NowMs()
	if err := d.Store.UpdateState(jobID, domain.StateCancelled, &now); err != nil {
		// A concurrent transition to terminal between the read above and
		// here is the same idempotent-cancel case, not a real conflict.
		if apperr.KindOf(err) == apperr.Conflict {
			return d.Store.FindByID(jobID)
		}
		return nil, err
	}
	job.State = domain.StateCancelled
	job.FinishedAt = &now
	return job, nil
}
