package repository

import (
	"context"
	"sync"
	"time"

	"github.com/mfreitas/musicgen-back/internal/domain"
	"github.com/mfreitas/musicgen-back/internal/queue"
)

// JobsRepository owns the job record schema and its atomic state
// transitions. Transition is the only mutation entry point after Create;
// no caller may write a status directly.
type JobsRepository interface {
	// Create writes the record with status=queued and makes it visible to
	// workers. A record must never be observable as queued without being
	// claimable, and vice versa.
	Create(ctx context.Context, job *domain.Job) error

	// Get returns domain.ErrNotFound for unknown and expired ids alike.
	Get(ctx context.Context, jobID string) (*domain.Job, error)

	// Transition performs a compare-and-set status change. It returns
	// domain.ErrConflict when the current status differs from expected,
	// which makes claim races and duplicate finalizes safe no-ops.
	Transition(ctx context.Context, jobID string, from, to domain.JobStatus, result *domain.JobResult, errorDetail string) error

	// Cancel succeeds only while the job is still queued.
	Cancel(ctx context.Context, jobID string) error
}

// MemoryJobsRepository backs jobs with a process-local map. Used for
// development and tests together with a LocalQueue and embedded worker.
type MemoryJobsRepository struct {
	mu       sync.RWMutex
	jobs     map[string]*domain.Job
	producer queue.Producer
}

func NewMemoryJobsRepository(producer queue.Producer) *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs:     make(map[string]*domain.Job),
		producer: producer,
	}
}

// Len reports the number of stored records. Test helper.
func (r *MemoryJobsRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

func (r *MemoryJobsRepository) Create(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	r.jobs[job.ID] = cloneJob(job)
	r.mu.Unlock()

	if r.producer == nil {
		return nil
	}
	if err := r.producer.Enqueue(ctx, job.ID); err != nil {
		// Undo the insert so the record is never visible as queued
		// without being claimable.
		r.mu.Lock()
		delete(r.jobs, job.ID)
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *MemoryJobsRepository) Get(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryJobsRepository) Transition(
	_ context.Context,
	jobID string,
	from, to domain.JobStatus,
	result *domain.JobResult,
	errorDetail string,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status != from || !domain.CanTransition(from, to) {
		return domain.ErrConflict
	}

	job.Status = to
	if to == domain.JobStatusStarted {
		now := time.Now().UTC()
		job.StartedAt = &now
	}
	if result != nil {
		clone := *result
		job.Result = &clone
	}
	if errorDetail != "" {
		job.ErrorDetail = errorDetail
	}
	return nil
}

func (r *MemoryJobsRepository) Cancel(ctx context.Context, jobID string) error {
	return r.Transition(ctx, jobID, domain.JobStatusQueued, domain.JobStatusCanceled, nil, "")
}

func cloneJob(job *domain.Job) *domain.Job {
	if job == nil {
		return nil
	}
	clone := *job
	if job.StartedAt != nil {
		startedAt := *job.StartedAt
		clone.StartedAt = &startedAt
	}
	if job.Result != nil {
		result := *job.Result
		clone.Result = &result
	}
	return &clone
}
