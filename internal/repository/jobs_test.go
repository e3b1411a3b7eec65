package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mfreitas/musicgen-back/internal/domain"
)

type recordingProducer struct {
	mu    sync.Mutex
	ids   []string
	fail  bool
	errIn error
}

func (p *recordingProducer) Enqueue(_ context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		if p.errIn != nil {
			return p.errIn
		}
		return errors.New("queue down")
	}
	p.ids = append(p.ids, jobID)
	return nil
}

func (p *recordingProducer) enqueued() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ids...)
}

func newQueuedJob(owner string) *domain.Job {
	return &domain.Job{
		ID:             domain.NewJobID(),
		Status:         domain.JobStatusQueued,
		OwnerSessionID: owner,
		Args:           domain.GenerationArgs{Prompt: "ambient piano", Duration: 60},
		CreatedAt:      time.Now().UTC(),
	}
}

func TestMemoryCreateGetRoundtrip(t *testing.T) {
	producer := &recordingProducer{}
	repo := NewMemoryJobsRepository(producer)
	job := newQueuedJob("owner-a")

	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("create: %v", err)
	}

	loaded, err := repo.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != domain.JobStatusQueued {
		t.Fatalf("status = %s, want queued", loaded.Status)
	}
	if loaded.OwnerSessionID != "owner-a" {
		t.Fatalf("owner = %q, want owner-a", loaded.OwnerSessionID)
	}
	if got := producer.enqueued(); len(got) != 1 || got[0] != job.ID {
		t.Fatalf("enqueued = %v, want [%s]", got, job.ID)
	}
}

func TestMemoryCreateCompensatesOnEnqueueFailure(t *testing.T) {
	producer := &recordingProducer{fail: true}
	repo := NewMemoryJobsRepository(producer)
	job := newQueuedJob("owner-a")

	if err := repo.Create(context.Background(), job); err == nil {
		t.Fatal("expected create to fail when enqueue fails")
	}
	if _, err := repo.Get(context.Background(), job.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("record should not survive a failed enqueue, got err=%v", err)
	}
	if repo.Len() != 0 {
		t.Fatalf("repository size = %d, want 0", repo.Len())
	}
}

func TestMemoryGetUnknown(t *testing.T) {
	repo := NewMemoryJobsRepository(&recordingProducer{})
	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestConcurrentClaimHasExactlyOneWinner(t *testing.T) {
	repo := NewMemoryJobsRepository(&recordingProducer{})
	job := newQueuedJob("owner-a")
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("create: %v", err)
	}

	const claimers = 16
	var wg sync.WaitGroup
	results := make([]error, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			results[index] = repo.Transition(
				context.Background(),
				job.ID,
				domain.JobStatusQueued,
				domain.JobStatusStarted,
				nil,
				"",
			)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, domain.ErrConflict):
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("claim winners = %d, want exactly 1", winners)
	}

	loaded, err := repo.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != domain.JobStatusStarted {
		t.Fatalf("status = %s, want started", loaded.Status)
	}
	if loaded.StartedAt == nil {
		t.Fatal("started_at should be set after claim")
	}
}

func TestCancelOnlyWhileQueued(t *testing.T) {
	ctx := context.Background()

	t.Run("queued cancels", func(t *testing.T) {
		repo := NewMemoryJobsRepository(&recordingProducer{})
		job := newQueuedJob("o")
		_ = repo.Create(ctx, job)

		if err := repo.Cancel(ctx, job.ID); err != nil {
			t.Fatalf("cancel queued: %v", err)
		}
		loaded, _ := repo.Get(ctx, job.ID)
		if loaded.Status != domain.JobStatusCanceled {
			t.Fatalf("status = %s, want canceled", loaded.Status)
		}
		// Double cancel conflicts: the job is no longer queued.
		if err := repo.Cancel(ctx, job.ID); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("double cancel err = %v, want ErrConflict", err)
		}
	})

	t.Run("started rejects cancel", func(t *testing.T) {
		repo := NewMemoryJobsRepository(&recordingProducer{})
		job := newQueuedJob("o")
		_ = repo.Create(ctx, job)
		_ = repo.Transition(ctx, job.ID, domain.JobStatusQueued, domain.JobStatusStarted, nil, "")

		if err := repo.Cancel(ctx, job.ID); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("cancel started err = %v, want ErrConflict", err)
		}
	})

	t.Run("finished rejects cancel", func(t *testing.T) {
		repo := NewMemoryJobsRepository(&recordingProducer{})
		job := newQueuedJob("o")
		_ = repo.Create(ctx, job)
		_ = repo.Transition(ctx, job.ID, domain.JobStatusQueued, domain.JobStatusStarted, nil, "")
		_ = repo.Transition(ctx, job.ID, domain.JobStatusStarted, domain.JobStatusFinished,
			&domain.JobResult{LocalPath: "/tmp/x.wav"}, "")

		if err := repo.Cancel(ctx, job.ID); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("cancel finished err = %v, want ErrConflict", err)
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		repo := NewMemoryJobsRepository(&recordingProducer{})
		if err := repo.Cancel(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("cancel unknown err = %v, want ErrNotFound", err)
		}
	})
}

func TestTransitionRecordsResultAndDetail(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobsRepository(&recordingProducer{})
	job := newQueuedJob("o")
	_ = repo.Create(ctx, job)
	_ = repo.Transition(ctx, job.ID, domain.JobStatusQueued, domain.JobStatusStarted, nil, "")

	err := repo.Transition(ctx, job.ID, domain.JobStatusStarted, domain.JobStatusFailed,
		&domain.JobResult{ErrorSummary: "generation failed"}, "synth endpoint status 500: boom")
	if err != nil {
		t.Fatalf("transition to failed: %v", err)
	}

	loaded, _ := repo.Get(ctx, job.ID)
	if loaded.Result == nil || loaded.Result.ErrorSummary != "generation failed" {
		t.Fatalf("result = %+v, want error summary", loaded.Result)
	}
	if loaded.ErrorDetail == "" {
		t.Fatal("operator error detail should be retained")
	}

	// Duplicate finalize is a safe no-op conflict.
	err = repo.Transition(ctx, job.ID, domain.JobStatusStarted, domain.JobStatusFinished,
		&domain.JobResult{LocalPath: "/tmp/x.wav"}, "")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate finalize err = %v, want ErrConflict", err)
	}
}

func TestTransitionRejectsIllegalEdges(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobsRepository(&recordingProducer{})
	job := newQueuedJob("o")
	_ = repo.Create(ctx, job)

	// queued -> finished skips the claim and is never legal, even though
	// the CAS precondition (current == queued) holds.
	err := repo.Transition(ctx, job.ID, domain.JobStatusQueued, domain.JobStatusFinished, nil, "")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}
