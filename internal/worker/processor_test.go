package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mfreitas/musicgen-back/internal/domain"
	"github.com/mfreitas/musicgen-back/internal/repository"
	"github.com/mfreitas/musicgen-back/internal/synth"
)

type nopProducer struct{}

func (nopProducer) Enqueue(context.Context, string) error { return nil }

type failingGenerator struct {
	err error
}

func (g failingGenerator) Generate(context.Context, string, int, string) ([]byte, error) {
	return nil, g.err
}

func (failingGenerator) Available() bool { return true }

type recordingStore struct {
	enabled   bool
	uploadErr error
	uploads   map[string][]byte
}

func newRecordingStore(enabled bool) *recordingStore {
	return &recordingStore{enabled: enabled, uploads: make(map[string][]byte)}
}

func (s *recordingStore) Enabled() bool { return s.enabled }

func (s *recordingStore) Upload(_ context.Context, key string, data []byte) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	s.uploads[key] = data
	return nil
}

func (s *recordingStore) PresignedURL(context.Context, string, time.Duration) (string, error) {
	return "", errors.New("not used in these tests")
}

func seedQueuedJob(t *testing.T, repo *repository.MemoryJobsRepository) *domain.Job {
	t.Helper()
	job := &domain.Job{
		ID:             domain.NewJobID(),
		OwnerSessionID: "owner",
		Status:         domain.JobStatusQueued,
		Args:           domain.GenerationArgs{Prompt: "ambient pads", Duration: 30},
		CreatedAt:      time.Now().UTC(),
	}
	if err := repo.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func newTestProcessor(repo *repository.MemoryJobsRepository, gen synth.Generator, store *recordingStore, scratch string) *Processor {
	return NewProcessor(nil, repo, gen, store, nil, zerolog.Nop(), Config{
		ScratchDir:       scratch,
		ExecutionTimeout: time.Minute,
	})
}

func TestProcessFinishesJobWithDurableUpload(t *testing.T) {
	repo := repository.NewMemoryJobsRepository(nopProducer{})
	store := newRecordingStore(true)
	scratch := t.TempDir()
	p := newTestProcessor(repo, &synth.StubGenerator{SampleRate: 8000}, store, scratch)

	job := seedQueuedJob(t, repo)
	if err := p.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := repo.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.JobStatusFinished {
		t.Fatalf("status = %s, want finished", got.Status)
	}
	if got.StartedAt == nil {
		t.Fatal("started_at not recorded")
	}
	if got.Result == nil {
		t.Fatal("finished job has no result")
	}
	if got.Result.StorageKey != job.ID+".wav" || got.Result.StorageBackend != domain.StorageBackendS3 {
		t.Fatalf("result = %+v, want s3 key %s.wav", got.Result, job.ID)
	}
	if _, ok := store.uploads[job.ID+".wav"]; !ok {
		t.Fatal("artifact was not uploaded")
	}
	wantLocal := filepath.Join(scratch, job.ID+".wav")
	if got.Result.LocalPath != wantLocal {
		t.Fatalf("local path = %q, want %q", got.Result.LocalPath, wantLocal)
	}
	if _, err := os.Stat(wantLocal); err != nil {
		t.Fatalf("scratch artifact missing: %v", err)
	}
}

func TestProcessUploadFailureDegradesToLocalDelivery(t *testing.T) {
	repo := repository.NewMemoryJobsRepository(nopProducer{})
	store := newRecordingStore(true)
	store.uploadErr = errors.New("bucket unreachable")
	p := newTestProcessor(repo, &synth.StubGenerator{SampleRate: 8000}, store, t.TempDir())

	job := seedQueuedJob(t, repo)
	if err := p.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, _ := repo.Get(context.Background(), job.ID)
	if got.Status != domain.JobStatusFinished {
		t.Fatalf("status = %s, upload failure must not fail the job", got.Status)
	}
	if got.Result.StorageKey != "" {
		t.Fatalf("storage key = %q, want empty after failed upload", got.Result.StorageKey)
	}
	if got.Result.LocalPath == "" {
		t.Fatal("degraded job must still carry the local path")
	}
}

func TestProcessGeneratorErrorFinalizesFailed(t *testing.T) {
	repo := repository.NewMemoryJobsRepository(nopProducer{})
	p := newTestProcessor(repo, failingGenerator{err: errors.New("synth endpoint status 503")}, newRecordingStore(false), t.TempDir())

	job := seedQueuedJob(t, repo)
	if err := p.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v (execution failures are finalized, not redelivered)", err)
	}

	got, _ := repo.Get(context.Background(), job.ID)
	if got.Status != domain.JobStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Result == nil || got.Result.ErrorSummary == "" {
		t.Fatal("failed job must carry an error summary")
	}
	if got.ErrorDetail != "synth endpoint status 503" {
		t.Fatalf("error detail = %q", got.ErrorDetail)
	}
}

func TestProcessAbandonsLostClaims(t *testing.T) {
	repo := repository.NewMemoryJobsRepository(nopProducer{})
	p := newTestProcessor(repo, &synth.StubGenerator{SampleRate: 8000}, newRecordingStore(false), t.TempDir())
	ctx := context.Background()

	// Already claimed by another consumer.
	claimed := seedQueuedJob(t, repo)
	if err := repo.Transition(ctx, claimed.ID, domain.JobStatusQueued, domain.JobStatusStarted, nil, ""); err != nil {
		t.Fatalf("pre-claim: %v", err)
	}
	if err := p.Process(ctx, claimed.ID); err != nil {
		t.Fatalf("process claimed job: %v, lost races must ack", err)
	}
	got, _ := repo.Get(ctx, claimed.ID)
	if got.Status != domain.JobStatusStarted {
		t.Fatalf("status = %s, a lost claim must not touch the record", got.Status)
	}

	// Canceled before any worker picked it up.
	canceled := seedQueuedJob(t, repo)
	if err := repo.Cancel(ctx, canceled.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := p.Process(ctx, canceled.ID); err != nil {
		t.Fatalf("process canceled job: %v", err)
	}
	got, _ = repo.Get(ctx, canceled.ID)
	if got.Status != domain.JobStatusCanceled {
		t.Fatalf("status = %s, want canceled to stay canceled", got.Status)
	}

	// Record expired or never existed.
	if err := p.Process(ctx, "gone"); err != nil {
		t.Fatalf("process unknown job: %v, want nil so the entry is acked", err)
	}
}
