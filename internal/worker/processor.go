// Package worker is the consumer side of the job queue: claim, execute
// the external generation call, persist the artifact, finalize the record.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/mfreitas/musicgen-back/internal/domain"
	"github.com/mfreitas/musicgen-back/internal/metrics"
	"github.com/mfreitas/musicgen-back/internal/queue"
	"github.com/mfreitas/musicgen-back/internal/repository"
	"github.com/mfreitas/musicgen-back/internal/storage"
	"github.com/mfreitas/musicgen-back/internal/synth"
)

type Config struct {
	// ScratchDir receives the raw audio before (and regardless of) the
	// durable upload.
	ScratchDir string

	// ExecutionTimeout bounds one generation call. A timeout finalizes
	// the job as failed rather than hanging the consumer.
	ExecutionTimeout time.Duration
}

type Processor struct {
	consumer  queue.Consumer
	repo      repository.JobsRepository
	generator synth.Generator
	store     storage.ObjectStore
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	cfg       Config
}

func NewProcessor(
	consumer queue.Consumer,
	repo repository.JobsRepository,
	generator synth.Generator,
	store storage.ObjectStore,
	m *metrics.Metrics,
	logger zerolog.Logger,
	cfg Config,
) *Processor {
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 10 * time.Minute
	}
	return &Processor{
		consumer:  consumer,
		repo:      repo,
		generator: generator,
		store:     store,
		metrics:   m,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start runs the consume loop until ctx is done, reconnecting with a
// small backoff after transport errors.
func (p *Processor) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.Process)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.logger.Error().Err(err).Msg("consume loop error, reconnecting")

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Process handles one delivered job id through the full execution
// contract. It returns an error only for store-level problems worth a
// queue redelivery; lost claim races return nil so the entry is acked.
func (p *Processor) Process(ctx context.Context, jobID string) error {
	// Claim. Losing this CAS means another consumer won the job or it was
	// canceled before execution; both are expected races, not errors.
	err := p.repo.Transition(ctx, jobID, domain.JobStatusQueued, domain.JobStatusStarted, nil, "")
	if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
		p.logger.Debug().Str("job_id", jobID).Msg("claim lost, abandoning delivery")
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}

	job, err := p.repo.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load claimed job %s: %w", jobID, err)
	}

	claimedAt := time.Now()
	p.logger.Info().Str("job_id", jobID).Str("prompt", job.Args.Prompt).Msg("generation started")

	audio, execErr := p.execute(ctx, job)
	if execErr != nil {
		p.finalize(ctx, jobID, domain.JobStatusFailed,
			&domain.JobResult{ErrorSummary: "generation failed"},
			execErr.Error(), claimedAt)
		return nil
	}

	result := p.persist(ctx, jobID, audio)
	p.finalize(ctx, jobID, domain.JobStatusFinished, result, "", claimedAt)
	return nil
}

func (p *Processor) execute(ctx context.Context, job *domain.Job) ([]byte, error) {
	execCtx, cancel := context.WithTimeout(ctx, p.cfg.ExecutionTimeout)
	defer cancel()

	audio, err := p.generator.Generate(execCtx, job.Args.Prompt, job.Args.Duration, job.Args.Genre)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("generation timed out after %s: %w", p.cfg.ExecutionTimeout, err)
		}
		return nil, err
	}
	if len(audio) == 0 {
		return nil, errors.New("generator returned empty audio payload")
	}
	return audio, nil
}

// persist writes the scratch file and attempts the durable upload. Upload
// failure is non-fatal: the job still finishes, degraded to local-only
// delivery.
func (p *Processor) persist(ctx context.Context, jobID string, audio []byte) *domain.JobResult {
	result := &domain.JobResult{}

	if err := os.MkdirAll(p.cfg.ScratchDir, 0o755); err != nil {
		p.logger.Error().Err(err).Msg("scratch dir unavailable")
	} else {
		localPath := filepath.Join(p.cfg.ScratchDir, jobID+".wav")
		if err := os.WriteFile(localPath, audio, 0o644); err != nil {
			p.logger.Error().Err(err).Str("job_id", jobID).Msg("scratch write failed")
		} else {
			result.LocalPath = localPath
		}
	}

	if p.store != nil && p.store.Enabled() {
		key := jobID + ".wav"
		if err := p.store.Upload(ctx, key, audio); err != nil {
			p.logger.Warn().Err(err).Str("job_id", jobID).Msg("durable upload failed, local delivery only")
		} else {
			result.StorageKey = key
			result.StorageBackend = domain.StorageBackendS3
		}
	}
	return result
}

func (p *Processor) finalize(
	ctx context.Context,
	jobID string,
	status domain.JobStatus,
	result *domain.JobResult,
	errorDetail string,
	claimedAt time.Time,
) {
	err := p.repo.Transition(ctx, jobID, domain.JobStatusStarted, status, result, errorDetail)
	if err != nil {
		// A failed finalize leaves the job in started forever. There is
		// no safe retry target, so make the failure loud for operators.
		p.logger.Error().Err(err).
			Str("job_id", jobID).
			Str("target_status", string(status)).
			Msg("finalize failed, job may be stuck in started")
		return
	}

	if p.metrics != nil {
		p.metrics.ObserveFinalized(status, time.Since(claimedAt).Seconds())
	}
	p.logger.Info().
		Str("job_id", jobID).
		Str("status", string(status)).
		Dur("took", time.Since(claimedAt)).
		Msg("job finalized")
}
