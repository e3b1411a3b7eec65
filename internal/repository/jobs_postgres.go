package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mfreitas/musicgen-back/internal/domain"
	"github.com/mfreitas/musicgen-back/internal/queue"
)

// PostgresJobsRepository keeps job records in Postgres while queue
// membership stays on the external stream producer. Expected schema:
//
//	CREATE TABLE jobs (
//	    id               TEXT PRIMARY KEY,
//	    status           TEXT NOT NULL,
//	    owner_session_id TEXT NOT NULL,
//	    prompt           TEXT NOT NULL,
//	    duration         INT  NOT NULL,
//	    genre            TEXT NOT NULL DEFAULT '',
//	    created_at       TIMESTAMPTZ NOT NULL,
//	    started_at       TIMESTAMPTZ,
//	    local_path       TEXT NOT NULL DEFAULT '',
//	    storage_key      TEXT NOT NULL DEFAULT '',
//	    storage_backend  TEXT NOT NULL DEFAULT '',
//	    error_summary    TEXT NOT NULL DEFAULT '',
//	    error_detail     TEXT NOT NULL DEFAULT ''
//	);
type PostgresJobsRepository struct {
	pool     *pgxpool.Pool
	producer queue.Producer
}

func NewPostgresJobsRepository(ctx context.Context, databaseURL string, producer queue.Producer) (*PostgresJobsRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Join(domain.ErrStoreUnavailable, fmt.Errorf("ping pg: %w", err))
	}
	return &PostgresJobsRepository{pool: pool, producer: producer}, nil
}

func (r *PostgresJobsRepository) Close() {
	r.pool.Close()
}

func (r *PostgresJobsRepository) Create(ctx context.Context, job *domain.Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (id, status, owner_session_id, prompt, duration, genre, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		job.ID,
		string(job.Status),
		job.OwnerSessionID,
		job.Args.Prompt,
		job.Args.Duration,
		job.Args.Genre,
		job.CreatedAt,
	)
	if err != nil {
		return errors.Join(domain.ErrStoreUnavailable, fmt.Errorf("insert job: %w", err))
	}

	// The record and the queue entry live in different stores, so enqueue
	// cannot join the insert transaction. Deleting the row on enqueue
	// failure keeps a queued record from existing without being claimable.
	if err := r.producer.Enqueue(ctx, job.ID); err != nil {
		if _, dropErr := r.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, job.ID); dropErr != nil {
			return fmt.Errorf("enqueue job: %w (compensating delete also failed: %v)", err, dropErr)
		}
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (r *PostgresJobsRepository) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	var (
		job            domain.Job
		status         string
		startedAt      *time.Time
		localPath      string
		storageKey     string
		storageBackend string
		errorSummary   string
	)

	err := r.pool.QueryRow(ctx, `
		SELECT id, status, owner_session_id, prompt, duration, genre,
		       created_at, started_at, local_path, storage_key, storage_backend,
		       error_summary, error_detail
		FROM jobs
		WHERE id = $1
	`, jobID).Scan(
		&job.ID,
		&status,
		&job.OwnerSessionID,
		&job.Args.Prompt,
		&job.Args.Duration,
		&job.Args.Genre,
		&job.CreatedAt,
		&startedAt,
		&localPath,
		&storageKey,
		&storageBackend,
		&errorSummary,
		&job.ErrorDetail,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, errors.Join(domain.ErrStoreUnavailable, fmt.Errorf("query job: %w", err))
	}

	job.Status = domain.JobStatus(status)
	job.StartedAt = startedAt
	if job.Status == domain.JobStatusFinished || job.Status == domain.JobStatusFailed {
		job.Result = &domain.JobResult{
			LocalPath:      localPath,
			StorageKey:     storageKey,
			StorageBackend: domain.StorageBackend(storageBackend),
			ErrorSummary:   errorSummary,
		}
	}
	return &job, nil
}

func (r *PostgresJobsRepository) Transition(
	ctx context.Context,
	jobID string,
	from, to domain.JobStatus,
	result *domain.JobResult,
	errorDetail string,
) error {
	if !domain.CanTransition(from, to) {
		return domain.ErrConflict
	}

	var flat domain.JobResult
	if result != nil {
		flat = *result
	}
	var startedAt *time.Time
	if to == domain.JobStatusStarted {
		now := time.Now().UTC()
		startedAt = &now
	}

	command, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $3,
		    started_at = COALESCE($4, started_at),
		    local_path = $5,
		    storage_key = $6,
		    storage_backend = $7,
		    error_summary = $8,
		    error_detail = CASE WHEN $9 = '' THEN error_detail ELSE $9 END
		WHERE id = $1 AND status = $2
	`,
		jobID,
		string(from),
		string(to),
		startedAt,
		flat.LocalPath,
		flat.StorageKey,
		string(flat.StorageBackend),
		flat.ErrorSummary,
		errorDetail,
	)
	if err != nil {
		return errors.Join(domain.ErrStoreUnavailable, fmt.Errorf("transition job: %w", err))
	}
	if command.RowsAffected() > 0 {
		return nil
	}

	// Zero rows means the CAS condition failed or the row is gone;
	// distinguish the two for callers.
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, jobID).Scan(&exists); err != nil {
		return errors.Join(domain.ErrStoreUnavailable, fmt.Errorf("recheck job: %w", err))
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

func (r *PostgresJobsRepository) Cancel(ctx context.Context, jobID string) error {
	return r.Transition(ctx, jobID, domain.JobStatusQueued, domain.JobStatusCanceled, nil, "")
}
