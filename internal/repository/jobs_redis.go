package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mfreitas/musicgen-back/internal/domain"
	"github.com/mfreitas/musicgen-back/internal/queue"
)

const jobKeyPrefix = "job:"

// transitionScript performs the compare-and-set status change server-side,
// so concurrent claims and duplicate finalizes race inside Redis, not in
// application code.
//
// KEYS[1] job hash. ARGV: from, to, started_at, result JSON, error detail.
// Returns "ok", "conflict" or "missing".
var transitionScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "status")
if current == false then
  return "missing"
end
if current ~= ARGV[1] then
  return "conflict"
end
redis.call("HSET", KEYS[1], "status", ARGV[2])
if ARGV[3] ~= "" then
  redis.call("HSET", KEYS[1], "started_at", ARGV[3])
end
if ARGV[4] ~= "" then
  redis.call("HSET", KEYS[1], "result", ARGV[4])
end
if ARGV[5] ~= "" then
  redis.call("HSET", KEYS[1], "error_detail", ARGV[5])
end
return "ok"
`)

type RedisJobsConfig struct {
	// Stream is the queue stream appended to atomically with record
	// creation. Must match the stream consumed by workers.
	Stream string

	// RecordTTL bounds how long finished job metadata is retained. Expired
	// records read back as never existed.
	RecordTTL time.Duration
}

// RedisJobsRepository stores one hash per job and enqueues the job id onto
// the worker stream inside the same MULTI/EXEC pipeline that writes the
// record, so neither is observable without the other.
type RedisJobsRepository struct {
	client *redis.Client
	cfg    RedisJobsConfig
}

func NewRedisJobsRepository(ctx context.Context, client *redis.Client, cfg RedisJobsConfig) (*RedisJobsRepository, error) {
	if cfg.Stream == "" {
		cfg.Stream = "musicgen_jobs"
	}
	if cfg.RecordTTL <= 0 {
		cfg.RecordTTL = 7 * 24 * time.Hour
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Join(domain.ErrStoreUnavailable, fmt.Errorf("ping redis: %w", err))
	}
	return &RedisJobsRepository{client: client, cfg: cfg}, nil
}

func (r *RedisJobsRepository) Create(ctx context.Context, job *domain.Job) error {
	args, err := json.Marshal(job.Args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}

	key := jobKeyPrefix + job.ID
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"id":               job.ID,
			"status":           string(job.Status),
			"owner_session_id": job.OwnerSessionID,
			"args":             string(args),
			"created_at":       job.CreatedAt.Format(time.RFC3339Nano),
		})
		pipe.Expire(ctx, key, r.cfg.RecordTTL)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: r.cfg.Stream,
			Values: queue.StreamValues(job.ID, 0),
		})
		return nil
	})
	if err != nil {
		return errors.Join(domain.ErrStoreUnavailable, fmt.Errorf("create job: %w", err))
	}
	return nil
}

func (r *RedisJobsRepository) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	values, err := r.client.HGetAll(ctx, jobKeyPrefix+jobID).Result()
	if err != nil {
		return nil, errors.Join(domain.ErrStoreUnavailable, fmt.Errorf("fetch job: %w", err))
	}
	if len(values) == 0 {
		return nil, domain.ErrNotFound
	}
	return decodeJobHash(values)
}

func (r *RedisJobsRepository) Transition(
	ctx context.Context,
	jobID string,
	from, to domain.JobStatus,
	result *domain.JobResult,
	errorDetail string,
) error {
	if !domain.CanTransition(from, to) {
		return domain.ErrConflict
	}

	startedAt := ""
	if to == domain.JobStatusStarted {
		startedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	encodedResult := ""
	if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		encodedResult = string(encoded)
	}

	outcome, err := transitionScript.Run(
		ctx,
		r.client,
		[]string{jobKeyPrefix + jobID},
		string(from), string(to), startedAt, encodedResult, errorDetail,
	).Text()
	if err != nil {
		return errors.Join(domain.ErrStoreUnavailable, fmt.Errorf("transition job: %w", err))
	}

	switch outcome {
	case "ok":
		return nil
	case "conflict":
		return domain.ErrConflict
	case "missing":
		return domain.ErrNotFound
	default:
		return fmt.Errorf("transition job: unexpected outcome %q", outcome)
	}
}

func (r *RedisJobsRepository) Cancel(ctx context.Context, jobID string) error {
	return r.Transition(ctx, jobID, domain.JobStatusQueued, domain.JobStatusCanceled, nil, "")
}

func decodeJobHash(values map[string]string) (*domain.Job, error) {
	job := &domain.Job{
		ID:             values["id"],
		Status:         domain.JobStatus(values["status"]),
		OwnerSessionID: values["owner_session_id"],
		ErrorDetail:    values["error_detail"],
	}

	if raw := values["args"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &job.Args); err != nil {
			return nil, fmt.Errorf("decode args: %w", err)
		}
	}
	if raw := values["created_at"]; raw != "" {
		createdAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("decode created_at: %w", err)
		}
		job.CreatedAt = createdAt
	}
	if raw := values["started_at"]; raw != "" {
		startedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("decode started_at: %w", err)
		}
		job.StartedAt = &startedAt
	}
	if raw := values["result"]; raw != "" {
		var result domain.JobResult
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		job.Result = &result
	}
	return job, nil
}
