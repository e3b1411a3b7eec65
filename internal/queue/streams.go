package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type StreamsConfig struct {
	Stream      string
	DLQStream   string
	Group       string
	Consumer    string
	MaxAttempts int
}

func (cfg *StreamsConfig) applyDefaults() {
	if cfg.Stream == "" {
		cfg.Stream = "musicgen_jobs"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = "musicgen_jobs_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "musicgen_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
}

// StreamValues is the wire format of one queue entry. Shared with the
// Redis jobs repository, which appends to the stream inside the same
// transaction that creates the job record.
func StreamValues(jobID string, attempt int) map[string]any {
	return map[string]any{
		"job_id":      jobID,
		"attempt":     attempt,
		"enqueued_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// StreamsQueue implements Producer+Consumer on Redis Streams with a
// consumer group, so each entry is delivered to a single consumer.
type StreamsQueue struct {
	client *redis.Client
	cfg    StreamsConfig
	logger zerolog.Logger
}

func NewStreamsQueue(ctx context.Context, client *redis.Client, cfg StreamsConfig, logger zerolog.Logger) (*StreamsQueue, error) {
	cfg.applyDefaults()
	q := &StreamsQueue{client: client, cfg: cfg, logger: logger}
	if err := q.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *StreamsQueue) Stream() string { return q.cfg.Stream }

func (q *StreamsQueue) Enqueue(ctx context.Context, jobID string) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: StreamValues(jobID, 0),
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) Consume(ctx context.Context, handler func(context.Context, string) error) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			Streams:  []string{q.cfg.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				jobID, attempt, parseErr := parseStreamEntry(item)
				if parseErr != nil {
					q.moveToDLQ(ctx, item, parseErr.Error())
					q.ackAndDelete(ctx, item.ID)
					continue
				}

				handleErr := handler(ctx, jobID)
				if handleErr == nil {
					q.ackAndDelete(ctx, item.ID)
					continue
				}

				attempt++
				if attempt >= q.cfg.MaxAttempts {
					q.moveToDLQ(ctx, item, handleErr.Error())
					q.ackAndDelete(ctx, item.ID)
					continue
				}

				requeueErr := q.client.XAdd(ctx, &redis.XAddArgs{
					Stream: q.cfg.Stream,
					Values: StreamValues(jobID, attempt),
				}).Err()
				if requeueErr != nil {
					q.moveToDLQ(ctx, item, fmt.Sprintf("requeue failed: %v", requeueErr))
				}
				q.ackAndDelete(ctx, item.ID)
			}
		}
	}
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "$").Err()
	if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) ackAndDelete(ctx context.Context, streamID string) {
	if err := q.client.XAck(ctx, q.cfg.Stream, q.cfg.Group, streamID).Err(); err != nil {
		q.logger.Warn().Err(err).Str("stream_id", streamID).Msg("xack failed")
		return
	}
	if err := q.client.XDel(ctx, q.cfg.Stream, streamID).Err(); err != nil {
		q.logger.Warn().Err(err).Str("stream_id", streamID).Msg("xdel failed")
	}
}

func (q *StreamsQueue) moveToDLQ(ctx context.Context, item redis.XMessage, reason string) {
	values := map[string]any{
		"stream_id": item.ID,
		"error":     reason,
		"moved_at":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	for key, value := range item.Values {
		values[key] = value
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.cfg.DLQStream, Values: values}).Err(); err != nil {
		q.logger.Error().Err(err).Str("stream_id", item.ID).Msg("dead-letter move failed")
	}
}

func parseStreamEntry(item redis.XMessage) (jobID string, attempt int, err error) {
	rawID, ok := item.Values["job_id"]
	if !ok {
		return "", 0, errors.New("missing field job_id")
	}
	jobID = fmt.Sprintf("%v", rawID)
	if strings.TrimSpace(jobID) == "" {
		return "", 0, errors.New("empty job_id")
	}

	if rawAttempt, ok := item.Values["attempt"]; ok {
		parsed, parseErr := strconv.Atoi(fmt.Sprintf("%v", rawAttempt))
		if parseErr != nil {
			return "", 0, fmt.Errorf("invalid attempt: %w", parseErr)
		}
		attempt = parsed
	}
	return jobID, attempt, nil
}
