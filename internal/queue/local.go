package queue

import (
	"context"

	"github.com/rs/zerolog"
)

// LocalQueue is a channel-backed fallback used when Redis is not
// configured. It only works with an embedded worker in the same process.
type LocalQueue struct {
	ch     chan string
	logger zerolog.Logger
}

func NewLocalQueue(bufferSize int, logger zerolog.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	return &LocalQueue{
		ch:     make(chan string, bufferSize),
		logger: logger,
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, jobID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- jobID:
		return nil
	}
}

func (q *LocalQueue) Consume(ctx context.Context, handler func(context.Context, string) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case jobID := <-q.ch:
			if err := handler(ctx, jobID); err != nil {
				// The record store keeps the authoritative job state;
				// a handler error here has nothing left to retry against.
				q.logger.Error().Err(err).Str("job_id", jobID).Msg("local queue handler failed")
			}
		}
	}
}
