package queue

import "context"

// Producer makes a queued job visible to workers. Messages carry only the
// job id; the record itself lives in the job repository.
type Producer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Consumer delivers queued job ids to a handler. Delivery exclusivity is
// best-effort at this layer; the repository's compare-and-set claim is the
// authoritative guard against double execution.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, string) error) error
}
