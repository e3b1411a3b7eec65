package domain

import "errors"

// Failure classes shared across the orchestration core. Handlers map these
// to HTTP status codes; everything else surfaces as an internal error.
var (
	// ErrValidation marks a malformed submission, rejected before any
	// state mutation.
	ErrValidation = errors.New("invalid generation request")

	// ErrRateLimited marks a submission rejected by admission control,
	// before any state mutation.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrNotFound covers unknown job ids and records expired by the store;
	// callers must treat both identically.
	ErrNotFound = errors.New("job not found")

	// ErrForbidden is returned when the presented session token does not
	// match the job owner, including when no token was presented at all.
	ErrForbidden = errors.New("session does not own this job")

	// ErrConflict marks a valid operation against an invalid current
	// state: a lost claim race, cancel-after-start, double finalize.
	ErrConflict = errors.New("job state conflict")

	// ErrNotReady is returned when a result is requested before the job
	// reached a terminal state.
	ErrNotReady = errors.New("job not finished")

	// ErrMissingArtifact means the job finished but no deliverable audio
	// is reachable from this process.
	ErrMissingArtifact = errors.New("audio artifact missing")

	// ErrStoreUnavailable means the shared queue/record store is
	// unreachable. Fatal to the operation in progress, never retried here.
	ErrStoreUnavailable = errors.New("job store unavailable")
)
