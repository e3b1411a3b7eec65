package domain

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusStarted  JobStatus = "started"
	JobStatusFinished JobStatus = "finished"
	JobStatusFailed   JobStatus = "failed"
	JobStatusCanceled JobStatus = "canceled"
)

// Terminal reports whether no further transition is defined from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusFinished, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// CanTransition encodes the job state machine:
// queued -> started -> finished|failed, plus queued -> canceled.
// A started job cannot be canceled: the in-flight generation call is
// never preempted.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusStarted || to == JobStatusCanceled
	case JobStatusStarted:
		return to == JobStatusFinished || to == JobStatusFailed
	}
	return false
}

// GenerationArgs are the immutable inputs of a generation job.
type GenerationArgs struct {
	Prompt   string `json:"prompt"`
	Duration int    `json:"duration"`
	Genre    string `json:"genre,omitempty"`
}

type StorageBackend string

const StorageBackendS3 StorageBackend = "s3"

// JobResult is populated exactly when a job reaches finished or failed.
type JobResult struct {
	LocalPath      string         `json:"local_path,omitempty"`
	StorageKey     string         `json:"storage_key,omitempty"`
	StorageBackend StorageBackend `json:"storage_backend,omitempty"`
	ErrorSummary   string         `json:"error_summary,omitempty"`
}

// Job is the canonical async unit moved between the API and workers.
// OwnerSessionID is set exactly once, at creation, and is the single
// authorization key for every subsequent operation on the job.
type Job struct {
	ID             string
	Status         JobStatus
	OwnerSessionID string
	Args           GenerationArgs
	CreatedAt      time.Time
	StartedAt      *time.Time
	Result         *JobResult
	ErrorDetail    string
}

// NewJobID returns a URL-safe, unguessable job identifier. Job ids double
// as capability-adjacent tokens in URLs, so they must not be enumerable.
func NewJobID() string {
	return randomToken(16)
}

// NewSessionToken returns an opaque session credential with at least
// 128 bits of entropy.
func NewSessionToken() string {
	return randomToken(32)
}

func randomToken(byteLen int) string {
	buf := make([]byte, byteLen)
	if _, err := rand.Read(buf); err != nil {
		// No meaningful fallback exists for credential material.
		panic("domain: crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
