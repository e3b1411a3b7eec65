package service

import (
	"context"
	"os"

	"github.com/mfreitas/musicgen-back/internal/domain"
)

// ResultLocation tells the handler how to deliver a finished job's audio:
// redirect to durable storage, or stream a local file.
type ResultLocation struct {
	RedirectURL string
	LocalPath   string
}

// ResolveResult maps a finished job to a deliverable location. Durable
// storage wins whenever a presigned URL can be produced: it is the only
// path that works when API and worker fleets scale independently. The
// local file is a single-node fallback, valid only when this process can
// actually reach the worker's scratch path.
func (s *GenerationService) ResolveResult(ctx context.Context, jobID, principal string) (*ResultLocation, error) {
	job, err := s.authorizedFetch(ctx, jobID, principal)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusFinished {
		return nil, domain.ErrNotReady
	}
	if job.Result == nil {
		return nil, domain.ErrMissingArtifact
	}

	if job.Result.StorageKey != "" && s.store.Enabled() {
		url, presignErr := s.store.PresignedURL(ctx, job.Result.StorageKey, s.presignTTL)
		if presignErr == nil {
			return &ResultLocation{RedirectURL: url}, nil
		}
		s.logger.Warn().Err(presignErr).
			Str("job_id", job.ID).
			Str("storage_key", job.Result.StorageKey).
			Msg("presign failed, trying local artifact")
	}

	if job.Result.LocalPath != "" {
		if _, statErr := os.Stat(job.Result.LocalPath); statErr == nil {
			return &ResultLocation{LocalPath: job.Result.LocalPath}, nil
		}
	}

	return nil, domain.ErrMissingArtifact
}
