package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/mfreitas/musicgen-back/internal/domain"
	"github.com/mfreitas/musicgen-back/internal/metrics"
	"github.com/mfreitas/musicgen-back/internal/ratelimit"
	"github.com/mfreitas/musicgen-back/internal/repository"
	"github.com/mfreitas/musicgen-back/internal/storage"
)

const (
	maxPromptLength = 500

	// genericFailureMessage is what clients see for any failed job. The
	// raw error detail stays on the record for operators only.
	genericFailureMessage = "Generation failed"
)

var allowedDurations = map[int]bool{30: true, 60: true, 120: true}

// GenerationService is the orchestration façade behind the HTTP handlers:
// submit, query, cancel, resolve. Every entry point re-checks ownership
// against the freshly fetched record; no authorization decision is cached.
type GenerationService struct {
	repo       repository.JobsRepository
	limiter    ratelimit.Limiter
	store      storage.ObjectStore
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	presignTTL time.Duration
}

type GenerationDependencies struct {
	Repo       repository.JobsRepository
	Limiter    ratelimit.Limiter
	Store      storage.ObjectStore
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
	PresignTTL time.Duration
}

func NewGenerationService(deps GenerationDependencies) *GenerationService {
	if deps.PresignTTL <= 0 {
		deps.PresignTTL = time.Hour
	}
	return &GenerationService{
		repo:       deps.Repo,
		limiter:    deps.Limiter,
		store:      deps.Store,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		presignTTL: deps.PresignTTL,
	}
}

// JobView is the client-facing projection of a job record. It never
// carries the owner token or the raw error detail.
type JobView struct {
	JobID     string     `json:"job_id"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Error     string     `json:"error,omitempty"`
	AudioURL  string     `json:"audio_url,omitempty"`
}

// ValidateArgs normalizes and checks submission arguments before any
// state mutation.
func ValidateArgs(args domain.GenerationArgs) (domain.GenerationArgs, error) {
	args.Prompt = strings.TrimSpace(args.Prompt)
	if args.Prompt == "" {
		return args, fmt.Errorf("%w: prompt must not be empty or whitespace-only", domain.ErrValidation)
	}
	// Characters, not bytes: multibyte prompts must not hit the cap early.
	if utf8.RuneCountInString(args.Prompt) > maxPromptLength {
		return args, fmt.Errorf("%w: prompt exceeds %d characters", domain.ErrValidation, maxPromptLength)
	}
	if args.Duration == 0 {
		args.Duration = 60
	}
	if !allowedDurations[args.Duration] {
		return args, fmt.Errorf("%w: duration must be one of 30, 60 or 120", domain.ErrValidation)
	}
	args.Genre = strings.TrimSpace(args.Genre)
	return args, nil
}

// Submit validates args, applies admission control keyed by clientKey
// (network origin, so clearing cookies cannot bypass the quota) and
// creates the job owned by principal.
func (s *GenerationService) Submit(
	ctx context.Context,
	args domain.GenerationArgs,
	principal string,
	clientKey string,
) (*domain.Job, error) {
	validated, err := ValidateArgs(args)
	if err != nil {
		return nil, err
	}

	allowed, limiterErr := s.limiter.Allow(ctx, clientKey)
	if limiterErr != nil {
		s.logger.Warn().Err(limiterErr).Str("client", clientKey).Msg("admission check degraded")
	}
	if !allowed {
		if s.metrics != nil {
			s.metrics.RateLimitedTotal.Inc()
		}
		return nil, domain.ErrRateLimited
	}

	job := &domain.Job{
		ID:             domain.NewJobID(),
		Status:         domain.JobStatusQueued,
		OwnerSessionID: principal,
		Args:           validated,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SubmissionsTotal.Inc()
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Int("duration", validated.Duration).
		Msg("job submitted")
	return job, nil
}

// GetStatus returns the client view of a job after the ownership check.
// An absent principal never matches any owner.
func (s *GenerationService) GetStatus(ctx context.Context, jobID, principal string) (*JobView, error) {
	job, err := s.authorizedFetch(ctx, jobID, principal)
	if err != nil {
		return nil, err
	}

	view := &JobView{
		JobID:     job.ID,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt,
		StartedAt: job.StartedAt,
	}
	if job.Status == domain.JobStatusFailed {
		view.Error = genericFailureMessage
	}
	if job.Status == domain.JobStatusFinished && job.Result != nil &&
		(job.Result.StorageKey != "" || job.Result.LocalPath != "") {
		view.AudioURL = "/api/audio/" + job.ID
	}
	return view, nil
}

// Cancel rejects anything past the queued state: an in-flight generation
// call cannot be safely preempted, so cancellation is admission-time only.
func (s *GenerationService) Cancel(ctx context.Context, jobID, principal string) error {
	if _, err := s.authorizedFetch(ctx, jobID, principal); err != nil {
		return err
	}
	if err := s.repo.Cancel(ctx, jobID); err != nil {
		return err
	}
	s.logger.Info().Str("job_id", jobID).Msg("job canceled")
	return nil
}

func (s *GenerationService) authorizedFetch(ctx context.Context, jobID, principal string) (*domain.Job, error) {
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if principal == "" || job.OwnerSessionID != principal {
		s.logger.Warn().
			Str("job_id", jobID).
			Bool("credential_presented", principal != "").
			Msg("job access denied")
		return nil, domain.ErrForbidden
	}
	return job, nil
}
