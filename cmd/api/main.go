package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mfreitas/musicgen-back/internal/config"
	httpserver "github.com/mfreitas/musicgen-back/internal/http"
	"github.com/mfreitas/musicgen-back/internal/http/handlers"
	"github.com/mfreitas/musicgen-back/internal/infra"
	"github.com/mfreitas/musicgen-back/internal/metrics"
	"github.com/mfreitas/musicgen-back/internal/queue"
	"github.com/mfreitas/musicgen-back/internal/ratelimit"
	"github.com/mfreitas/musicgen-back/internal/repository"
	"github.com/mfreitas/musicgen-back/internal/service"
	"github.com/mfreitas/musicgen-back/internal/session"
	"github.com/mfreitas/musicgen-back/internal/storage"
	"github.com/mfreitas/musicgen-back/internal/synth"
	"github.com/mfreitas/musicgen-back/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	repo, consumer, limiter, closer := setupBackends(ctx, cfg, logger)
	defer closer()

	store := setupStorage(cfg, logger)

	generation := service.NewGenerationService(service.GenerationDependencies{
		Repo:       repo,
		Limiter:    limiter,
		Store:      store,
		Metrics:    m,
		Logger:     logger,
		PresignTTL: time.Duration(cfg.PresignTTLMinutes) * time.Minute,
	})

	sessions := session.NewManager(cfg.CookieSecure)
	api := handlers.NewAPI(generation, sessions)

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		MetricsHandler: m.Handler(),
		Logger:         logger,
		CORSOrigins:    cfg.CORSOrigins,
	})

	if cfg.WorkerEnabled {
		processor := worker.NewProcessor(
			consumer,
			repo,
			setupGenerator(cfg, logger),
			store,
			m,
			logger,
			worker.Config{
				ScratchDir:       cfg.WorkerScratchDir,
				ExecutionTimeout: time.Duration(cfg.SynthTimeoutSec) * time.Second,
			},
		)
		go processor.Start(ctx)
		logger.Info().Msg("embedded worker started")
	} else {
		logger.Info().Msg("embedded worker disabled, expecting external worker processes")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("api listening")
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// setupBackends builds the job repository, worker consumer and admission
// limiter along the fallback chain: Redis, Postgres records with a local
// queue, or fully in-memory.
func setupBackends(
	ctx context.Context,
	cfg config.Config,
	logger zerolog.Logger,
) (repository.JobsRepository, queue.Consumer, ratelimit.Limiter, func()) {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		streams, err := queue.NewStreamsQueue(ctx, client, queue.StreamsConfig{
			Stream:    cfg.RedisStream,
			DLQStream: cfg.RedisDLQ,
			Group:     cfg.RedisGroup,
			Consumer:  cfg.RedisConsumer,
		}, logger)
		if err == nil {
			if cfg.DatabaseURL != "" {
				pgRepo, pgErr := repository.NewPostgresJobsRepository(ctx, cfg.DatabaseURL, streams)
				if pgErr == nil {
					logger.Info().Msg("postgres records with redis streams queue")
					limiter := ratelimit.NewRedisLimiter(client, cfg.RateLimitPerMinute, time.Minute, logger)
					return pgRepo, streams, limiter, func() {
						pgRepo.Close()
						_ = client.Close()
					}
				}
				logger.Error().Err(pgErr).Msg("postgres unavailable, falling back to redis records")
			}

			redisRepo, repoErr := repository.NewRedisJobsRepository(ctx, client, repository.RedisJobsConfig{
				Stream:    streams.Stream(),
				RecordTTL: time.Duration(cfg.JobRecordTTLHours) * time.Hour,
			})
			if repoErr == nil {
				logger.Info().Msg("redis job repository and streams queue initialized")
				limiter := ratelimit.NewRedisLimiter(client, cfg.RateLimitPerMinute, time.Minute, logger)
				return redisRepo, streams, limiter, func() { _ = client.Close() }
			}
			logger.Error().Err(repoErr).Msg("redis repository unavailable, falling back to memory")
		} else {
			logger.Error().Err(err).Msg("redis streams unavailable, falling back to memory")
		}
		_ = client.Close()
	} else {
		logger.Warn().Msg("REDIS_ADDR not configured, using in-process queue and repository")
	}

	local := queue.NewLocalQueue(512, logger)
	repo := repository.NewMemoryJobsRepository(local)
	limiter := ratelimit.NewMemoryLimiter(cfg.RateLimitPerMinute)
	return repo, local, limiter, func() {}
}

func setupStorage(cfg config.Config, logger zerolog.Logger) storage.ObjectStore {
	if !cfg.StorageConfigured() {
		logger.Warn().Msg("object storage not configured, result delivery degrades to local files")
		return storage.DisabledStore{}
	}

	store, err := storage.NewS3Store(storage.S3Config{
		Endpoint:  cfg.StorageEndpoint,
		AccessKey: cfg.StorageAccessKey,
		SecretKey: cfg.StorageSecretKey,
		Bucket:    cfg.StorageBucket,
		Region:    cfg.StorageRegion,
		UseSSL:    cfg.StorageUseSSL,
	})
	if err != nil {
		logger.Error().Err(err).Msg("object storage client failed, continuing without durable storage")
		return storage.DisabledStore{}
	}
	logger.Info().Str("bucket", cfg.StorageBucket).Msg("object storage initialized")
	return store
}

func setupGenerator(cfg config.Config, logger zerolog.Logger) synth.Generator {
	if cfg.SynthBaseURL == "" {
		logger.Warn().Msg("SYNTH_BASE_URL not configured, using stub generator")
		return synth.NewStubGenerator()
	}
	return synth.NewHTTPGenerator(synth.HTTPGeneratorConfig{
		BaseURL:    cfg.SynthBaseURL,
		APIToken:   cfg.SynthAPIToken,
		Timeout:    time.Duration(cfg.SynthTimeoutSec) * time.Second,
		MaxRetries: cfg.SynthMaxRetries,
	})
}
