// The worker binary runs a standalone consumer pool against the shared
// Redis queue, for deployments where inference capacity scales
// independently of the API.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/mfreitas/musicgen-back/internal/config"
	"github.com/mfreitas/musicgen-back/internal/infra"
	"github.com/mfreitas/musicgen-back/internal/metrics"
	"github.com/mfreitas/musicgen-back/internal/queue"
	"github.com/mfreitas/musicgen-back/internal/repository"
	"github.com/mfreitas/musicgen-back/internal/storage"
	"github.com/mfreitas/musicgen-back/internal/synth"
	"github.com/mfreitas/musicgen-back/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := infra.NewLogger(cfg.AppEnv)

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("REDIS_ADDR is required for the standalone worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer client.Close()

	streams, err := queue.NewStreamsQueue(ctx, client, queue.StreamsConfig{
		Stream:    cfg.RedisStream,
		DLQStream: cfg.RedisDLQ,
		Group:     cfg.RedisGroup,
		Consumer:  cfg.RedisConsumer,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis streams queue unavailable")
	}

	var repo repository.JobsRepository
	if cfg.DatabaseURL != "" {
		pgRepo, pgErr := repository.NewPostgresJobsRepository(ctx, cfg.DatabaseURL, streams)
		if pgErr != nil {
			logger.Fatal().Err(pgErr).Msg("postgres repository unavailable")
		}
		defer pgRepo.Close()
		repo = pgRepo
	} else {
		redisRepo, repoErr := repository.NewRedisJobsRepository(ctx, client, repository.RedisJobsConfig{
			Stream:    streams.Stream(),
			RecordTTL: time.Duration(cfg.JobRecordTTLHours) * time.Hour,
		})
		if repoErr != nil {
			logger.Fatal().Err(repoErr).Msg("redis repository unavailable")
		}
		repo = redisRepo
	}

	var store storage.ObjectStore = storage.DisabledStore{}
	if cfg.StorageConfigured() {
		s3Store, storeErr := storage.NewS3Store(storage.S3Config{
			Endpoint:  cfg.StorageEndpoint,
			AccessKey: cfg.StorageAccessKey,
			SecretKey: cfg.StorageSecretKey,
			Bucket:    cfg.StorageBucket,
			Region:    cfg.StorageRegion,
			UseSSL:    cfg.StorageUseSSL,
		})
		if storeErr != nil {
			logger.Error().Err(storeErr).Msg("object storage client failed, continuing without durable storage")
		} else {
			store = s3Store
		}
	}

	var generator synth.Generator
	if cfg.SynthBaseURL == "" {
		logger.Warn().Msg("SYNTH_BASE_URL not configured, using stub generator")
		generator = synth.NewStubGenerator()
	} else {
		generator = synth.NewHTTPGenerator(synth.HTTPGeneratorConfig{
			BaseURL:    cfg.SynthBaseURL,
			APIToken:   cfg.SynthAPIToken,
			Timeout:    time.Duration(cfg.SynthTimeoutSec) * time.Second,
			MaxRetries: cfg.SynthMaxRetries,
		})
	}

	processor := worker.NewProcessor(streams, repo, generator, store, metrics.New(), logger, worker.Config{
		ScratchDir:       cfg.WorkerScratchDir,
		ExecutionTimeout: time.Duration(cfg.SynthTimeoutSec) * time.Second,
	})

	logger.Info().Str("consumer", cfg.RedisConsumer).Msg("worker consuming")
	processor.Start(ctx)

	logger.Info().Msg("worker stopped")
}
