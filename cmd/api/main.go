package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/answerdesk/answerdesk-back/internal/batch"
	"github.com/answerdesk/answerdesk-back/internal/cache"
	"github.com/answerdesk/answerdesk-back/internal/config"
	httpserver "github.com/answerdesk/answerdesk-back/internal/http"
	"github.com/answerdesk/answerdesk-back/internal/http/handlers"
	"github.com/answerdesk/answerdesk-back/internal/inference"
	"github.com/answerdesk/answerdesk-back/internal/queue"
	"github.com/answerdesk/answerdesk-back/internal/repository"
	"github.com/answerdesk/answerdesk-back/internal/scoring"
	"github.com/answerdesk/answerdesk-back/internal/service"
	"github.com/answerdesk/answerdesk-back/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[qa-back] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, repoCloser := setupRepository(ctx, cfg, logger)
	defer repoCloser()

	producer, consumer, queueCloser := setupQueue(ctx, cfg, logger)
	defer queueCloser()

	client := inference.NewClient(inference.ClientConfig{
		APIKey:     cfg.InferenceAPIKey,
		BaseURL:    cfg.InferenceBaseURL,
		Timeout:    time.Duration(cfg.InferenceTimeoutMS) * time.Millisecond,
		MaxRetries: cfg.InferenceMaxRetries,
	})
	answers := inference.NewService(client)
	processor := batch.NewProcessor(repo, answers, logger)

	matchCache := cache.NewMatchCache(cache.Config{
		TTL:        time.Duration(cfg.MatchCacheTTLSeconds) * time.Second,
		MaxEntries: cfg.MatchCacheMaxEntries,
	})
	matcher := scoring.NewMatcher(client, matchCache)

	pool, err := ants.NewPool(cfg.RunPoolSize, ants.WithNonblocking(true))
	if err != nil {
		logger.Fatalf("failed to create run pool: %v", err)
	}
	defer pool.Release()

	jobsService := service.NewJobsService(service.JobsServiceDependencies{
		Repo:      repo,
		Producer:  producer,
		Processor: processor,
		Pool:      pool,
		RunCtx:    ctx,
		Logger:    logger,
	})
	skillsService := service.NewSkillsService(repo, matcher)
	api := handlers.NewAPI(jobsService, skillsService, handlers.APIConfig{
		ContextWindowTokens: cfg.ContextWindowTokens,
		SystemPromptTokens:  cfg.SystemPromptTokens,
		DefaultBatchSize:    cfg.DefaultBatchSize,
	})

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	if cfg.WorkerEnabled && consumer != nil {
		runWorker := worker.NewProcessor(consumer, processor, logger)
		go runWorker.Start(ctx)
		logger.Printf("worker enabled and started")
	} else if consumer == nil {
		logger.Printf("no queue configured, worker not started")
	} else {
		logger.Printf("worker disabled by configuration")
	}

	reconciler := batch.NewReconciler(
		repo,
		time.Duration(cfg.StaleJobAfterSeconds)*time.Second,
		time.Duration(cfg.ReconcileIntervalSeconds)*time.Second,
		logger,
	)
	go reconciler.Start(ctx)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func setupRepository(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (repository.JobsRepository, func()) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not configured, using in-memory repository")
		return repository.NewMemoryJobsRepository(), func() {}
	}

	pgRepo, err := repository.NewPostgresJobsRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to initialize postgres repository, fallback to memory: %v", err)
		return repository.NewMemoryJobsRepository(), func() {}
	}
	logger.Printf("postgres repository initialized")
	return pgRepo, func() {
		pgRepo.Close()
	}
}

func setupQueue(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (queue.Producer, queue.Consumer, func()) {
	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, runs execute on the in-process pool")
		return nil, nil, func() {}
	}

	streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		Stream:      cfg.RedisStream,
		DLQStream:   cfg.RedisDLQ,
		Group:       cfg.RedisGroup,
		Consumer:    cfg.RedisConsumer,
		MaxAttempts: cfg.RedisMaxAttempts,
	})
	if err != nil {
		logger.Printf("failed to initialize redis streams queue, fallback to local: %v", err)
		local := queue.NewLocalQueue(512, cfg.RedisMaxAttempts, logger)
		return local, local, func() {}
	}

	logger.Printf("redis streams queue initialized")
	return streams, streams, func() {
		_ = streams.Close()
	}
}
