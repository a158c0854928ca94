package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/exchangeset/orchestrator/internal/auth"
	"github.com/exchangeset/orchestrator/internal/client"
	"github.com/exchangeset/orchestrator/internal/config"
	"github.com/exchangeset/orchestrator/internal/exchangeset"
	"github.com/exchangeset/orchestrator/internal/logging"
	"github.com/exchangeset/orchestrator/internal/model"
	"github.com/exchangeset/orchestrator/internal/pipeline"
	"github.com/exchangeset/orchestrator/internal/queue"
	"github.com/exchangeset/orchestrator/internal/repository"
	"github.com/exchangeset/orchestrator/internal/retry"
	"github.com/exchangeset/orchestrator/internal/server"
	"github.com/exchangeset/orchestrator/internal/service"
	ws "github.com/exchangeset/orchestrator/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Server.LogLevel, cfg.Server.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("orchestrator stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("redis not available", zap.Error(err))
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	stores, newQueue := backend(cfg, redisClient)
	jobRequests := newQueue(cfg.Queues.JobRequestQueue)
	buildRequests := make(map[model.DataStandard]queue.Queue)
	buildResponses := make(map[model.DataStandard]queue.Queue)
	for _, std := range model.ValidDataStandards {
		buildRequests[std] = newQueue(cfg.Queues.BuildRequestQueue(std.String()))
		buildResponses[std] = newQueue(cfg.Queues.BuildResponseQueue(std.String()))
	}

	policy := retry.NewPolicy(cfg.Retry.BaseDelay, cfg.Retry.MaxRetries, log)
	catalogue := client.NewCatalogueClient(&cfg.Catalogue, policy)
	if !catalogue.IsConfigured() {
		log.Warn("catalogue not configured")
	}
	batches, err := batchStore(cfg, policy)
	if err != nil {
		return err
	}
	dispatcher := client.NewBuilderDispatcher(asynqClient, cfg.Builder)

	hub := ws.NewHub(log)
	go hub.Run(ctx)

	factory, err := exchangeset.NewFactory(exchangeset.Dependencies{
		Stores:        stores,
		Catalogue:     catalogue,
		Batches:       batches,
		BuildRequests: buildRequests,
		Standards:     cfg.Standards,
		ManifestName:  cfg.FileShare.ManifestName,
		ExpiryPeriod:  cfg.FileShare.ExpiryPeriod,
		Notifier:      hub,
	}, pipeline.NewLogCollector(log), log)
	if err != nil {
		return fmt.Errorf("failed to build pipelines: %w", err)
	}
	svc := service.NewExchangeSetService(factory, stores, jobRequests, log)

	var wg sync.WaitGroup
	startMonitors(ctx, &wg, cfg, log, svc, dispatcher, jobRequests, buildRequests, buildResponses)

	srv, scheduler, err := startWorkerServer(cfg, redisOpt, svc, log)
	if err != nil {
		return err
	}

	verifier := tokenVerifier(cfg, log)
	defer verifier.Close()

	app := server.NewApp(server.Deps{
		Config:   cfg,
		Logger:   log,
		Service:  svc,
		Hub:      hub,
		Verifier: verifier,
		Redis:    redisClient,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.Port
		log.Info("server starting", zap.String("addr", addr))
		errCh <- app.Listen(addr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down server")
	case err = <-errCh:
		stop()
	}

	if serr := app.ShutdownWithTimeout(10 * time.Second); serr != nil {
		log.Error("server shutdown error", zap.Error(serr))
	}
	if scheduler != nil {
		scheduler.Shutdown()
	}
	srv.Shutdown()
	wg.Wait()
	log.Info("queue monitors drained")
	return err
}

// backend picks the storage and queue implementation shared by every component
func backend(cfg *config.Config, redisClient *redis.Client) (*repository.Stores, func(name string) queue.Queue) {
	if cfg.Queues.Backend == "memory" {
		return repository.NewMemoryStores(), func(name string) queue.Queue {
			return queue.NewMemoryQueue(name, cfg.Queues.VisibilityTimeout)
		}
	}
	return repository.NewRedisStores(redisClient, cfg.Redis.KeyPrefix), func(name string) queue.Queue {
		return queue.NewRedisQueue(redisClient, cfg.Redis.KeyPrefix, name, cfg.Queues.VisibilityTimeout)
	}
}

func batchStore(cfg *config.Config, policy *retry.Policy) (exchangeset.BatchStore, error) {
	if cfg.FileShare.Backend == "s3" {
		store, err := client.NewS3BatchStore(&cfg.S3, cfg.FileShare.BusinessUnit)
		if err != nil {
			return nil, fmt.Errorf("failed to initialise s3 batch store: %w", err)
		}
		return store, nil
	}
	return client.NewFileShareClient(&cfg.FileShare, policy), nil
}

func tokenVerifier(cfg *config.Config, log *zap.Logger) auth.Chain {
	var chain auth.Chain
	if cfg.OIDC.Issuer != "" {
		jwks, err := auth.NewJWKSVerifier(&cfg.OIDC)
		if err != nil {
			log.Warn("JWKS verifier not initialized", zap.Error(err))
		} else {
			chain = append(chain, jwks)
		}
	}
	if cfg.JWT.Secret != "" {
		chain = append(chain, auth.NewHMACVerifier(cfg.JWT.Secret))
	}
	return chain
}
