package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/exchangeset/orchestrator/internal/client"
	"github.com/exchangeset/orchestrator/internal/config"
	"github.com/exchangeset/orchestrator/internal/model"
	"github.com/exchangeset/orchestrator/internal/queue"
	"github.com/exchangeset/orchestrator/internal/service"
	"github.com/exchangeset/orchestrator/internal/worker"
)

// scheduleQueue is the asynq queue the periodic job triggers travel on
const scheduleQueue = "scheduler"

// startMonitors runs one queue monitor per queue role
func startMonitors(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg *config.Config,
	log *zap.Logger,
	svc *service.ExchangeSetService,
	dispatcher *client.BuilderDispatcher,
	jobRequests queue.Queue,
	buildRequests, buildResponses map[model.DataStandard]queue.Queue,
) {
	batch, interval := cfg.Queues.BatchSize, cfg.Queues.PollInterval

	run := func(r interface{ Run(context.Context) }) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Run(ctx)
		}()
	}

	run(queue.NewMonitor[model.JobRequest](jobRequests, worker.NewJobRequestProcessor(svc, log), batch, interval, log))
	for _, std := range model.ValidDataStandards {
		run(queue.NewMonitor[model.BuildRequest](buildRequests[std], worker.NewBuildRequestProcessor(dispatcher, std, log), batch, interval, log))
		run(queue.NewMonitor[model.BuildResponse](buildResponses[std], worker.NewBuildResponseProcessor(svc, std, log), batch, interval, log))
	}
}

// startWorkerServer serves scheduler ticks and, when enabled, registers the
// per-standard cron entries.
func startWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, svc *service.ExchangeSetService, log *zap.Logger) (*asynq.Server, *asynq.Scheduler, error) {
	level := asynqLogLevel(cfg.Server.LogLevel)
	sugar := log.Named("asynq").Sugar()

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 2,
		Queues:      map[string]int{scheduleQueue: 1},
		Logger:      sugar,
		LogLevel:    level,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(worker.TaskTypeSchedule, worker.NewScheduleWorker(svc, log).ProcessTask)

	if err := srv.Start(mux); err != nil {
		return nil, nil, fmt.Errorf("failed to start worker server: %w", err)
	}

	if !cfg.Scheduler.Enabled {
		return srv, nil, nil
	}

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: sugar, LogLevel: level})
	for _, std := range model.ValidDataStandards {
		spec := cfg.Scheduler.Spec(std.String())
		if spec == "" {
			continue
		}
		task, err := worker.NewScheduleTask(std)
		if err != nil {
			srv.Shutdown()
			return nil, nil, err
		}
		entryID, err := scheduler.Register(spec, task, asynq.Queue(scheduleQueue))
		if err != nil {
			srv.Shutdown()
			return nil, nil, fmt.Errorf("failed to schedule %s: %w", std, err)
		}
		log.Info("scheduled data standard", zap.String("data_standard", std.String()), zap.String("spec", spec), zap.String("entry_id", entryID))
	}
	if err := scheduler.Start(); err != nil {
		srv.Shutdown()
		return nil, nil, fmt.Errorf("failed to start scheduler: %w", err)
	}
	return srv, scheduler, nil
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return asynq.DebugLevel
	case "warn":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	}
	return asynq.InfoLevel
}
