// voltaudit-worker drives queued report tasks through the processing
// pipeline. On startup it re-queues tasks stranded in PROCESSING by a
// previous crash, then runs the configured number of consumers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voltaudit/voltaudit/pkg/audit"
	"github.com/voltaudit/voltaudit/pkg/broker"
	"github.com/voltaudit/voltaudit/pkg/config"
	"github.com/voltaudit/voltaudit/pkg/extraction"
	"github.com/voltaudit/voltaudit/pkg/objectstore"
	"github.com/voltaudit/voltaudit/pkg/pipeline"
	"github.com/voltaudit/voltaudit/pkg/storage"
	"github.com/voltaudit/voltaudit/pkg/validation"
)

// staleTaskAge is how long a task may sit in PROCESSING before startup
// recovery re-queues it.
const staleTaskAge = 30 * time.Minute

func main() {
	if err := run(); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "voltaudit-worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	zapLog, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = zapLog.Sync() }()
	logger := zapr.NewLogger(zapLog).WithName("voltaudit-worker")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return err
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	gateway, err := objectstore.New(ctx, objectstore.Options{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	}, logger)
	if err != nil {
		return err
	}

	queue := broker.New(redisClient, logger)
	provider := extraction.NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel, logger)
	client := extraction.NewClient(provider, logger)
	extractors := extraction.NewExtractors(client, logger)
	engine := validation.NewEngine(logger)
	auditLogger := audit.NewLogger(store.Audit, logger)

	pipe := pipeline.New(store, gateway, extractors, engine, auditLogger, cfg.DefaultProfile, logger)

	// Re-drive tasks stranded by a crashed worker.
	recovered, err := store.Tasks.RecoverStale(ctx, staleTaskAge)
	if err != nil {
		return err
	}
	for _, taskID := range recovered {
		if _, err := queue.Enqueue(ctx, pipeline.JobProcessReport, pipeline.ProcessArgs{TaskID: taskID}); err != nil {
			logger.Error(err, "failed to re-enqueue recovered task", "task_id", taskID)
		}
	}
	if len(recovered) > 0 {
		logger.Info("recovered stale tasks", "count", len(recovered))
	}

	logger.Info("worker starting", "concurrency", cfg.WorkerConcurrency)
	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := queue.Consume(ctx, pipeline.JobProcessReport, pipe.Handle, pipe.Terminal); err != nil && err != context.Canceled {
				logger.Error(err, "consumer exited")
			}
		}()
	}
	wg.Wait()

	logger.Info("worker stopped")
	return ctx.Err()
}
