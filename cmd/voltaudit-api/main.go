// voltaudit-api is the HTTP front end: ingestion, task status, review
// workflow and operational endpoints.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/zapr"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voltaudit/voltaudit/pkg/auth"
	"github.com/voltaudit/voltaudit/pkg/broker"
	"github.com/voltaudit/voltaudit/pkg/config"
	"github.com/voltaudit/voltaudit/pkg/objectstore"
	"github.com/voltaudit/voltaudit/pkg/ratelimit"
	"github.com/voltaudit/voltaudit/pkg/server"
	"github.com/voltaudit/voltaudit/pkg/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "voltaudit-api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	zapLog, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = zapLog.Sync() }()
	logger := zapr.NewLogger(zapLog).WithName("voltaudit-api")

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
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTExpiry)
	limiter := ratelimit.New(redisClient, cfg.RateLimitPerMinute, cfg.RateLimitEnabled, logger)

	srv := server.New(cfg, store, gateway, queue, tokens, limiter, logger)
	return srv.Run(ctx)
}
