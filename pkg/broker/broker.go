// Package broker is a Redis-backed job queue with at-least-once delivery.
// Ready jobs live on a list consumed with blocking pops; retries are parked
// on a sorted set scored by their ready time and promoted by the consumer
// loop. Handlers must be idempotent on their arguments; orchestration uses
// the task status as the idempotency key.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/voltaudit/voltaudit/pkg/models"
)

const (
	// MaxAttempts is the delivery cap per job, initial attempt included.
	MaxAttempts = 3

	// MaxJobAge is the age past which a job is abandoned as permanently
	// failed even if attempts remain.
	MaxJobAge = 24 * time.Hour

	initialBackoff = 1 * time.Second
	maxBackoff     = 5 * time.Minute

	popTimeout = 5 * time.Second
)

// Job is the unit of dispatch.
type Job struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	Args       json.RawMessage `json:"args"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Handler processes one job delivery. A returned error schedules a retry.
type Handler func(ctx context.Context, job Job) error

// TerminalFunc is invoked once when a job is abandoned after its last
// attempt or past its age limit.
type TerminalFunc func(ctx context.Context, job Job, lastErr error)

// Broker enqueues and dispatches jobs over Redis.
type Broker struct {
	client *redis.Client
	logger logr.Logger
}

// New builds a broker over an existing Redis client.
func New(client *redis.Client, logger logr.Logger) *Broker {
	return &Broker{client: client, logger: logger.WithName("broker")}
}

func readyKey(name string) string   { return "voltaudit:jobs:" + name }
func delayedKey(name string) string { return "voltaudit:jobs:" + name + ":delayed" }

// Enqueue pushes a new job onto the ready queue.
func (b *Broker) Enqueue(ctx context.Context, name string, args interface{}) (uuid.UUID, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return uuid.Nil, models.Wrap(models.KindInternal, "TASK_500", "failed to encode job args", err)
	}

	job := Job{
		ID:         uuid.New(),
		Name:       name,
		Args:       raw,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return uuid.Nil, models.Wrap(models.KindInternal, "TASK_500", "failed to encode job", err)
	}

	if err := b.client.LPush(ctx, readyKey(name), payload).Err(); err != nil {
		return uuid.Nil, models.Wrap(models.KindExternal, "TASK_503", "job enqueue failed", err)
	}

	b.logger.V(1).Info("job enqueued", "job_id", job.ID, "job_name", name)
	return job.ID, nil
}

// Consume runs the dispatch loop until ctx is cancelled. Each iteration
// promotes due retries and then blocks on the ready queue.
func (b *Broker) Consume(ctx context.Context, name string, handler Handler, terminal TerminalFunc) error {
	b.logger.Info("consuming jobs", "job_name", name)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := b.promoteDue(ctx, name); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error(err, "failed to promote delayed jobs", "job_name", name)
		}

		res, err := b.client.BRPop(ctx, popTimeout, readyKey(name)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Error(err, "failed to pop job", "job_name", name)
			time.Sleep(time.Second)
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			b.logger.Error(err, "discarding undecodable job payload", "job_name", name)
			continue
		}

		b.dispatch(ctx, job, handler, terminal)
	}
}

func (b *Broker) dispatch(ctx context.Context, job Job, handler Handler, terminal TerminalFunc) {
	if age := time.Since(job.EnqueuedAt); age > MaxJobAge {
		b.logger.Info("abandoning job past age limit",
			"job_id", job.ID, "age", age.String())
		terminal(ctx, job, fmt.Errorf("job exceeded %s age limit", MaxJobAge))
		return
	}

	err := handler(ctx, job)
	if err == nil {
		return
	}

	if job.Attempt >= MaxAttempts {
		b.logger.Info("job failed permanently",
			"job_id", job.ID, "attempts", job.Attempt, "error", err.Error())
		terminal(ctx, job, err)
		return
	}

	delay := Backoff(job.Attempt)
	job.Attempt++
	b.logger.Info("job failed, scheduling retry",
		"job_id", job.ID, "attempt", job.Attempt, "delay", delay.String(), "error", err.Error())

	if retryErr := b.park(ctx, job, delay); retryErr != nil {
		b.logger.Error(retryErr, "failed to park retry, abandoning job", "job_id", job.ID)
		terminal(ctx, job, err)
	}
}

// Backoff returns the delay before the attempt following `attempt`:
// 1s after the first failure, doubling, capped at 5 minutes.
func Backoff(attempt int) time.Duration {
	d := initialBackoff << (attempt - 1)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

func (b *Broker) park(ctx context.Context, job Job, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode retry payload: %w", err)
	}
	readyAt := float64(time.Now().Add(delay).UnixMilli())
	return b.client.ZAdd(ctx, delayedKey(job.Name), redis.Z{Score: readyAt, Member: payload}).Err()
}

// promoteDue moves retries whose delay has elapsed back onto the ready queue.
func (b *Broker) promoteDue(ctx context.Context, name string) error {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	due, err := b.client.ZRangeByScore(ctx, delayedKey(name), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return err
	}
	for _, member := range due {
		removed, err := b.client.ZRem(ctx, delayedKey(name), member).Result()
		if err != nil {
			return err
		}
		// Another consumer promoted it first.
		if removed == 0 {
			continue
		}
		if err := b.client.LPush(ctx, readyKey(name), member).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Ping reports broker backing-store reachability for readiness probes.
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
