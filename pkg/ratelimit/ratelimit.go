// Package ratelimit implements a Redis-backed fixed-window request limiter
// keyed by caller identity. The window is one minute; buckets expire on
// their own. The limiter fails open: if Redis is unreachable, requests
// proceed.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one limiter check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per identity per minute bucket.
type Limiter struct {
	client  *redis.Client
	limit   int
	enabled bool
	logger  logr.Logger
}

// New builds a limiter with the given per-minute cap.
func New(client *redis.Client, limit int, enabled bool, logger logr.Logger) *Limiter {
	return &Limiter{
		client:  client,
		limit:   limit,
		enabled: enabled,
		logger:  logger.WithName("ratelimit"),
	}
}

// Allow records one request for identity and reports whether it is within
// the cap for the current minute bucket.
func (l *Limiter) Allow(ctx context.Context, identity string) Decision {
	resetAt := time.Now().Truncate(time.Minute).Add(time.Minute)
	if !l.enabled {
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit, ResetAt: resetAt}
	}

	bucket := fmt.Sprintf("voltaudit:ratelimit:%s:%d", identity, time.Now().Unix()/60)

	count, err := l.client.Incr(ctx, bucket).Result()
	if err != nil {
		// Fail open: an unreachable limiter store must not block traffic.
		l.logger.Error(err, "rate limiter backing store unreachable, allowing request")
		return Decision{Allowed: true, Limit: l.limit, Remaining: 0, ResetAt: resetAt}
	}
	if count == 1 {
		// First hit in the bucket sets the TTL; 2x window covers clock skew.
		l.client.Expire(ctx, bucket, 2*time.Minute)
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   int(count) <= l.limit,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
