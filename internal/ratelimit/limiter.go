// Package ratelimit is a fixed-window request counter shared by every API
// and worker process through Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deckforge/api/internal/model"
)

// Result describes the window after a counted request.
type Result struct {
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

type Limiter struct {
	redis *redis.Client
}

func New(redisClient *redis.Client) *Limiter {
	return &Limiter{redis: redisClient}
}

// Allow counts one request for key in scope. When the quota for the current
// window is spent it returns a *model.RateLimitError carrying the time until
// the window resets.
func (l *Limiter) Allow(ctx context.Context, scope, key string, limit int, window time.Duration) (*Result, error) {
	redisKey := fmt.Sprintf("ratelimit:%s:%s", scope, key)

	count, err := l.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit counter: %w", err)
	}

	// The first request opens the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, redisKey, window).Err(); err != nil {
			return nil, fmt.Errorf("rate limit window: %w", err)
		}
	}

	reset, err := l.redis.TTL(ctx, redisKey).Result()
	if err != nil || reset < 0 {
		reset = window
	}

	if count > int64(limit) {
		return nil, &model.RateLimitError{Scope: scope, Limit: limit, RetryAfter: reset}
	}

	return &Result{Limit: limit, Remaining: limit - int(count), ResetIn: reset}, nil
}
