// Package ratelimit caps how many issues one user may report per window.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	RetryAfter time.Duration
}

// Limiter is a fixed-window counter per user: the first hit in a window sets
// the key TTL, later hits only increment.
type Limiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

func New(client *redis.Client, limit int, window time.Duration) *Limiter {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Limiter{client: client, prefix: "townsquare:issue-limit:", limit: limit, window: window}
}

func (l *Limiter) Allow(ctx context.Context, userID string) (Decision, error) {
	key := l.prefix + userID
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("increment issue limit: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("set issue limit ttl: %w", err)
		}
	}
	decision := Decision{Allowed: count <= int64(l.limit), Count: count, Limit: l.limit}
	if !decision.Allowed {
		ttl, err := l.client.TTL(ctx, key).Result()
		if err != nil {
			return Decision{}, fmt.Errorf("read issue limit ttl: %w", err)
		}
		decision.RetryAfter = ttl
	}
	return decision, nil
}

// Release gives back the slot taken by Allow when the guarded action failed.
func (l *Limiter) Release(ctx context.Context, userID string) error {
	if err := l.client.Decr(ctx, l.prefix+userID).Err(); err != nil {
		return fmt.Errorf("release issue limit: %w", err)
	}
	return nil
}
