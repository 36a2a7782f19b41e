// Package ratelimit counts attempts per key in Redis with a fixed window,
// so every server process shares the same counters.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter allows at most max attempts per key within window.
type Limiter struct {
	rdb    *redis.Client
	prefix string
	max    int64
	window time.Duration
}

func New(rdb *redis.Client, prefix string, max int, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, prefix: prefix, max: int64(max), window: window}
}

// Allow records an attempt for key and reports whether it is within the
// limit. The window starts with the first attempt.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.prefix + key
	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.ExpireNX(ctx, k, l.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("counting attempt: %w", err)
	}
	return incr.Val() <= l.max, nil
}

// Reset forgets the attempts recorded for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.rdb.Del(ctx, l.prefix+key).Err()
}
