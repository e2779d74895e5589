package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter keeps a rolling log of accepted attempts per user in a sorted
// set shared by all processes. Rejected attempts are not logged.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

var _ core.RateLimiter = (*RateLimiter)(nil)

func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: rdb, limit: limit, window: window, now: time.Now}
}

func (rl *RateLimiter) SetClock(now func() time.Time) { rl.now = now }

func rateKey(user domain.UserID) string { return keyPrefix + "ratelimit:" + string(user) }

func (rl *RateLimiter) Allow(ctx context.Context, user domain.UserID) (bool, error) {
	ok, err := slidingWindowScript.Run(ctx, rl.rdb, []string{rateKey(user)},
		rl.now().UnixMilli(), rl.window.Milliseconds(), rl.limit, uuid.NewString()).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit: %w", err)
	}
	return ok == 1, nil
}
