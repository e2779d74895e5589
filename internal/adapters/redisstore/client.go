// Package redisstore implements the shared presence store, the fan-out bus,
// the session store and the rate limiter on top of Redis.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "chat:"

type Options struct {
	Addr     string
	Password string
	DB       int
}

// Open connects and pings. Caller must Close the client.
func Open(ctx context.Context, opts Options) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	log.Info().Str("module", "redis").Str("addr", opts.Addr).Int("db", opts.DB).Msg("connected")
	return rdb, nil
}
