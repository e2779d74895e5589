package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Chat/internal/adapters/memory"
	"github.com/dkeye/Chat/internal/adapters/postgres"
	"github.com/dkeye/Chat/internal/adapters/redisstore"
	"github.com/dkeye/Chat/internal/config"
	"github.com/dkeye/Chat/internal/core"
)

type backends struct {
	presence core.PresenceStore
	bus      core.Bus
	sessions core.SessionResolver
	limiter  core.RateLimiter
	rooms    core.RoomProvider
	accounts core.AccountStatus
	bans     core.BanStore
	messages core.MessageStore

	rdb  *goredis.Client
	pool *pgxpool.Pool
}

// openBackends picks the shared-state backend (memory or redis) and the
// collaborator backend (postgres when database_url is set, else memory).
func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}
	switch cfg.Backend {
	case config.BackendRedis:
		rdb, err := redisstore.Open(ctx, redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		b.rdb = rdb
		b.presence = redisstore.NewPresence(rdb, cfg.Presence.TTL)
		b.bus = redisstore.NewBus(ctx, rdb)
		b.sessions = redisstore.NewSessions(rdb)
		b.limiter = redisstore.NewRateLimiter(rdb, cfg.RateLimit.Messages, cfg.RateLimit.Window)
	default:
		b.presence = memory.NewPresence(cfg.Presence.TTL)
		b.bus = memory.NewHub().Node()
		b.sessions = memory.NewSessions()
		b.limiter = memory.NewRateLimiter(cfg.RateLimit.Messages, cfg.RateLimit.Window)
		log.Warn().Str("module", "main").Msg("memory backend: presence is local to this process")
	}

	if cfg.DatabaseURL == "" {
		b.rooms = memory.NewRooms()
		b.accounts = memory.NewAccounts()
		b.bans = memory.NewBans()
		b.messages = memory.NewMessages()
		log.Warn().Str("module", "main").Msg("no database_url: rooms, bans and messages are not persisted")
		return b, nil
	}
	pool, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}
	b.pool = pool
	b.rooms = postgres.NewRooms(pool)
	b.accounts = postgres.NewAccounts(pool)
	b.bans = postgres.NewBans(pool)
	b.messages = postgres.NewMessages(pool)
	return b, nil
}

func (b *backends) Close() {
	if b.bus != nil {
		if err := b.bus.Close(); err != nil {
			log.Warn().Err(err).Str("module", "main").Msg("close bus")
		}
	}
	if b.rdb != nil {
		_ = b.rdb.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}
