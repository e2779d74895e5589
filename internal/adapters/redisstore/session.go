package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Sessions stores session records as JSON under chat:session:<token>,
// expiring together with the session.
type Sessions struct {
	rdb *redis.Client
	now func() time.Time
}

var _ core.SessionResolver = (*Sessions)(nil)

func NewSessions(rdb *redis.Client) *Sessions {
	return &Sessions{rdb: rdb, now: time.Now}
}

func sessionKey(token string) string { return keyPrefix + "session:" + token }

// Put stores sess. A zero ExpiresAt keeps it until revoked.
func (s *Sessions) Put(ctx context.Context, sess domain.Session) error {
	var ttl time.Duration
	if !sess.ExpiresAt.IsZero() {
		ttl = sess.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return nil
		}
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(sess.Token), data, ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *Sessions) Resolve(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, nil
	}
	data, err := s.rdb.Get(ctx, sessionKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if sess.Expired(s.now()) {
		return nil, nil
	}
	return &sess, nil
}

func (s *Sessions) Revoke(ctx context.Context, token string) error {
	if err := s.rdb.Del(ctx, sessionKey(token)).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}
