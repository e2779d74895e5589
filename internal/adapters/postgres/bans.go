package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Bans struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ core.BanStore = (*Bans)(nil)

func NewBans(pool *pgxpool.Pool) *Bans { return &Bans{pool: pool, now: time.Now} }

func (b *Bans) Get(ctx context.Context, room domain.RoomID, user domain.UserID) (*domain.RoomBan, error) {
	ban := domain.RoomBan{RoomID: room, UserID: user}
	err := b.pool.QueryRow(ctx, `
		SELECT reason, banned_by, created_at, expires_at
		FROM room_bans WHERE room_id = $1 AND user_id = $2`, string(room), string(user),
	).Scan(&ban.Reason, &ban.BannedBy, &ban.CreatedAt, &ban.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ban %s/%s: %w", room, user, err)
	}
	return &ban, nil
}

// Create inserts ban, replacing an expired record for the same pair.
func (b *Bans) Create(ctx context.Context, ban domain.RoomBan) error {
	now := b.now()
	if ban.CreatedAt.IsZero() {
		ban.CreatedAt = now
	}
	tag, err := b.pool.Exec(ctx, `
		INSERT INTO room_bans (room_id, user_id, reason, banned_by, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (room_id, user_id) DO UPDATE
		SET reason = EXCLUDED.reason, banned_by = EXCLUDED.banned_by,
		    created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
		WHERE room_bans.expires_at IS NOT NULL AND room_bans.expires_at <= $7`,
		string(ban.RoomID), string(ban.UserID), ban.Reason, string(ban.BannedBy), ban.CreatedAt, ban.ExpiresAt, now)
	if err != nil {
		return fmt.Errorf("create ban %s/%s: %w", ban.RoomID, ban.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyBanned
	}
	return nil
}

func (b *Bans) Delete(ctx context.Context, room domain.RoomID, user domain.UserID) error {
	tag, err := b.pool.Exec(ctx,
		`DELETE FROM room_bans WHERE room_id = $1 AND user_id = $2`, string(room), string(user))
	if err != nil {
		return fmt.Errorf("delete ban %s/%s: %w", room, user, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
