package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Messages struct {
	pool *pgxpool.Pool
}

var _ core.MessageStore = (*Messages)(nil)

func NewMessages(pool *pgxpool.Pool) *Messages { return &Messages{pool: pool} }

// Append inserts msg. A replayed id leaves the row as it is and returns
// what was stored first.
func (m *Messages) Append(ctx context.Context, msg domain.Message) (*domain.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	var room, user, typ string
	err := m.pool.QueryRow(ctx, `
		INSERT INTO messages (id, room_id, user_id, content, type)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING room_id, user_id, content, type, created_at`,
		msg.ID, string(msg.RoomID), string(msg.UserID), msg.Content, string(msg.Type),
	).Scan(&room, &user, &msg.Content, &typ, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	msg.RoomID = domain.RoomID(room)
	msg.UserID = domain.UserID(user)
	msg.Type = domain.MessageType(typ)
	msg.CreatedAt = msg.CreatedAt.UTC()
	return &msg, nil
}

func (m *Messages) MarkDeleted(ctx context.Context, room domain.RoomID, id string, requester domain.UserID) (string, error) {
	var author string
	err := m.pool.QueryRow(ctx,
		`SELECT user_id FROM messages WHERE id = $1 AND room_id = $2 AND deleted_at IS NULL`,
		id, string(room),
	).Scan(&author)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load message %s: %w", id, err)
	}
	if domain.UserID(author) != requester {
		return "", domain.ErrForbidden
	}
	tag, err := m.pool.Exec(ctx,
		`UPDATE messages SET deleted_at = now() WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		id, author)
	if err != nil {
		return "", fmt.Errorf("delete message %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return "", domain.ErrNotFound
	}
	return id, nil
}
