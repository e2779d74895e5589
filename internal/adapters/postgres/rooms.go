package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Rooms struct {
	pool *pgxpool.Pool
}

var _ core.RoomProvider = (*Rooms)(nil)

func NewRooms(pool *pgxpool.Pool) *Rooms { return &Rooms{pool: pool} }

func (r *Rooms) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	var room domain.Room
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, owner_id, capacity, password_hash FROM rooms WHERE id = $1`, string(id),
	).Scan(&room.ID, &room.Name, &room.OwnerID, &room.Capacity, &room.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", id, err)
	}
	return &room, nil
}

// Put creates or replaces a room.
func (r *Rooms) Put(ctx context.Context, room domain.Room) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rooms (id, name, owner_id, capacity, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, owner_id = EXCLUDED.owner_id,
		    capacity = EXCLUDED.capacity, password_hash = EXCLUDED.password_hash`,
		string(room.ID), room.Name, string(room.OwnerID), room.Capacity, room.PasswordHash)
	if err != nil {
		return fmt.Errorf("put room %s: %w", room.ID, err)
	}
	return nil
}
