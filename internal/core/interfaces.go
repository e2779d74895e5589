package core

import (
	"context"

	"github.com/dkeye/Chat/internal/domain"
)

// PresenceStore is the shared room presence + UserSocketIndex.
// Every mutating call is atomic on the backing store and returns the
// roster observed right after the mutation.
type PresenceStore interface {
	// Add puts user into room and records conn -> room in the socket index.
	Add(ctx context.Context, room domain.RoomID, user domain.UserID, conn domain.ConnID) (domain.Roster, error)
	// Remove drops conn's membership. The user leaves the set only when no
	// other live connection of theirs is in the room. changed is false when
	// there was nothing to remove.
	Remove(ctx context.Context, room domain.RoomID, user domain.UserID, conn domain.ConnID) (r domain.Roster, changed bool, err error)
	// RemoveUser drops user from room along with every socket index entry
	// pointing there, returning those connections.
	RemoveUser(ctx context.Context, room domain.RoomID, user domain.UserID) (r domain.Roster, conns []domain.ConnID, changed bool, err error)
	// Drop deletes socket index entries without touching room sets.
	Drop(ctx context.Context, user domain.UserID, conns []domain.ConnID) error
	// Connections lists user's live connections in room.
	Connections(ctx context.Context, room domain.RoomID, user domain.UserID) ([]domain.ConnID, error)
	Snapshot(ctx context.Context, room domain.RoomID) (domain.Roster, error)
	// Touch refreshes the liveness deadline of conn's entry.
	Touch(ctx context.Context, room domain.RoomID, user domain.UserID, conn domain.ConnID) error
	// Prune removes members whose socket entries have all expired.
	Prune(ctx context.Context, room domain.RoomID) (r domain.Roster, changed bool, err error)
	// Rooms lists rooms that currently have presence.
	Rooms(ctx context.Context) ([]domain.RoomID, error)
}

// Bus carries events between processes. Delivery is at-most-once;
// a single publisher's events on one room arrive in order.
type Bus interface {
	Publish(ctx context.Context, ev domain.Event) error
	Subscribe(ctx context.Context, room domain.RoomID) error
	Unsubscribe(ctx context.Context, room domain.RoomID) error
	// Events yields everything published on subscribed rooms, including
	// this process's own publications. Closed by Close.
	Events() <-chan domain.Event
	Close() error
}

type RateLimiter interface {
	Allow(ctx context.Context, user domain.UserID) (bool, error)
}
