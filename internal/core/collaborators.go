package core

import (
	"context"

	"github.com/dkeye/Chat/internal/domain"
)

// The interfaces below are the narrow contracts to services outside the
// presence core. Lookups return (nil, nil) for a missing record; an error
// means the collaborator itself failed.

type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*domain.Session, error)
	Revoke(ctx context.Context, token string) error
}

type RoomProvider interface {
	Get(ctx context.Context, id domain.RoomID) (*domain.Room, error)
}

type AccountStatus interface {
	Suspension(ctx context.Context, user domain.UserID) (*domain.Suspension, error)
}

type MessageStore interface {
	// Append stores msg under the id the caller chose. Appending an id that
	// already exists returns the stored copy instead of a second row.
	Append(ctx context.Context, msg domain.Message) (*domain.Message, error)
	// MarkDeleted returns domain.ErrNotFound for an unknown id (or one in
	// another room) and domain.ErrForbidden when requester is not the author.
	MarkDeleted(ctx context.Context, room domain.RoomID, id string, requester domain.UserID) (string, error)
}

type BanStore interface {
	Get(ctx context.Context, room domain.RoomID, user domain.UserID) (*domain.RoomBan, error)
	// Create fails with domain.ErrAlreadyBanned when an active record exists.
	Create(ctx context.Context, ban domain.RoomBan) error
	// Delete returns domain.ErrNotFound when there is no record.
	Delete(ctx context.Context, room domain.RoomID, user domain.UserID) error
}
