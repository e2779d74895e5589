package domain

import "time"

type RoomID string

// Room is the metadata the core needs from the room collaborator.
type Room struct {
	ID           RoomID `json:"id"`
	Name         string `json:"name"`
	OwnerID      UserID `json:"owner_id"`
	Capacity     int    `json:"capacity"`
	PasswordHash string `json:"-"`
}

func (r *Room) Protected() bool { return r.PasswordHash != "" }

func (r *Room) IsOwner(u UserID) bool { return r.OwnerID == u }

// RoomBan is the persisted (room, user) ban record. A nil ExpiresAt means
// the ban holds until it is removed.
type RoomBan struct {
	RoomID    RoomID     `json:"room_id"`
	UserID    UserID     `json:"user_id"`
	Reason    string     `json:"reason"`
	BannedBy  UserID     `json:"banned_by"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (b *RoomBan) Active(now time.Time) bool {
	if b == nil {
		return false
	}
	return b.ExpiresAt == nil || b.ExpiresAt.After(now)
}

// Roster is a post-mutation presence snapshot of one room.
// Generation never decreases for a given room.
type Roster struct {
	Room       RoomID   `json:"room"`
	Users      []UserID `json:"users"`
	Count      int      `json:"count"`
	Generation int64    `json:"generation"`
}

func (r Roster) Contains(u UserID) bool {
	for _, id := range r.Users {
		if id == u {
			return true
		}
	}
	return false
}
