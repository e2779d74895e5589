package domain

// EventKind tags what a bus Event carries.
type EventKind string

const (
	EventRoster         EventKind = "roster"
	EventMessage        EventKind = "message"
	EventMessageDeleted EventKind = "message_deleted"
	EventEvict          EventKind = "evict"
)

// Event is what travels over the fan-out bus between processes.
type Event struct {
	Kind      EventKind `json:"kind"`
	Room      RoomID    `json:"room"`
	Origin    string    `json:"origin,omitempty"`
	Roster    *Roster   `json:"roster,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Evict     *Eviction `json:"evict,omitempty"`
}

// Eviction asks whichever process holds Conns to force-close them.
type Eviction struct {
	User   UserID   `json:"user"`
	Conns  []ConnID `json:"conns"`
	Reason string   `json:"reason"`
}

const (
	ReasonKicked    = "kicked"
	ReasonBanned    = "banned"
	ReasonDuplicate = "duplicate_session"
	ReasonSlow      = "slow_consumer"
)
