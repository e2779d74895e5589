package signal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
)

// Server-to-client frames. Field names follow the client protocol.

type RosterFrame struct {
	Type       string          `json:"type"`
	RoomID     domain.RoomID   `json:"roomId"`
	RoomUsers  []domain.UserID `json:"roomUsers"`
	Count      int             `json:"count"`
	Generation int64           `json:"generation"`
}

type MessageFrame struct {
	Type        string             `json:"type"`
	ID          string             `json:"id"`
	RoomID      domain.RoomID      `json:"roomId"`
	UserID      domain.UserID      `json:"userId"`
	Content     string             `json:"content"`
	MessageType domain.MessageType `json:"messageType"`
	CreatedAt   time.Time          `json:"createdAt"`
}

type MessageDeletedFrame struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	ID     string        `json:"id"`
}

type ForcedDisconnectFrame struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	// Request is the inbound event kind that failed, when known.
	Request string `json:"request,omitempty"`
}

type JoinedFrame struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	Roster RosterFrame   `json:"roster"`
}

type LeftFrame struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

type PongFrame struct {
	Type string `json:"type"`
}

type WhoAmIFrame struct {
	Type    string        `json:"type"`
	UserID  domain.UserID `json:"userId"`
	IsAdmin bool          `json:"isAdmin"`
	RoomID  domain.RoomID `json:"roomId,omitempty"`
}

func rosterFrame(r domain.Roster) RosterFrame {
	users := r.Users
	if users == nil {
		users = []domain.UserID{}
	}
	return RosterFrame{Type: "roster", RoomID: r.Room, RoomUsers: users, Count: r.Count, Generation: r.Generation}
}

func messageFrame(m *domain.Message) MessageFrame {
	return MessageFrame{
		Type:        "message",
		ID:          m.ID,
		RoomID:      m.RoomID,
		UserID:      m.UserID,
		Content:     m.Content,
		MessageType: m.Type,
		CreatedAt:   m.CreatedAt,
	}
}

func errorFrame(err error, request string) ErrorFrame {
	return ErrorFrame{Type: "error", Code: domain.Code(err), Message: domain.PublicMessage(err), Request: request}
}

// EncodeEvent renders a bus event for local connections. It is the
// encoder handed to app.Fanout.
func EncodeEvent(ev domain.Event) (core.Frame, error) {
	var v any
	switch ev.Kind {
	case domain.EventRoster:
		if ev.Roster == nil {
			return nil, fmt.Errorf("roster event without roster")
		}
		v = rosterFrame(*ev.Roster)
	case domain.EventMessage:
		if ev.Message == nil {
			return nil, fmt.Errorf("message event without message")
		}
		v = messageFrame(ev.Message)
	case domain.EventMessageDeleted:
		v = MessageDeletedFrame{Type: "messageDeleted", RoomID: ev.Room, ID: ev.MessageID}
	default:
		return nil, fmt.Errorf("event %q has no client frame", ev.Kind)
	}
	return json.Marshal(v)
}
