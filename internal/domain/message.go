package domain

import (
	"time"
	"unicode/utf8"
)

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
)

func (t MessageType) Valid() bool {
	return t == MessageText || t == MessageImage
}

// Message is a chat message as returned by the message store.
type Message struct {
	ID        string      `json:"id"`
	RoomID    RoomID      `json:"room_id"`
	UserID    UserID      `json:"user_id"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	CreatedAt time.Time   `json:"created_at"`
}

// ValidateContent checks a submission before it reaches rate limiting or
// persistence.
func ValidateContent(content string, typ MessageType, maxLen int) error {
	if content == "" {
		return &ValidationError{Field: "content", Reason: "empty"}
	}
	if maxLen > 0 && utf8.RuneCountInString(content) > maxLen {
		return &ValidationError{Field: "content", Reason: "too long"}
	}
	if !typ.Valid() {
		return &ValidationError{Field: "type", Reason: "must be text or image"}
	}
	return nil
}
