// Package domain contains entity without logic, just meta-data
package domain

import (
	"time"
)

const (
	MaxUserIDLen = 64
	MaxRoomIDLen = 64
)

type UserID string

// ConnID identifies one live transport connection. It is unique per
// process and random enough to be unique across processes.
type ConnID string

// Identity is what a resolved session token tells the core about the caller.
type Identity struct {
	UserID  UserID `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
}

// Session is owned by the session store; the core only reads it.
type Session struct {
	Token     string    `json:"token"`
	UserID    UserID    `json:"user_id"`
	IsAdmin   bool      `json:"is_admin"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

func (s *Session) Identity() Identity {
	return Identity{UserID: s.UserID, IsAdmin: s.IsAdmin}
}

// Suspension is an account-level ban.
type Suspension struct {
	UserID UserID    `json:"user_id"`
	Reason string    `json:"reason"`
	Until  time.Time `json:"until"`
}

func (s *Suspension) Active(now time.Time) bool {
	return s != nil && s.Until.After(now)
}
