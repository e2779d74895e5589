package app

import (
	"context"
	"sync"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	User   domain.Identity
	Room   domain.RoomID
	Conn   core.SignalConnection
	Cancel context.CancelFunc
}

// Registry is the per-process table of live connections.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.ConnID]*connEntry),
	}
}

func (r *Registry) Bind(id domain.ConnID, user domain.Identity, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connEntry{User: user, Conn: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("user", string(user.UserID)).Msg("bound connection")
}

// Unbind removes id and reports the room it was tagged with, if any.
func (r *Registry) Unbind(id domain.ConnID) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return "", false
	}
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unbind connection")
	return e.Room, true
}

func (r *Registry) Identity(id domain.ConnID) (domain.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.User, true
	}
	return domain.Identity{}, false
}

func (r *Registry) Conn(id domain.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.Conn, true
	}
	return nil, false
}

func (r *Registry) RoomOf(id domain.ConnID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok || e.Room == "" {
		return "", false
	}
	return e.Room, true
}

func (r *Registry) UpdateRoom(id domain.ConnID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.Room = room
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("room", string(room)).Msg("updated room")
	return true
}

// RemoveRoom clears the room tag only if it still equals room.
func (r *Registry) RemoveRoom(id domain.ConnID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok || e.Room != room {
		return false
	}
	e.Room = ""
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("room", string(room)).Msg("removed room association")
	return true
}

type regSnap struct {
	ID   domain.ConnID
	User domain.Identity
	Conn core.SignalConnection
}

func (r *Registry) MembersOfRoom(room domain.RoomID) []regSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]regSnap, 0)
	for id, e := range r.conns {
		if e.Room == room {
			out = append(out, regSnap{ID: id, User: e.User, Conn: e.Conn})
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) Cancel(id domain.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("canceled connection")
	return true
}
