// Package memory holds in-process implementations of the core interfaces.
// They back single-node deployments and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog/log"
)

type socketEntry struct {
	room     domain.RoomID
	deadline time.Time
}

type roomState struct {
	members map[domain.UserID]struct{}
	gen     int64
}

// Presence is a threadsafe in-memory presence store.
// Generations survive room emptiness so they never go backwards.
type Presence struct {
	mu      sync.Mutex
	rooms   map[domain.RoomID]*roomState
	sockets map[domain.UserID]map[domain.ConnID]socketEntry
	ttl     time.Duration
	now     func() time.Time
}

var _ core.PresenceStore = (*Presence)(nil)

func NewPresence(ttl time.Duration) *Presence {
	return &Presence{
		rooms:   make(map[domain.RoomID]*roomState),
		sockets: make(map[domain.UserID]map[domain.ConnID]socketEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock replaces the time source; tests use it to expire entries.
func (p *Presence) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

func (p *Presence) room(id domain.RoomID) *roomState {
	rs, ok := p.rooms[id]
	if !ok {
		rs = &roomState{members: make(map[domain.UserID]struct{})}
		p.rooms[id] = rs
	}
	return rs
}

func (p *Presence) snapshot(id domain.RoomID) domain.Roster {
	r := domain.Roster{Room: id, Users: []domain.UserID{}}
	rs, ok := p.rooms[id]
	if !ok {
		return r
	}
	for u := range rs.members {
		r.Users = append(r.Users, u)
	}
	sort.Slice(r.Users, func(i, j int) bool { return r.Users[i] < r.Users[j] })
	r.Count = len(r.Users)
	r.Generation = rs.gen
	return r
}

func (p *Presence) Add(_ context.Context, room domain.RoomID, user domain.UserID, conn domain.ConnID) (domain.Roster, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rs := p.room(room)
	rs.members[user] = struct{}{}
	socks, ok := p.sockets[user]
	if !ok {
		socks = make(map[domain.ConnID]socketEntry)
		p.sockets[user] = socks
	}
	socks[conn] = socketEntry{room: room, deadline: p.now().Add(p.ttl)}
	rs.gen++
	log.Debug().Str("module", "memory.presence").Str("room", string(room)).Str("user", string(user)).Str("conn", string(conn)).Int64("gen", rs.gen).Msg("member added")
	return p.snapshot(room), nil
}

// settle removes user from room unless a live socket entry still points
// there; expired entries for room are discarded on the way.
func (p *Presence) settle(room domain.RoomID, user domain.UserID) (changed bool) {
	now := p.now()
	live := false
	for c, e := range p.sockets[user] {
		if e.room != room {
			continue
		}
		if e.deadline.After(now) {
			live = true
			continue
		}
		delete(p.sockets[user], c)
		changed = true
	}
	if len(p.sockets[user]) == 0 {
		delete(p.sockets, user)
	}
	if live {
		return changed
	}
	if rs, ok := p.rooms[room]; ok {
		if _, in := rs.members[user]; in {
			delete(rs.members, user)
			changed = true
		}
	}
	return changed
}

func (p *Presence) bump(room domain.RoomID) domain.Roster {
	rs := p.room(room)
	rs.gen++
	return p.snapshot(room)
}

func (p *Presence) Remove(_ context.Context, room domain.RoomID, user domain.UserID, conn domain.ConnID) (domain.Roster, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	changed := false
	if e, ok := p.sockets[user][conn]; ok && e.room == room {
		delete(p.sockets[user], conn)
		changed = true
	}
	if p.settle(room, user) {
		changed = true
	}
	if !changed {
		return p.snapshot(room), false, nil
	}
	r := p.bump(room)
	log.Debug().Str("module", "memory.presence").Str("room", string(room)).Str("user", string(user)).Str("conn", string(conn)).Int64("gen", r.Generation).Msg("member removed")
	return r, true, nil
}

func (p *Presence) RemoveUser(_ context.Context, room domain.RoomID, user domain.UserID) (domain.Roster, []domain.ConnID, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var conns []domain.ConnID
	for c, e := range p.sockets[user] {
		if e.room == room {
			conns = append(conns, c)
			delete(p.sockets[user], c)
		}
	}
	if len(p.sockets[user]) == 0 {
		delete(p.sockets, user)
	}
	removed := false
	if rs, ok := p.rooms[room]; ok {
		if _, in := rs.members[user]; in {
			delete(rs.members, user)
			removed = true
		}
	}
	if !removed && len(conns) == 0 {
		return p.snapshot(room), nil, false, nil
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i] < conns[j] })
	return p.bump(room), conns, true, nil
}

func (p *Presence) Drop(_ context.Context, user domain.UserID, conns []domain.ConnID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range conns {
		delete(p.sockets[user], c)
	}
	if len(p.sockets[user]) == 0 {
		delete(p.sockets, user)
	}
	return nil
}

func (p *Presence) Connections(_ context.Context, room domain.RoomID, user domain.UserID) ([]domain.ConnID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	var out []domain.ConnID
	for c, e := range p.sockets[user] {
		if e.room == room && e.deadline.After(now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (p *Presence) Snapshot(_ context.Context, room domain.RoomID) (domain.Roster, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot(room), nil
}

func (p *Presence) Touch(_ context.Context, room domain.RoomID, user domain.UserID, conn domain.ConnID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if socks, ok := p.sockets[user]; ok {
		if e, ok := socks[conn]; ok && e.room == room {
			e.deadline = p.now().Add(p.ttl)
			socks[conn] = e
		}
	}
	return nil
}

func (p *Presence) Prune(_ context.Context, room domain.RoomID) (domain.Roster, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rs, ok := p.rooms[room]
	if !ok {
		return p.snapshot(room), false, nil
	}
	changed := false
	for u := range rs.members {
		if p.settle(room, u) {
			changed = true
		}
	}
	if !changed {
		return p.snapshot(room), false, nil
	}
	return p.bump(room), true, nil
}

func (p *Presence) Rooms(_ context.Context) ([]domain.RoomID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.RoomID, 0, len(p.rooms))
	for id, rs := range p.rooms {
		if len(rs.members) > 0 {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
