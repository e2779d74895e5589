package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/google/uuid"
)

type Sessions struct {
	mu       sync.RWMutex
	sessions map[string]domain.Session
	now      func() time.Time
}

var _ core.SessionResolver = (*Sessions)(nil)

func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]domain.Session), now: time.Now}
}

// Put stores a session under its token.
func (s *Sessions) Put(sess domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Token] = sess
}

func (s *Sessions) Resolve(_ context.Context, token string) (*domain.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok || sess.Expired(s.now()) {
		return nil, nil
	}
	return &sess, nil
}

func (s *Sessions) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

type Rooms struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]domain.Room
}

var _ core.RoomProvider = (*Rooms)(nil)

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[domain.RoomID]domain.Room)}
}

func (r *Rooms) Put(room domain.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[room.ID] = room
}

func (r *Rooms) Get(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, nil
	}
	return &room, nil
}

type Accounts struct {
	mu          sync.RWMutex
	suspensions map[domain.UserID]domain.Suspension
}

var _ core.AccountStatus = (*Accounts)(nil)

func NewAccounts() *Accounts {
	return &Accounts{suspensions: make(map[domain.UserID]domain.Suspension)}
}

func (a *Accounts) Suspend(s domain.Suspension) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.suspensions[s.UserID] = s
}

func (a *Accounts) Suspension(_ context.Context, user domain.UserID) (*domain.Suspension, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.suspensions[user]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

type banKey struct {
	room domain.RoomID
	user domain.UserID
}

type Bans struct {
	mu   sync.Mutex
	bans map[banKey]domain.RoomBan
	now  func() time.Time
}

var _ core.BanStore = (*Bans)(nil)

func NewBans() *Bans {
	return &Bans{bans: make(map[banKey]domain.RoomBan), now: time.Now}
}

func (b *Bans) Get(_ context.Context, room domain.RoomID, user domain.UserID) (*domain.RoomBan, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ban, ok := b.bans[banKey{room, user}]
	if !ok {
		return nil, nil
	}
	return &ban, nil
}

func (b *Bans) Create(_ context.Context, ban domain.RoomBan) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := banKey{ban.RoomID, ban.UserID}
	if old, ok := b.bans[k]; ok && old.Active(b.now()) {
		return domain.ErrAlreadyBanned
	}
	if ban.CreatedAt.IsZero() {
		ban.CreatedAt = b.now()
	}
	b.bans[k] = ban
	return nil
}

func (b *Bans) Delete(_ context.Context, room domain.RoomID, user domain.UserID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := banKey{room, user}
	if _, ok := b.bans[k]; !ok {
		return domain.ErrNotFound
	}
	delete(b.bans, k)
	return nil
}

type storedMessage struct {
	msg     domain.Message
	deleted bool
}

type Messages struct {
	mu   sync.Mutex
	byID map[string]*storedMessage
	now  func() time.Time
}

var _ core.MessageStore = (*Messages)(nil)

func NewMessages() *Messages {
	return &Messages{byID: make(map[string]*storedMessage), now: time.Now}
}

func (m *Messages) Append(_ context.Context, msg domain.Message) (*domain.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sm, ok := m.byID[msg.ID]; ok {
		stored := sm.msg
		return &stored, nil
	}
	msg.CreatedAt = m.now().UTC()
	m.byID[msg.ID] = &storedMessage{msg: msg}
	return &msg, nil
}

func (m *Messages) MarkDeleted(_ context.Context, room domain.RoomID, id string, requester domain.UserID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sm, ok := m.byID[id]
	if !ok || sm.deleted || sm.msg.RoomID != room {
		return "", domain.ErrNotFound
	}
	if sm.msg.UserID != requester {
		return "", domain.ErrForbidden
	}
	sm.deleted = true
	return id, nil
}

// Len counts stored, non-deleted messages.
func (m *Messages) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sm := range m.byID {
		if !sm.deleted {
			n++
		}
	}
	return n
}
