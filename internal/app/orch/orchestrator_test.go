package orch

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
)

// flakyRooms fails the first n lookups with a transport error.
type flakyRooms struct {
	core.RoomProvider
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyRooms) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	f.calls.Add(1)
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return nil, errors.New("dial tcp 10.1.2.3:5432: connection refused")
	}
	return f.RoomProvider.Get(ctx, id)
}

func TestJoin_RetriesTransientStoreErrors(t *testing.T) {
	c := newCluster(t)
	c.rooms.Put(domain.Room{ID: "r", OwnerID: "owner", Capacity: 10})
	p := c.process("p1")
	flaky := &flakyRooms{RoomProvider: c.rooms}
	flaky.failures.Store(2)
	p.o.Rooms = flaky

	if _, err := p.connect("alice").join("r", ""); err != nil {
		t.Fatalf("join should succeed after retries: %v", err)
	}
	if got := flaky.calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestJoin_RetryExhaustionIsGeneric(t *testing.T) {
	c := newCluster(t)
	c.rooms.Put(domain.Room{ID: "r", OwnerID: "owner", Capacity: 10})
	p := c.process("p1")
	flaky := &flakyRooms{RoomProvider: c.rooms}
	flaky.failures.Store(100)
	p.o.Rooms = flaky

	_, err := p.connect("alice").join("r", "")
	wantErr(t, err, domain.ErrInternal)
	if msg := domain.PublicMessage(err); strings.Contains(msg, "10.1.2.3") {
		t.Errorf("public message leaks cause: %q", msg)
	}
	if got := flaky.calls.Load(); got != int32(c.opts.Retry.MaxTries) {
		t.Errorf("calls = %d, want %d", got, c.opts.Retry.MaxTries)
	}
}

func TestRetry_DomainErrorsAreNotRetried(t *testing.T) {
	calls := 0
	_, err := retry(context.Background(), RetryPolicy{MaxTries: 5, InitialInterval: time.Millisecond}, "op", func(context.Context) (int, error) {
		calls++
		return 0, domain.ErrRoomFull
	})
	wantErr(t, err, domain.ErrRoomFull)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestOrchestrator_UnknownConnection(t *testing.T) {
	c := newCluster(t)
	c.rooms.Put(domain.Room{ID: "r", OwnerID: "owner", Capacity: 10})
	p := c.process("p1")

	_, err := p.o.Join(c.ctx, "ghost", "r", "")
	wantErr(t, err, domain.ErrAuthenticationFailed)
	if err := p.o.Leave(c.ctx, "ghost", "r"); err != nil {
		t.Errorf("Leave for unknown connection: %v", err)
	}
}

// lostReplyMessages commits the first Append and then reports a transport
// error, the way a dropped connection after COMMIT looks to the caller.
type lostReplyMessages struct {
	core.MessageStore
	calls atomic.Int32
}

func (l *lostReplyMessages) Append(ctx context.Context, msg domain.Message) (*domain.Message, error) {
	stored, err := l.MessageStore.Append(ctx, msg)
	if l.calls.Add(1) == 1 && err == nil {
		return nil, errors.New("read tcp 10.1.2.3:5432: connection reset by peer")
	}
	return stored, err
}

type lostReplyBans struct {
	core.BanStore
	calls atomic.Int32
}

func (l *lostReplyBans) Create(ctx context.Context, ban domain.RoomBan) error {
	err := l.BanStore.Create(ctx, ban)
	if l.calls.Add(1) == 1 && err == nil {
		return errors.New("read tcp 10.1.2.3:5432: connection reset by peer")
	}
	return err
}

func TestSend_RetriedAppendStoresOnce(t *testing.T) {
	c := newCluster(t)
	c.rooms.Put(domain.Room{ID: "r", OwnerID: "owner", Capacity: 10})
	p := c.process("p1")
	store := &lostReplyMessages{MessageStore: c.messages}
	p.o.Messages = store
	alice := p.connect("alice")
	mustJoin(t, alice, "r")

	msg, err := p.o.Send(c.ctx, alice.id, "r", "hello", domain.MessageText)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := store.calls.Load(); got != 2 {
		t.Errorf("Append calls = %d, want 2", got)
	}
	if n := c.messages.Len(); n != 1 {
		t.Errorf("stored %d messages, want 1", n)
	}
	if _, err := c.messages.MarkDeleted(c.ctx, "r", msg.ID, "alice"); err != nil {
		t.Errorf("returned id %q is not the stored one: %v", msg.ID, err)
	}
}

func TestBan_RetriedCreateStillExpels(t *testing.T) {
	c := newCluster(t)
	c.rooms.Put(domain.Room{ID: "r", OwnerID: "O", Capacity: 10})
	p := c.process("p1")
	bans := &lostReplyBans{BanStore: c.bans}
	p.o.Bans = bans
	owner, m := p.connect("O"), p.connect("M")
	mustJoin(t, owner, "r")
	mustJoin(t, m, "r")

	if err := p.o.Ban(c.ctx, owner.id, "r", "M", "spam", 0); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	waitFor(t, "M force-closed", func() bool { return m.evictReason() != "" })
	if c.roster("r").Contains("M") {
		t.Error("M should be gone from the roster")
	}
	ban, err := c.bans.Get(c.ctx, "r", "M")
	if err != nil || !ban.Active(time.Now()) {
		t.Errorf("ban record = %+v, %v", ban, err)
	}

	// A conflict on the first attempt is still a double ban.
	m2 := p.connect("M2")
	mustJoin(t, m2, "r")
	_ = c.bans.Create(c.ctx, domain.RoomBan{RoomID: "r", UserID: "M2"})
	wantErr(t, p.o.Ban(c.ctx, owner.id, "r", "M2", "", 0), domain.ErrAlreadyBanned)
}
