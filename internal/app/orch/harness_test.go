package orch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Chat/internal/adapters/memory"
	"github.com/dkeye/Chat/internal/app"
	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
)

// cluster is a set of simulated server processes sharing one presence
// store, one bus hub and one set of collaborators.
type cluster struct {
	t        *testing.T
	ctx      context.Context
	presence *memory.Presence
	hub      *memory.Hub
	rooms    *memory.Rooms
	accounts *memory.Accounts
	bans     *memory.Bans
	messages *memory.Messages
	limiter  *memory.RateLimiter
	opts     Options
}

func newCluster(t *testing.T) *cluster {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	opts := DefaultOptions()
	opts.Retry.InitialInterval = time.Millisecond
	return &cluster{
		t:        t,
		ctx:      ctx,
		presence: memory.NewPresence(time.Minute),
		hub:      memory.NewHub(),
		rooms:    memory.NewRooms(),
		accounts: memory.NewAccounts(),
		bans:     memory.NewBans(),
		messages: memory.NewMessages(),
		limiter:  memory.NewRateLimiter(5, 10*time.Second),
		opts:     opts,
	}
}

type process struct {
	c *cluster
	o *Orchestrator
}

func (c *cluster) process(name string) *process {
	reg := app.NewRegistry()
	fan := app.NewFanout(c.hub.Node(), reg, nil, nil, name)
	go fan.Run(c.ctx)
	return &process{c: c, o: &Orchestrator{
		Registry: reg,
		Presence: c.presence,
		Fanout:   fan,
		Rooms:    c.rooms,
		Accounts: c.accounts,
		Bans:     c.bans,
		Messages: c.messages,
		Limiter:  c.limiter,
		Options:  c.opts,
	}}
}

// testConn stands in for a gateway connection: eviction records the
// reason and runs the same cleanup the gateway does.
type testConn struct {
	id domain.ConnID
	p  *process

	mu      sync.Mutex
	frames  []domain.Event
	evicted string
	closed  bool
}

var connSeq atomic.Int64

func (p *process) connect(user domain.UserID) *testConn {
	c := &testConn{id: domain.ConnID(fmt.Sprintf("%s-%d", user, connSeq.Add(1))), p: p}
	p.o.Registry.Bind(c.id, domain.Identity{UserID: user}, c, nil)
	return c
}

func (c *testConn) TrySend(f core.Frame) error {
	var ev domain.Event
	if err := json.Unmarshal(f, &ev); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	c.frames = append(c.frames, ev)
	return nil
}

func (c *testConn) Evict(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.evicted = reason
	c.closed = true
	c.mu.Unlock()
	go c.p.o.Disconnect(context.Background(), c.id)
}

func (c *testConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *testConn) evictReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

func (c *testConn) received(kind domain.EventKind) []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Event
	for _, ev := range c.frames {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (c *testConn) join(room domain.RoomID, password string) (domain.Roster, error) {
	return c.p.o.Join(c.p.c.ctx, c.id, room, password)
}

func (c *testConn) leave(room domain.RoomID) error {
	return c.p.o.Leave(c.p.c.ctx, c.id, room)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (c *cluster) roster(room domain.RoomID) domain.Roster {
	r, err := c.presence.Snapshot(c.ctx, room)
	if err != nil {
		c.t.Fatalf("Snapshot: %v", err)
	}
	return r
}

func mustJoin(t *testing.T, c *testConn, room domain.RoomID) domain.Roster {
	t.Helper()
	r, err := c.join(room, "")
	if err != nil {
		t.Fatalf("join %s: %v", room, err)
	}
	return r
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("err = %v, want %v", err, target)
	}
}
