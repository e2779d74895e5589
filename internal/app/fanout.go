package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog/log"
)

// Encoder renders a bus event into the frame local connections receive.
type Encoder func(domain.Event) (core.Frame, error)

// Publisher is the write side of the fan-out.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Fanout keeps this process subscribed to exactly the rooms it holds
// connections in and delivers bus events to those connections.
type Fanout struct {
	bus    core.Bus
	reg    *Registry
	policy Policy
	encode Encoder
	origin string

	// grace is how long an evicted connection may take to close itself
	// before its context is canceled.
	grace time.Duration

	// subMu serializes subscription changes so bus round-trips never run
	// under mu, which the dispatch loop takes for every roster.
	subMu sync.Mutex
	mu    sync.Mutex
	refs map[domain.RoomID]int
	gens map[domain.RoomID]int64
}

const defaultEvictGrace = 5 * time.Second

func NewFanout(bus core.Bus, reg *Registry, policy Policy, encode Encoder, origin string) *Fanout {
	if encode == nil {
		encode = func(ev domain.Event) (core.Frame, error) { return json.Marshal(ev) }
	}
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Fanout{
		bus:    bus,
		reg:    reg,
		policy: policy,
		encode: encode,
		origin: origin,
		grace:  defaultEvictGrace,
		refs:   make(map[domain.RoomID]int),
		gens:   make(map[domain.RoomID]int64),
	}
}

// Retain counts one more local connection in room, subscribing on the
// first one.
func (f *Fanout) Retain(ctx context.Context, room domain.RoomID) error {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	if f.Refs(room) == 0 {
		if err := f.bus.Subscribe(ctx, room); err != nil {
			return err
		}
		log.Debug().Str("module", "app.fanout").Str("room", string(room)).Msg("subscribed")
	}
	f.mu.Lock()
	f.refs[room]++
	f.mu.Unlock()
	return nil
}

// Release undoes Retain, unsubscribing when the last local connection
// leaves room.
func (f *Fanout) Release(ctx context.Context, room domain.RoomID) error {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	f.mu.Lock()
	n := f.refs[room]
	switch n {
	case 0:
	case 1:
		delete(f.refs, room)
		delete(f.gens, room)
	default:
		f.refs[room] = n - 1
	}
	f.mu.Unlock()
	if n != 1 {
		return nil
	}
	log.Debug().Str("module", "app.fanout").Str("room", string(room)).Msg("unsubscribed")
	return f.bus.Unsubscribe(ctx, room)
}

// Refs reports how many local connections hold room.
func (f *Fanout) Refs(room domain.RoomID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refs[room]
}

func (f *Fanout) Publish(ctx context.Context, ev domain.Event) error {
	if ev.Origin == "" {
		ev.Origin = f.origin
	}
	return f.bus.Publish(ctx, ev)
}

// Run delivers bus events until ctx is done or the bus closes.
func (f *Fanout) Run(ctx context.Context) error {
	events := f.bus.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				log.Info().Str("module", "app.fanout").Msg("bus closed")
				return nil
			}
			f.Dispatch(ev)
		}
	}
}

// Dispatch applies one event to local connections.
func (f *Fanout) Dispatch(ev domain.Event) {
	switch ev.Kind {
	case domain.EventRoster:
		if ev.Roster == nil || !f.advance(ev.Room, ev.Roster.Generation) {
			return
		}
		f.broadcast(ev)
	case domain.EventMessage, domain.EventMessageDeleted:
		f.broadcast(ev)
	case domain.EventEvict:
		if ev.Evict == nil {
			return
		}
		for _, id := range ev.Evict.Conns {
			if c, ok := f.reg.Conn(id); ok {
				log.Info().Str("module", "app.fanout").Str("conn", string(id)).Str("room", string(ev.Room)).Str("reason", ev.Evict.Reason).Msg("evicting connection")
				f.evict(id, c, ev.Evict.Reason)
			}
		}
	default:
		log.Warn().Str("module", "app.fanout").Str("kind", string(ev.Kind)).Msg("unknown event")
	}
}

// SetEvictGrace sets how long an evicted connection has to close on its own.
func (f *Fanout) SetEvictGrace(d time.Duration) { f.grace = d }

// evict asks c to leave and cancels it through the registry if it is still
// bound once the grace period is over.
func (f *Fanout) evict(id domain.ConnID, c core.SignalConnection, reason string) {
	c.Evict(reason)
	time.AfterFunc(f.grace, func() {
		if f.reg.Cancel(id) {
			log.Warn().Str("module", "app.fanout").Str("conn", string(id)).Str("reason", reason).Msg("evicted connection outlived grace period")
		}
	})
}

// advance records gen for room and reports whether it is newer than the
// last snapshot applied.
func (f *Fanout) advance(room domain.RoomID, gen int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refs[room] == 0 {
		return false
	}
	if gen <= f.gens[room] {
		log.Debug().Str("module", "app.fanout").Str("room", string(room)).Int64("gen", gen).Int64("last", f.gens[room]).Msg("stale roster discarded")
		return false
	}
	f.gens[room] = gen
	return true
}

func (f *Fanout) broadcast(ev domain.Event) {
	frame, err := f.encode(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "app.fanout").Str("kind", string(ev.Kind)).Msg("encode event")
		return
	}
	sent, dropped := 0, 0
	for _, snap := range f.reg.MembersOfRoom(ev.Room) {
		err := snap.Conn.TrySend(frame)
		if err == nil {
			sent++
			continue
		}
		dropped++
		if !errors.Is(err, core.ErrBackpressure) {
			continue
		}
		switch f.policy.OnBackPressure(ev.Room, snap.ID, ev) {
		case Disconnect:
			log.Warn().Str("module", "app.fanout").Str("conn", string(snap.ID)).Str("room", string(ev.Room)).Msg("slow consumer disconnected")
			f.evict(snap.ID, snap.Conn, domain.ReasonSlow)
		case DropFrame, NoAction:
		}
	}
	log.Debug().Str("module", "app.fanout").Str("room", string(ev.Room)).Str("kind", string(ev.Kind)).Int("sent_to", sent).Int("dropped", dropped).Msg("broadcast result")
}
