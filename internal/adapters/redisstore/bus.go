package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	channelPrefix = keyPrefix + "events:"
	busBuffer     = 1024
)

var ErrBusClosed = errors.New("bus closed")

// Bus fans events out over Redis pub/sub, one channel per room.
type Bus struct {
	rdb    *redis.Client
	ps     *redis.PubSub
	events chan domain.Event

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

var _ core.Bus = (*Bus)(nil)

func NewBus(ctx context.Context, rdb *redis.Client) *Bus {
	b := &Bus{
		rdb:    rdb,
		ps:     rdb.Subscribe(ctx),
		events: make(chan domain.Event, busBuffer),
		done:   make(chan struct{}),
	}
	go b.pump(b.ps.Channel(redis.WithChannelSize(busBuffer)))
	return b
}

func roomChannel(room domain.RoomID) string { return channelPrefix + string(room) }

func (b *Bus) pump(in <-chan *redis.Message) {
	defer close(b.events)
	for msg := range in {
		var ev domain.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Warn().Str("module", "redis.bus").Str("channel", msg.Channel).Err(err).Msg("undecodable event")
			continue
		}
		if ev.Room == "" {
			ev.Room = domain.RoomID(strings.TrimPrefix(msg.Channel, channelPrefix))
		}
		select {
		case b.events <- ev:
		case <-b.done:
			return
		}
	}
}

func (b *Bus) Publish(ctx context.Context, ev domain.Event) error {
	if b.isClosed() {
		return ErrBusClosed
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.rdb.Publish(ctx, roomChannel(ev.Room), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Room, err)
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, room domain.RoomID) error {
	if b.isClosed() {
		return ErrBusClosed
	}
	if err := b.ps.Subscribe(ctx, roomChannel(room)); err != nil {
		return fmt.Errorf("subscribe %s: %w", room, err)
	}
	log.Debug().Str("module", "redis.bus").Str("room", string(room)).Msg("subscribed")
	return nil
}

func (b *Bus) Unsubscribe(ctx context.Context, room domain.RoomID) error {
	if b.isClosed() {
		return nil
	}
	if err := b.ps.Unsubscribe(ctx, roomChannel(room)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", room, err)
	}
	log.Debug().Str("module", "redis.bus").Str("room", string(room)).Msg("unsubscribed")
	return nil
}

func (b *Bus) Events() <-chan domain.Event { return b.events }

// Close stops the subscription. The client stays open; it belongs to the caller.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()
	return b.ps.Close()
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
