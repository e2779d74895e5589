package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog/log"
)

const nodeBuffer = 4096

var ErrBusClosed = errors.New("bus closed")

// Hub is an in-process pub/sub exchange. Each Node behaves like one server
// process attached to a shared broker.
type Hub struct {
	mu    sync.RWMutex
	nodes map[*Node]struct{}
}

func NewHub() *Hub {
	return &Hub{nodes: make(map[*Node]struct{})}
}

// Node returns a new bus endpoint attached to the hub.
func (h *Hub) Node() *Node {
	n := &Node{
		hub:    h,
		rooms:  make(map[domain.RoomID]struct{}),
		events: make(chan domain.Event, nodeBuffer),
	}
	h.mu.Lock()
	h.nodes[n] = struct{}{}
	h.mu.Unlock()
	return n
}

type Node struct {
	hub    *Hub
	mu     sync.RWMutex
	rooms  map[domain.RoomID]struct{}
	events chan domain.Event
	closed bool
}

var _ core.Bus = (*Node)(nil)

func (n *Node) Publish(_ context.Context, ev domain.Event) error {
	n.mu.RLock()
	closed := n.closed
	n.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}
	// Holding the hub lock for the whole fan-out keeps each publisher's
	// stream ordered for every receiver.
	n.hub.mu.RLock()
	defer n.hub.mu.RUnlock()
	for node := range n.hub.nodes {
		node.deliver(ev)
	}
	return nil
}

func (n *Node) deliver(ev domain.Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	if _, ok := n.rooms[ev.Room]; !ok {
		return
	}
	select {
	case n.events <- ev:
	default:
		log.Warn().Str("module", "memory.bus").Str("room", string(ev.Room)).Str("kind", string(ev.Kind)).Msg("event dropped")
	}
}

func (n *Node) Subscribe(_ context.Context, room domain.RoomID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrBusClosed
	}
	n.rooms[room] = struct{}{}
	return nil
}

func (n *Node) Unsubscribe(_ context.Context, room domain.RoomID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.rooms, room)
	return nil
}

func (n *Node) Events() <-chan domain.Event { return n.events }

func (n *Node) Close() error {
	n.hub.mu.Lock()
	delete(n.hub.nodes, n)
	n.hub.mu.Unlock()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	close(n.events)
	return nil
}

// Subscribed reports whether the node currently listens on room.
func (n *Node) Subscribed(room domain.RoomID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.rooms[room]
	return ok
}
