package core

import "errors"

// Frame is a raw encoded payload for one connection.
type Frame []byte

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend queues f without blocking; ErrBackpressure when the outbound
	// buffer is full.
	TrySend(Frame) error
	// Evict sends a best-effort forced-disconnect notice and closes the
	// transport after it. The caller cancels the connection if it is still
	// open after a grace period.
	Evict(reason string)
	Close()
}
