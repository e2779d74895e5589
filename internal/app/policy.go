package app

import "github.com/dkeye/Chat/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	Disconnect
)

// Policy decides what happens to a local connection whose outbound buffer
// is full during fan-out.
type Policy interface {
	OnBackPressure(room domain.RoomID, conn domain.ConnID, ev domain.Event) BackpressureAction
}

// SimplePolicy drops roster frames for a slow consumer and disconnects it
// on anything else.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(_ domain.RoomID, _ domain.ConnID, ev domain.Event) BackpressureAction {
	if ev.Kind == domain.EventRoster {
		return DropFrame
	}
	return Disconnect
}
