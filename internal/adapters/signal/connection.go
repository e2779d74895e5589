package signal

import (
	"encoding/json"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocket close codes sent by the server.
const (
	CloseAuthFailed = 4401
	CloseForced     = 4000
)

// maxCloseReason keeps the close frame payload within 125 bytes.
const maxCloseReason = 120

// Connection is one accepted WebSocket. Only its write pump writes to the
// socket once it is running.
type Connection struct {
	id        domain.ConnID
	ws        *websocket.Conn
	send      chan core.Frame
	evict     chan string
	done      chan struct{}
	writeWait time.Duration

	mu        sync.RWMutex
	closed    bool
	leaving   bool
	evictOnce sync.Once
	closeOnce sync.Once
}

var _ core.SignalConnection = (*Connection)(nil)

func newConnection(id domain.ConnID, ws *websocket.Conn, buffer int, writeWait time.Duration) *Connection {
	return &Connection{
		id:        id,
		ws:        ws,
		send:      make(chan core.Frame, buffer),
		evict:     make(chan string, 1),
		done:      make(chan struct{}),
		writeWait: writeWait,
	}
}

func (c *Connection) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || c.leaving {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
		return nil
	default:
		return core.ErrBackpressure
	}
}

// Evict queues a forcedDisconnect notice ahead of the close. The write pump
// closes the socket once the notice is written or the write fails.
func (c *Connection) Evict(reason string) {
	c.evictOnce.Do(func() {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.leaving = true
		c.mu.Unlock()
		c.evict <- reason
	})
}

func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Connection) writePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case reason := <-c.evict:
			c.writeForced(reason)
			return
		case f := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, f); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("ping failed")
				return
			}
		}
	}
}

func (c *Connection) writeForced(reason string) {
	notice, _ := json.Marshal(ForcedDisconnectFrame{Type: "forcedDisconnect", Reason: reason})
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, notice); err != nil {
		return
	}
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(CloseForced, closeReason(reason)))
}

// closeReason cuts s to fit a close frame without splitting a rune.
func closeReason(s string) string {
	if len(s) <= maxCloseReason {
		return s
	}
	n := maxCloseReason
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
