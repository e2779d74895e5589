// Package signal is the WebSocket gateway: handshake authentication,
// framing, heartbeat and dispatch of client events to the coordinator.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/Chat/internal/app/orch"
	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:  32768,
		PingPeriod: 54 * time.Second,
		PongWait:   60 * time.Second,
		WriteWait:  10 * time.Second,
		SendBuffer: 64,
	}
}

const cleanupTimeout = 5 * time.Second

type Gateway struct {
	orch     *orch.Orchestrator
	sessions core.SessionResolver
	opts     Options
	upgrader websocket.Upgrader
}

func NewGateway(o *orch.Orchestrator, sessions core.SessionResolver, opts Options) *Gateway {
	return &Gateway{
		orch:     o,
		sessions: sessions,
		opts:     opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve upgrades the request and runs the connection until it closes.
// ctx bounds the connection's lifetime, not just the handshake.
func (g *Gateway) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, token string) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	sess, err := g.authenticate(ctx, token)
	if err != nil {
		g.reject(ws, err)
		return
	}
	who := sess.Identity()
	id := domain.ConnID(uuid.NewString())
	c := newConnection(id, ws, g.opts.SendBuffer, g.opts.WriteWait)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(connCtx, c.Close)
	defer stop()

	g.orch.Registry.Bind(id, who, c, cancel)
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("user", string(who.UserID)).Msg("new WS connection")

	go c.writePump(g.opts.PingPeriod)
	g.readPump(connCtx, c, who)
}

func (g *Gateway) authenticate(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, domain.ErrAuthenticationFailed
	}
	sess, err := g.sessions.Resolve(ctx, token)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("resolve session")
		return nil, domain.ErrInternal
	}
	if sess == nil {
		return nil, domain.ErrAuthenticationFailed
	}
	return sess, nil
}

func (g *Gateway) reject(ws *websocket.Conn, err error) {
	defer ws.Close()
	code := CloseAuthFailed
	if !errors.Is(err, domain.ErrAuthenticationFailed) {
		code = websocket.CloseInternalServerErr
	}
	deadline := time.Now().Add(g.opts.WriteWait)
	_ = ws.SetWriteDeadline(deadline)
	if data, merr := json.Marshal(errorFrame(err, "")); merr == nil {
		_ = ws.WriteMessage(websocket.TextMessage, data)
	}
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, domain.Code(err)), deadline)
	log.Info().Str("module", "signal").Str("code", domain.Code(err)).Msg("handshake rejected")
}

func (g *Gateway) readPump(ctx context.Context, c *Connection, who domain.Identity) {
	defer func() {
		c.Close()
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		g.orch.Disconnect(cleanupCtx, c.id)
		log.Info().Str("module", "signal").Str("conn", string(c.id)).Str("user", string(who.UserID)).Msg("connection closed")
	}()

	c.ws.SetReadLimit(g.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(g.opts.PongWait))
		g.orch.Touch(ctx, c.id)
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("read error")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(g.opts.PongWait))
		g.handle(ctx, c, who, data)
	}
}

func (g *Gateway) handle(ctx context.Context, c *Connection, who domain.Identity, data []byte) {
	ev, err := Decode(data)
	if err != nil {
		g.replyError(c, err, "")
		return
	}
	g.orch.Touch(ctx, c.id)

	switch e := ev.(type) {
	case *JoinEvent:
		room := domain.RoomID(e.RoomID)
		roster, err := g.orch.Join(ctx, c.id, room, e.Password)
		if err != nil {
			g.replyError(c, err, e.Kind())
			return
		}
		g.reply(c, JoinedFrame{Type: "joined", RoomID: room, Roster: rosterFrame(roster)})
	case *LeaveEvent:
		room := domain.RoomID(e.RoomID)
		if err := g.orch.Leave(ctx, c.id, room); err != nil {
			g.replyError(c, err, e.Kind())
			return
		}
		g.reply(c, LeftFrame{Type: "left", RoomID: room})
	case *SendEvent:
		typ := domain.MessageType(e.MessageType)
		if typ == "" {
			typ = domain.MessageText
		}
		if _, err := g.orch.Send(ctx, c.id, domain.RoomID(e.RoomID), e.Content, typ); err != nil {
			g.replyError(c, err, e.Kind())
		}
	case *DeleteEvent:
		if err := g.orch.Delete(ctx, c.id, domain.RoomID(e.RoomID), e.MessageID); err != nil {
			g.replyError(c, err, e.Kind())
		}
	case *KickEvent:
		if err := g.orch.Kick(ctx, c.id, domain.RoomID(e.RoomID), domain.UserID(e.UserID)); err != nil {
			g.replyError(c, err, e.Kind())
		}
	case *BanEvent:
		d := time.Duration(e.Duration) * time.Second
		if err := g.orch.Ban(ctx, c.id, domain.RoomID(e.RoomID), domain.UserID(e.UserID), e.Reason, d); err != nil {
			g.replyError(c, err, e.Kind())
		}
	case *UnbanEvent:
		if err := g.orch.Unban(ctx, c.id, domain.RoomID(e.RoomID), domain.UserID(e.UserID)); err != nil {
			g.replyError(c, err, e.Kind())
		}
	case PingEvent:
		g.reply(c, PongFrame{Type: "pong"})
	case WhoAmIEvent:
		room, _ := g.orch.Registry.RoomOf(c.id)
		g.reply(c, WhoAmIFrame{Type: "whoami", UserID: who.UserID, IsAdmin: who.IsAdmin, RoomID: room})
	}
}

func (g *Gateway) reply(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode reply")
		return
	}
	if err := c.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Msg("reply dropped")
	}
}

func (g *Gateway) replyError(c *Connection, err error, request string) {
	if domain.Code(err) == "internal" {
		log.Error().Err(err).Str("module", "signal").Str("conn", string(c.id)).Str("request", request).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("module", "signal").Str("conn", string(c.id)).Str("request", request).Msg("request rejected")
	}
	g.reply(c, errorFrame(err, request))
}
