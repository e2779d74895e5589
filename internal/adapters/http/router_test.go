package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Chat/internal/adapters/memory"
	"github.com/dkeye/Chat/internal/adapters/signal"
	"github.com/dkeye/Chat/internal/app"
	"github.com/dkeye/Chat/internal/app/orch"
	"github.com/dkeye/Chat/internal/config"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type fixture struct {
	router   *gin.Engine
	sessions *memory.Sessions
	presence *memory.Presence
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	reg := app.NewRegistry()
	fan := app.NewFanout(memory.NewHub().Node(), reg, nil, signal.EncodeEvent, "test")
	go fan.Run(ctx)
	rooms := memory.NewRooms()
	rooms.Put(domain.Room{ID: "r1", Name: "General", OwnerID: "owner", Capacity: 5, PasswordHash: "x"})
	presence := memory.NewPresence(time.Minute)
	o := &orch.Orchestrator{
		Registry: reg,
		Presence: presence,
		Fanout:   fan,
		Rooms:    rooms,
		Accounts: memory.NewAccounts(),
		Bans:     memory.NewBans(),
		Messages: memory.NewMessages(),
		Limiter:  memory.NewRateLimiter(5, time.Second),
		Options:  orch.DefaultOptions(),
	}
	sessions := memory.NewSessions()
	sessions.Put(domain.Session{Token: "good", UserID: "alice", ExpiresAt: time.Now().Add(time.Hour)})

	cfg := &config.Config{Mode: "test", Secret: "0123456789abcdef", NodeID: "n1", Session: config.SessionConfig{TTL: time.Hour}}
	gw := signal.NewGateway(o, sessions, signal.DefaultOptions())
	r := SetupRouter(ctx, cfg, Deps{Orch: o, Gateway: gw, Sessions: sessions})
	return &fixture{router: r, sessions: sessions, presence: presence}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("body %q: %v", w.Body.String(), err)
	}
	return m
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	w := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if m := decode(t, w); m["status"] != "ok" || m["node"] != "n1" {
		t.Errorf("body = %v", m)
	}
}

func TestRoster_RequiresSession(t *testing.T) {
	f := newFixture(t)
	for _, auth := range []string{"", "Bearer nope"} {
		req := httptest.NewRequest(http.MethodGet, "/api/rooms/r1/roster", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		w := f.do(req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("auth %q: status = %d, want 401", auth, w.Code)
		}
		if m := decode(t, w); m["code"] != "authentication_failed" {
			t.Errorf("auth %q: body = %v", auth, m)
		}
	}
}

func TestRoster_Snapshot(t *testing.T) {
	f := newFixture(t)
	_, _ = f.presence.Add(context.Background(), "r1", "bob", "c1")

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/r1/roster?token=good", nil)
	w := f.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body)
	}
	m := decode(t, w)
	if m["count"] != float64(1) || m["protected"] != true || m["name"] != "General" {
		t.Errorf("body = %v", m)
	}
	if _, ok := m["passwordHash"]; ok {
		t.Error("password hash leaked")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/rooms/missing/roster", nil)
	req.Header.Set("Authorization", "Bearer good")
	if w := f.do(req); w.Code != http.StatusNotFound {
		t.Errorf("missing room status = %d, want 404", w.Code)
	}
}

func TestSession_CookieLifecycle(t *testing.T) {
	f := newFixture(t)

	w := f.do(httptest.NewRequest(http.MethodPut, "/api/session", strings.NewReader(`{"token":"nope"}`)))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unknown token status = %d", w.Code)
	}
	w = f.do(httptest.NewRequest(http.MethodPut, "/api/session", strings.NewReader(`{}`)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty body status = %d", w.Code)
	}

	w = f.do(httptest.NewRequest(http.MethodPut, "/api/session", strings.NewReader(`{"token":"good"}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("put status = %d body=%s", w.Code, w.Body)
	}
	if m := decode(t, w); m["userId"] != "alice" {
		t.Errorf("body = %v", m)
	}
	cookies := w.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("no session cookie set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/r1/roster", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	if w := f.do(req); w.Code != http.StatusOK {
		t.Fatalf("roster via cookie status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/session", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	if w := f.do(req); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	if s, _ := f.sessions.Resolve(context.Background(), "good"); s != nil {
		t.Error("token not revoked")
	}
}

func TestWebSocketEndpoint(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	header := http.Header{"Authorization": []string{"Bearer good"}}
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(map[string]string{"type": "whoami"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m map[string]any
	if err := ws.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	if m["type"] != "whoami" || m["userId"] != "alice" {
		t.Errorf("frame = %v", m)
	}
}

func TestListRooms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.presence.Add(ctx, "r1", "bob", "c1")
	_, _ = f.presence.Add(ctx, "r1", "carol", "c2")

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := f.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	rooms := decode(t, w)["rooms"].([]any)
	if len(rooms) != 1 {
		t.Fatalf("rooms = %v", rooms)
	}
	if r := rooms[0].(map[string]any); r["roomId"] != "r1" || r["count"] != float64(2) {
		t.Errorf("room = %v", r)
	}
}
