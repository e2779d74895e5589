package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/Chat/internal/domain"
)

func TestSessions_PutResolveRevoke(t *testing.T) {
	ctx := context.Background()
	_, rdb := newClient(t)
	s := NewSessions(rdb)

	sess := domain.Session{Token: "tok", UserID: "alice", IsAdmin: true, ExpiresAt: time.Now().Add(time.Hour)}
	if err := s.Put(ctx, sess); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Resolve(ctx, "tok")
	if err != nil || got == nil {
		t.Fatalf("Resolve: %v, %v", got, err)
	}
	if id := got.Identity(); id.UserID != "alice" || !id.IsAdmin {
		t.Errorf("identity = %+v", id)
	}
	if err := s.Revoke(ctx, "tok"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if got, _ := s.Resolve(ctx, "tok"); got != nil {
		t.Error("revoked token still resolves")
	}
}

func TestSessions_ExpireWithTTL(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newClient(t)
	s := NewSessions(rdb)
	_ = s.Put(ctx, domain.Session{Token: "tok", UserID: "alice", ExpiresAt: time.Now().Add(time.Minute)})

	mr.FastForward(2 * time.Minute)
	if got, err := s.Resolve(ctx, "tok"); got != nil || err != nil {
		t.Errorf("Resolve after expiry = %v, %v", got, err)
	}
}

func TestSessions_UnknownToken(t *testing.T) {
	_, rdb := newClient(t)
	s := NewSessions(rdb)
	for _, tok := range []string{"", "nope"} {
		if got, err := s.Resolve(context.Background(), tok); got != nil || err != nil {
			t.Errorf("Resolve(%q) = %v, %v", tok, got, err)
		}
	}
}
