package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Chat/internal/domain"
)

func TestRateLimiter_WindowResets(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(0, 0)
	rl := NewRateLimiter(3, 10*time.Second)
	rl.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if ok, _ := rl.Allow(ctx, "u"); !ok {
			t.Fatalf("attempt %d rejected", i+1)
		}
	}
	if ok, _ := rl.Allow(ctx, "u"); ok {
		t.Fatal("4th attempt inside window should be rejected")
	}
	if ok, _ := rl.Allow(ctx, "other"); !ok {
		t.Error("limits are per user")
	}
	now = now.Add(11 * time.Second)
	if ok, _ := rl.Allow(ctx, "u"); !ok {
		t.Error("attempt after window should pass")
	}
}

func TestBans_CreateGetDelete(t *testing.T) {
	ctx := context.Background()
	b := NewBans()
	ban := domain.RoomBan{RoomID: "r1", UserID: "m", Reason: "spam"}
	if err := b.Create(ctx, ban); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := b.Create(ctx, ban); !errors.Is(err, domain.ErrAlreadyBanned) {
		t.Errorf("second Create err = %v, want ErrAlreadyBanned", err)
	}
	got, err := b.Get(ctx, "r1", "m")
	if err != nil || got == nil || got.Reason != "spam" {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	if err := b.Delete(ctx, "r1", "m"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := b.Delete(ctx, "r1", "m"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second Delete err = %v, want ErrNotFound", err)
	}
}

func TestBans_ExpiredRecordCanBeReplaced(t *testing.T) {
	ctx := context.Background()
	b := NewBans()
	past := time.Now().Add(-time.Hour)
	_ = b.Create(ctx, domain.RoomBan{RoomID: "r1", UserID: "m", ExpiresAt: &past})
	if err := b.Create(ctx, domain.RoomBan{RoomID: "r1", UserID: "m", Reason: "again"}); err != nil {
		t.Fatalf("Create over expired ban: %v", err)
	}
}

func TestMessages_MarkDeleted(t *testing.T) {
	ctx := context.Background()
	m := NewMessages()
	msg, err := m.Append(ctx, domain.Message{RoomID: "r1", UserID: "alice", Content: "hi", Type: domain.MessageText})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if msg.ID == "" || msg.CreatedAt.IsZero() {
		t.Fatalf("Append did not enrich message: %+v", msg)
	}
	again, err := m.Append(ctx, domain.Message{ID: msg.ID, RoomID: "r1", UserID: "alice", Content: "changed", Type: domain.MessageText})
	if err != nil || again.Content != "hi" || !again.CreatedAt.Equal(msg.CreatedAt) {
		t.Fatalf("replayed Append = %+v, %v; want the first copy", again, err)
	}
	if m.Len() != 1 {
		t.Fatalf("Len after replay = %d, want 1", m.Len())
	}
	if _, err := m.MarkDeleted(ctx, "r1", msg.ID, "bob"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("non-author delete err = %v, want ErrForbidden", err)
	}
	if _, err := m.MarkDeleted(ctx, "r2", msg.ID, "alice"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("wrong room delete err = %v, want ErrNotFound", err)
	}
	id, err := m.MarkDeleted(ctx, "r1", msg.ID, "alice")
	if err != nil || id != msg.ID {
		t.Fatalf("MarkDeleted = %q, %v", id, err)
	}
	if _, err := m.MarkDeleted(ctx, "r1", msg.ID, "alice"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("double delete err = %v, want ErrNotFound", err)
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0", m.Len())
	}
}

func TestSessions_ResolveExpired(t *testing.T) {
	ctx := context.Background()
	s := NewSessions()
	s.Put(domain.Session{Token: "live", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)})
	s.Put(domain.Session{Token: "old", UserID: "u2", ExpiresAt: time.Now().Add(-time.Hour)})

	if got, _ := s.Resolve(ctx, "live"); got == nil || got.UserID != "u1" {
		t.Errorf("Resolve(live) = %+v", got)
	}
	if got, _ := s.Resolve(ctx, "old"); got != nil {
		t.Errorf("Resolve(old) = %+v, want nil", got)
	}
	_ = s.Revoke(ctx, "live")
	if got, _ := s.Resolve(ctx, "live"); got != nil {
		t.Errorf("Resolve after Revoke = %+v, want nil", got)
	}
}
