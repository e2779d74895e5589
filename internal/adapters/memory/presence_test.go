package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dkeye/Chat/internal/domain"
)

func TestPresence_JoinLeaveRestoresRoster(t *testing.T) {
	ctx := context.Background()
	p := NewPresence(time.Minute)

	if _, err := p.Add(ctx, "r1", "alice", "c1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	before, _ := p.Snapshot(ctx, "r1")

	joined, _ := p.Add(ctx, "r1", "bob", "c2")
	if joined.Count != 2 || !joined.Contains("bob") {
		t.Fatalf("after join roster = %+v", joined)
	}
	left, changed, err := p.Remove(ctx, "r1", "bob", "c2")
	if err != nil || !changed {
		t.Fatalf("Remove: changed=%v err=%v", changed, err)
	}
	if left.Count != before.Count || left.Contains("bob") {
		t.Errorf("roster after leave = %+v, want %+v", left, before)
	}
	if left.Generation < before.Generation+2 {
		t.Errorf("generation = %d, want >= %d", left.Generation, before.Generation+2)
	}
}

func TestPresence_RemoveIsConnectionScoped(t *testing.T) {
	ctx := context.Background()
	p := NewPresence(time.Minute)
	_, _ = p.Add(ctx, "r1", "alice", "tab1")
	_, _ = p.Add(ctx, "r1", "alice", "tab2")

	r, _, _ := p.Remove(ctx, "r1", "alice", "tab1")
	if !r.Contains("alice") {
		t.Fatal("alice should stay while tab2 is open")
	}
	r, _, _ = p.Remove(ctx, "r1", "alice", "tab2")
	if r.Contains("alice") || r.Count != 0 {
		t.Fatalf("alice should be gone, roster = %+v", r)
	}
}

func TestPresence_RemoveUnknownIsNoop(t *testing.T) {
	ctx := context.Background()
	p := NewPresence(time.Minute)
	_, _ = p.Add(ctx, "r1", "alice", "c1")
	before, _ := p.Snapshot(ctx, "r1")

	r, changed, err := p.Remove(ctx, "r1", "bob", "c9")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if changed {
		t.Error("removing a non-member should not change anything")
	}
	if r.Generation != before.Generation {
		t.Errorf("generation = %d, want %d", r.Generation, before.Generation)
	}
}

func TestPresence_RemoveUserReturnsConnections(t *testing.T) {
	ctx := context.Background()
	p := NewPresence(time.Minute)
	_, _ = p.Add(ctx, "r1", "mallory", "c1")
	_, _ = p.Add(ctx, "r1", "mallory", "c2")
	_, _ = p.Add(ctx, "r2", "mallory", "c3")

	r, conns, changed, err := p.RemoveUser(ctx, "r1", "mallory")
	if err != nil || !changed {
		t.Fatalf("RemoveUser: changed=%v err=%v", changed, err)
	}
	if len(conns) != 2 || conns[0] != "c1" || conns[1] != "c2" {
		t.Errorf("conns = %v, want [c1 c2]", conns)
	}
	if r.Contains("mallory") {
		t.Error("mallory still present in r1")
	}
	other, _ := p.Connections(ctx, "r2", "mallory")
	if len(other) != 1 {
		t.Errorf("r2 connections = %v, want untouched", other)
	}
}

func TestPresence_PruneExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_000, 0)
	p := NewPresence(time.Minute)
	p.SetClock(func() time.Time { return now })

	_, _ = p.Add(ctx, "r1", "alice", "c1")
	_, _ = p.Add(ctx, "r1", "bob", "c2")

	now = now.Add(45 * time.Second)
	_ = p.Touch(ctx, "r1", "bob", "c2")
	now = now.Add(30 * time.Second)

	r, changed, err := p.Prune(ctx, "r1")
	if err != nil || !changed {
		t.Fatalf("Prune: changed=%v err=%v", changed, err)
	}
	if r.Contains("alice") {
		t.Error("alice expired and should be pruned")
	}
	if !r.Contains("bob") {
		t.Error("bob touched recently and should stay")
	}

	rooms, _ := p.Rooms(ctx)
	if len(rooms) != 1 || rooms[0] != "r1" {
		t.Errorf("Rooms = %v, want [r1]", rooms)
	}
}

func TestPresence_GenerationSurvivesEmptyRoom(t *testing.T) {
	ctx := context.Background()
	p := NewPresence(time.Minute)
	_, _ = p.Add(ctx, "r1", "alice", "c1")
	r, _, _ := p.Remove(ctx, "r1", "alice", "c1")
	again, _ := p.Add(ctx, "r1", "alice", "c2")
	if again.Generation <= r.Generation {
		t.Errorf("generation went from %d to %d", r.Generation, again.Generation)
	}
}

func TestPresence_CountMatchesUsers(t *testing.T) {
	ctx := context.Background()
	p := NewPresence(time.Minute)
	users := []domain.UserID{"a", "b", "c", "a"}
	for i, u := range users {
		r, _ := p.Add(ctx, "r1", u, domain.ConnID(fmt.Sprintf("c%d", i)))
		if r.Count != len(r.Users) {
			t.Fatalf("count %d != len(users) %d", r.Count, len(r.Users))
		}
	}
	r, _ := p.Snapshot(ctx, "r1")
	if r.Count != 3 {
		t.Errorf("Count = %d, want 3", r.Count)
	}
}
