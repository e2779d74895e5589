package orch

import (
	"context"
	"errors"

	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// Join admits the user behind conn into roomID. Every precondition is
// checked before presence is touched; capacity is re-checked after the
// write and rolled back if a concurrent join overfilled the room.
func (o *Orchestrator) Join(ctx context.Context, conn domain.ConnID, roomID domain.RoomID, password string) (domain.Roster, error) {
	who, err := o.identity(conn)
	if err != nil {
		return domain.Roster{}, err
	}
	user := who.UserID
	room, err := o.room(ctx, roomID)
	if err != nil {
		return domain.Roster{}, err
	}

	snap, err := o.Roster(ctx, roomID)
	if err != nil {
		return domain.Roster{}, err
	}
	if cur, ok := o.Registry.RoomOf(conn); ok && cur == roomID && snap.Contains(user) {
		return snap, nil
	}
	present := snap.Contains(user)
	if !present && snap.Count >= room.Capacity {
		return domain.Roster{}, domain.ErrRoomFull
	}

	if room.Protected() && !room.IsOwner(user) {
		if err := bcrypt.CompareHashAndPassword([]byte(room.PasswordHash), []byte(password)); err != nil {
			return domain.Roster{}, domain.ErrInvalidCredentials
		}
	}

	susp, err := retry(ctx, o.Options.Retry, "suspension", func(ctx context.Context) (*domain.Suspension, error) {
		return o.Accounts.Suspension(ctx, user)
	})
	if err != nil {
		return domain.Roster{}, err
	}
	if susp.Active(o.now()) {
		return domain.Roster{}, &domain.SuspendedError{Reason: susp.Reason, Until: susp.Until}
	}

	ban, err := retry(ctx, o.Options.Retry, "get ban", func(ctx context.Context) (*domain.RoomBan, error) {
		return o.Bans.Get(ctx, roomID, user)
	})
	if err != nil {
		return domain.Roster{}, err
	}
	if ban.Active(o.now()) {
		return domain.Roster{}, &domain.BannedError{Reason: ban.Reason}
	}

	if prev, ok := o.Registry.RoomOf(conn); ok {
		if err := o.leave(ctx, conn, user, prev); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("conn", string(conn)).Str("room", string(prev)).Msg("leave previous room")
		}
	}

	if err := o.Fanout.Retain(ctx, roomID); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("room", string(roomID)).Msg("subscribe room")
		return domain.Roster{}, domain.ErrInternal
	}
	roster, err := retry(ctx, o.Options.Retry, "add presence", func(ctx context.Context) (domain.Roster, error) {
		return o.Presence.Add(ctx, roomID, user, conn)
	})
	if err != nil {
		_ = o.Fanout.Release(ctx, roomID)
		return domain.Roster{}, err
	}
	if !present && roster.Count > room.Capacity {
		log.Info().Str("module", "orch").Str("room", string(roomID)).Str("user", string(user)).Int("count", roster.Count).Msg("capacity exceeded by concurrent join, rolling back")
		if r, changed, err := o.Presence.Remove(ctx, roomID, user, conn); err == nil && changed {
			o.publishRoster(ctx, r)
		}
		_ = o.Fanout.Release(ctx, roomID)
		return domain.Roster{}, domain.ErrRoomFull
	}
	o.Registry.UpdateRoom(conn, roomID)

	if o.Options.EvictDuplicates {
		o.evictDuplicates(ctx, conn, user, roomID)
	}
	o.publishRoster(ctx, roster)
	log.Info().Str("module", "orch").Str("conn", string(conn)).Str("user", string(user)).Str("room", string(roomID)).Int("count", roster.Count).Int64("gen", roster.Generation).Msg("joined")
	return roster, nil
}

// evictDuplicates closes every other live connection user holds in room,
// wherever it lives.
func (o *Orchestrator) evictDuplicates(ctx context.Context, conn domain.ConnID, user domain.UserID, room domain.RoomID) {
	conns, err := o.Presence.Connections(ctx, room, user)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room", string(room)).Msg("list duplicate connections")
		return
	}
	others := conns[:0]
	for _, c := range conns {
		if c != conn {
			others = append(others, c)
		}
	}
	if len(others) == 0 {
		return
	}
	if err := o.Presence.Drop(ctx, user, others); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("user", string(user)).Msg("drop duplicate connections")
	}
	log.Info().Str("module", "orch").Str("user", string(user)).Str("room", string(room)).Int("conns", len(others)).Msg("evicting duplicate sessions")
	o.publish(ctx, domain.Event{
		Kind:  domain.EventEvict,
		Room:  room,
		Evict: &domain.Eviction{User: user, Conns: others, Reason: domain.ReasonDuplicate},
	})
}

// Leave takes conn out of roomID. Leaving a room the connection is not in
// is a no-op.
func (o *Orchestrator) Leave(ctx context.Context, conn domain.ConnID, roomID domain.RoomID) error {
	who, ok := o.Registry.Identity(conn)
	if !ok {
		return nil
	}
	if cur, ok := o.Registry.RoomOf(conn); !ok || cur != roomID {
		return nil
	}
	return o.leave(ctx, conn, who.UserID, roomID)
}

func (o *Orchestrator) leave(ctx context.Context, conn domain.ConnID, user domain.UserID, room domain.RoomID) error {
	type removal struct {
		roster  domain.Roster
		changed bool
	}
	res, err := retry(ctx, o.Options.Retry, "remove presence", func(ctx context.Context) (removal, error) {
		r, changed, err := o.Presence.Remove(ctx, room, user, conn)
		return removal{r, changed}, err
	})
	// The local side is released even if the store call failed; the
	// janitor reconciles whatever the store still holds.
	o.Registry.RemoveRoom(conn, room)
	if rerr := o.Fanout.Release(ctx, room); rerr != nil {
		log.Warn().Err(rerr).Str("module", "orch").Str("room", string(room)).Msg("unsubscribe room")
	}
	if err != nil {
		return err
	}
	if res.changed {
		o.publishRoster(ctx, res.roster)
	}
	log.Info().Str("module", "orch").Str("conn", string(conn)).Str("user", string(user)).Str("room", string(room)).Bool("changed", res.changed).Msg("left")
	return nil
}

// Disconnect runs the cleanup for a closed connection and removes it from
// the registry. Safe to call more than once.
func (o *Orchestrator) Disconnect(ctx context.Context, conn domain.ConnID) {
	if room, ok := o.Registry.RoomOf(conn); ok {
		if who, ok := o.Registry.Identity(conn); ok {
			if err := o.leave(ctx, conn, who.UserID, room); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Str("module", "orch").Str("conn", string(conn)).Msg("disconnect cleanup")
			}
		}
	}
	o.Registry.Unbind(conn)
}

// Touch refreshes the liveness deadline of conn's presence entry.
func (o *Orchestrator) Touch(ctx context.Context, conn domain.ConnID) {
	room, ok := o.Registry.RoomOf(conn)
	if !ok {
		return
	}
	who, ok := o.Registry.Identity(conn)
	if !ok {
		return
	}
	if err := o.Presence.Touch(ctx, room, who.UserID, conn); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("conn", string(conn)).Msg("touch presence")
	}
}
