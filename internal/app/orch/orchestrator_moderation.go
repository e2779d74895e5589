package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog/log"
)

// owned loads roomID and checks that the caller on conn owns it.
func (o *Orchestrator) owned(ctx context.Context, conn domain.ConnID, roomID domain.RoomID) (*domain.Room, domain.UserID, error) {
	who, err := o.identity(conn)
	if err != nil {
		return nil, "", err
	}
	room, err := o.room(ctx, roomID)
	if err != nil {
		return nil, "", err
	}
	if !room.IsOwner(who.UserID) {
		return nil, "", domain.ErrForbidden
	}
	return room, who.UserID, nil
}

// Kick removes target from the room and force-closes every connection
// they hold there. No ban record is written.
func (o *Orchestrator) Kick(ctx context.Context, conn domain.ConnID, roomID domain.RoomID, target domain.UserID) error {
	_, owner, err := o.owned(ctx, conn, roomID)
	if err != nil {
		return err
	}
	if target == owner {
		return domain.ErrForbidden
	}
	if err := o.expel(ctx, roomID, target, domain.ReasonKicked); err != nil {
		return err
	}
	log.Info().Str("module", "orch").Str("room", string(roomID)).Str("target", string(target)).Str("by", string(owner)).Msg("kicked")
	return nil
}

// Ban persists a room ban for a currently present member and then expels
// them like Kick. A zero duration bans until the record is removed.
func (o *Orchestrator) Ban(ctx context.Context, conn domain.ConnID, roomID domain.RoomID, target domain.UserID, reason string, duration time.Duration) error {
	_, owner, err := o.owned(ctx, conn, roomID)
	if err != nil {
		return err
	}
	if target == owner {
		return domain.ErrForbidden
	}
	snap, err := o.Roster(ctx, roomID)
	if err != nil {
		return err
	}
	if !snap.Contains(target) {
		return domain.ErrNotFound
	}
	existing, err := retry(ctx, o.Options.Retry, "get ban", func(ctx context.Context) (*domain.RoomBan, error) {
		return o.Bans.Get(ctx, roomID, target)
	})
	if err != nil {
		return err
	}
	now := o.now()
	if existing.Active(now) {
		return domain.ErrAlreadyBanned
	}

	ban := domain.RoomBan{RoomID: roomID, UserID: target, Reason: reason, BannedBy: owner, CreatedAt: now.UTC()}
	if duration > 0 {
		until := now.Add(duration).UTC()
		ban.ExpiresAt = &until
	}
	attempts := 0
	if _, err := retry(ctx, o.Options.Retry, "create ban", func(ctx context.Context) (struct{}, error) {
		attempts++
		err := o.Bans.Create(ctx, ban)
		// A conflict on a later attempt is our own earlier write landing.
		if attempts > 1 && errors.Is(err, domain.ErrAlreadyBanned) {
			return struct{}{}, nil
		}
		return struct{}{}, err
	}); err != nil {
		return err
	}

	evictReason := domain.ReasonBanned
	if reason != "" {
		evictReason += ": " + reason
	}
	// The record is what keeps the user out; a member who left in the
	// meantime is simply already gone.
	if err := o.expel(ctx, roomID, target, evictReason); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	log.Info().Str("module", "orch").Str("room", string(roomID)).Str("target", string(target)).Str("by", string(owner)).Str("reason", reason).Msg("banned")
	return nil
}

// Unban deletes the room ban record for target.
func (o *Orchestrator) Unban(ctx context.Context, conn domain.ConnID, roomID domain.RoomID, target domain.UserID) error {
	_, owner, err := o.owned(ctx, conn, roomID)
	if err != nil {
		return err
	}
	if _, err := retry(ctx, o.Options.Retry, "delete ban", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.Bans.Delete(ctx, roomID, target)
	}); err != nil {
		return err
	}
	log.Info().Str("module", "orch").Str("room", string(roomID)).Str("target", string(target)).Str("by", string(owner)).Msg("unbanned")
	return nil
}

// expel drops target from room presence, asks every process to close
// the target's connections there and broadcasts the new roster.
func (o *Orchestrator) expel(ctx context.Context, roomID domain.RoomID, target domain.UserID, reason string) error {
	type removal struct {
		roster  domain.Roster
		conns   []domain.ConnID
		changed bool
	}
	res, err := retry(ctx, o.Options.Retry, "remove user", func(ctx context.Context) (removal, error) {
		r, conns, changed, err := o.Presence.RemoveUser(ctx, roomID, target)
		return removal{r, conns, changed}, err
	})
	if err != nil {
		return err
	}
	if !res.changed {
		return domain.ErrNotFound
	}
	if len(res.conns) > 0 {
		o.publish(ctx, domain.Event{
			Kind:  domain.EventEvict,
			Room:  roomID,
			Evict: &domain.Eviction{User: target, Conns: res.conns, Reason: reason},
		})
	}
	o.publishRoster(ctx, res.roster)
	return nil
}
