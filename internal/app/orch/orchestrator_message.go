package orch

import (
	"context"

	"github.com/dkeye/Chat/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// member resolves the caller on conn and checks that conn is in roomID.
func (o *Orchestrator) member(conn domain.ConnID, roomID domain.RoomID) (domain.UserID, error) {
	who, err := o.identity(conn)
	if err != nil {
		return "", err
	}
	if cur, ok := o.Registry.RoomOf(conn); !ok || cur != roomID {
		return "", domain.ErrForbidden
	}
	return who.UserID, nil
}

// Send validates, rate-limits and persists a message, then broadcasts the
// stored copy. A rejected message is neither stored nor broadcast.
func (o *Orchestrator) Send(ctx context.Context, conn domain.ConnID, roomID domain.RoomID, content string, typ domain.MessageType) (*domain.Message, error) {
	user, err := o.member(conn, roomID)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateContent(content, typ, o.Options.MaxMessageLen); err != nil {
		return nil, err
	}
	// Counters are not retried: a failed increment may still have counted.
	allowed, err := o.Limiter.Allow(ctx, user)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("user", string(user)).Msg("rate limiter")
		return nil, domain.ErrInternal
	}
	if !allowed {
		log.Debug().Str("module", "orch").Str("user", string(user)).Str("room", string(roomID)).Msg("rate limited")
		return nil, domain.ErrRateLimited
	}
	// One id for every attempt, so a retried insert cannot store twice.
	draft := domain.Message{ID: uuid.NewString(), RoomID: roomID, UserID: user, Content: content, Type: typ}
	msg, err := retry(ctx, o.Options.Retry, "append message", func(ctx context.Context) (*domain.Message, error) {
		return o.Messages.Append(ctx, draft)
	})
	if err != nil {
		return nil, err
	}
	o.publish(ctx, domain.Event{Kind: domain.EventMessage, Room: roomID, Message: msg})
	return msg, nil
}

// Delete marks one of the caller's own messages deleted and broadcasts a
// marker carrying only the id.
func (o *Orchestrator) Delete(ctx context.Context, conn domain.ConnID, roomID domain.RoomID, messageID string) error {
	user, err := o.member(conn, roomID)
	if err != nil {
		return err
	}
	id, err := retry(ctx, o.Options.Retry, "delete message", func(ctx context.Context) (string, error) {
		return o.Messages.MarkDeleted(ctx, roomID, messageID, user)
	})
	if err != nil {
		return err
	}
	o.publish(ctx, domain.Event{Kind: domain.EventMessageDeleted, Room: roomID, MessageID: id})
	log.Info().Str("module", "orch").Str("room", string(roomID)).Str("user", string(user)).Str("message", id).Msg("message deleted")
	return nil
}
