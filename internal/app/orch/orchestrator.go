// Package orch coordinates room membership and message ingress on top of
// the shared presence store and the fan-out bus.
package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dkeye/Chat/internal/app"
	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog/log"
)

type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
}

type Options struct {
	// EvictDuplicates force-closes a user's older connections to a room
	// when they join it again ("last join wins").
	EvictDuplicates bool
	MaxMessageLen   int
	Retry           RetryPolicy
}

func DefaultOptions() Options {
	return Options{
		EvictDuplicates: true,
		MaxMessageLen:   2000,
		Retry:           RetryPolicy{MaxTries: 3, InitialInterval: 50 * time.Millisecond},
	}
}

type Orchestrator struct {
	Registry *app.Registry
	Presence core.PresenceStore
	Fanout   *app.Fanout
	Rooms    core.RoomProvider
	Accounts core.AccountStatus
	Bans     core.BanStore
	Messages core.MessageStore
	Limiter  core.RateLimiter
	Options  Options
	Now      func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) identity(conn domain.ConnID) (domain.Identity, error) {
	who, ok := o.Registry.Identity(conn)
	if !ok {
		return domain.Identity{}, domain.ErrAuthenticationFailed
	}
	return who, nil
}

// retry runs fn with bounded exponential backoff. Domain errors stop it
// immediately; anything else is treated as a transient store failure and
// surfaces as domain.ErrInternal once the attempts are used up.
func retry[T any](ctx context.Context, p RetryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	tries := p.MaxTries
	if tries == 0 {
		tries = 1
	}
	res, err := backoff.Retry(ctx, func() (T, error) {
		v, err := fn(ctx)
		if err != nil && domain.IsDomain(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(tries))
	if err == nil {
		return res, nil
	}
	if domain.IsDomain(err) {
		return res, err
	}
	log.Error().Err(err).Str("module", "orch").Str("op", op).Uint("tries", tries).Msg("store call failed")
	var zero T
	return zero, fmt.Errorf("%s: %w", op, domain.ErrInternal)
}

func (o *Orchestrator) room(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	room, err := retry(ctx, o.Options.Retry, "get room", func(ctx context.Context) (*domain.Room, error) {
		return o.Rooms.Get(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, domain.ErrNotFound
	}
	return room, nil
}

func (o *Orchestrator) publish(ctx context.Context, ev domain.Event) {
	if err := o.Fanout.Publish(ctx, ev); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("room", string(ev.Room)).Str("kind", string(ev.Kind)).Msg("publish")
	}
}

func (o *Orchestrator) publishRoster(ctx context.Context, r domain.Roster) {
	o.publish(ctx, domain.Event{Kind: domain.EventRoster, Room: r.Room, Roster: &r})
}

// Roster returns the current presence snapshot of a room.
func (o *Orchestrator) Roster(ctx context.Context, id domain.RoomID) (domain.Roster, error) {
	return retry(ctx, o.Options.Retry, "snapshot", func(ctx context.Context) (domain.Roster, error) {
		return o.Presence.Snapshot(ctx, id)
	})
}

// Describe returns a room's metadata with its current roster.
func (o *Orchestrator) Describe(ctx context.Context, id domain.RoomID) (*domain.Room, domain.Roster, error) {
	room, err := o.room(ctx, id)
	if err != nil {
		return nil, domain.Roster{}, err
	}
	r, err := o.Roster(ctx, id)
	if err != nil {
		return nil, domain.Roster{}, err
	}
	return room, r, nil
}

// ActiveRooms lists the roster of every room that currently has presence.
func (o *Orchestrator) ActiveRooms(ctx context.Context) ([]domain.Roster, error) {
	ids, err := retry(ctx, o.Options.Retry, "list rooms", o.Presence.Rooms)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Roster, 0, len(ids))
	for _, id := range ids {
		r, err := o.Roster(ctx, id)
		if err != nil {
			return nil, err
		}
		if r.Count > 0 {
			out = append(out, r)
		}
	}
	return out, nil
}
