package app

import (
	"context"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog/log"
)

// Janitor prunes presence left behind by connections that died without
// cleanup (for example a crashed process) and re-broadcasts the roster.
type Janitor struct {
	Presence core.PresenceStore
	Out      Publisher
	Interval time.Duration
}

func (j *Janitor) Run(ctx context.Context) error {
	t := time.NewTicker(j.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over every room with presence.
func (j *Janitor) Sweep(ctx context.Context) int {
	rooms, err := j.Presence.Rooms(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "app.janitor").Msg("list rooms")
		return 0
	}
	pruned := 0
	for _, room := range rooms {
		r, changed, err := j.Presence.Prune(ctx, room)
		if err != nil {
			log.Error().Err(err).Str("module", "app.janitor").Str("room", string(room)).Msg("prune")
			continue
		}
		if !changed {
			continue
		}
		pruned++
		log.Info().Str("module", "app.janitor").Str("room", string(room)).Int("count", r.Count).Msg("pruned stale presence")
		if err := j.Out.Publish(ctx, domain.Event{Kind: domain.EventRoster, Room: room, Roster: &r}); err != nil {
			log.Error().Err(err).Str("module", "app.janitor").Str("room", string(room)).Msg("publish roster")
		}
	}
	return pruned
}
