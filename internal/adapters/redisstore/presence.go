package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Presence keeps room sets, generation counters and the user socket index
// in Redis. Every mutation is a single Lua script, so concurrent processes
// observe a linear history per room.
type Presence struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

var _ core.PresenceStore = (*Presence)(nil)

func NewPresence(rdb *redis.Client, ttl time.Duration) *Presence {
	return &Presence{rdb: rdb, ttl: ttl, now: time.Now}
}

// SetClock replaces the time source used for socket deadlines.
func (p *Presence) SetClock(now func() time.Time) { p.now = now }

func membersKey(room domain.RoomID) string { return keyPrefix + "room:" + string(room) + ":members" }
func genKey(room domain.RoomID) string     { return keyPrefix + "room:" + string(room) + ":gen" }
func socketsKey(user domain.UserID) string { return keyPrefix + "user:" + string(user) + ":sockets" }
func activeKey() string                    { return keyPrefix + "rooms" }

func roomKeys(room domain.RoomID, user domain.UserID) []string {
	return []string{membersKey(room), genKey(room), socketsKey(user), activeKey()}
}

func (p *Presence) Add(ctx context.Context, room domain.RoomID, user domain.UserID, conn domain.ConnID) (domain.Roster, error) {
	deadline := p.now().Add(p.ttl).UnixMilli()
	res, err := addScript.Run(ctx, p.rdb, roomKeys(room, user),
		string(user), string(conn), string(room), deadline, p.ttl.Milliseconds()).Slice()
	if err != nil {
		return domain.Roster{}, fmt.Errorf("presence add: %w", err)
	}
	r, err := parseRoster(room, res)
	if err != nil {
		return domain.Roster{}, err
	}
	log.Debug().Str("module", "redis.presence").Str("room", string(room)).Str("user", string(user)).Str("conn", string(conn)).Int64("gen", r.Generation).Msg("member added")
	return r, nil
}

func (p *Presence) Remove(ctx context.Context, room domain.RoomID, user domain.UserID, conn domain.ConnID) (domain.Roster, bool, error) {
	return p.remove(ctx, room, user, string(conn))
}

func (p *Presence) remove(ctx context.Context, room domain.RoomID, user domain.UserID, conn string) (domain.Roster, bool, error) {
	res, err := removeScript.Run(ctx, p.rdb, roomKeys(room, user),
		string(user), conn, string(room), p.now().UnixMilli()).Slice()
	if errors.Is(err, redis.Nil) {
		r, err := p.Snapshot(ctx, room)
		return r, false, err
	}
	if err != nil {
		return domain.Roster{}, false, fmt.Errorf("presence remove: %w", err)
	}
	r, err := parseRoster(room, res)
	if err != nil {
		return domain.Roster{}, false, err
	}
	return r, true, nil
}

func (p *Presence) RemoveUser(ctx context.Context, room domain.RoomID, user domain.UserID) (domain.Roster, []domain.ConnID, bool, error) {
	res, err := removeUserScript.Run(ctx, p.rdb, roomKeys(room, user), string(user), string(room)).Slice()
	if errors.Is(err, redis.Nil) {
		r, err := p.Snapshot(ctx, room)
		return r, nil, false, err
	}
	if err != nil {
		return domain.Roster{}, nil, false, fmt.Errorf("presence remove user: %w", err)
	}
	r, err := parseRoster(room, res)
	if err != nil {
		return domain.Roster{}, nil, false, err
	}
	var conns []domain.ConnID
	if len(res) > 2 {
		raw, _ := res[2].([]interface{})
		for _, c := range raw {
			if s, ok := c.(string); ok {
				conns = append(conns, domain.ConnID(s))
			}
		}
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i] < conns[j] })
	return r, conns, true, nil
}

func (p *Presence) Drop(ctx context.Context, user domain.UserID, conns []domain.ConnID) error {
	if len(conns) == 0 {
		return nil
	}
	fields := make([]string, len(conns))
	for i, c := range conns {
		fields[i] = string(c)
	}
	if err := p.rdb.HDel(ctx, socketsKey(user), fields...).Err(); err != nil {
		return fmt.Errorf("presence drop: %w", err)
	}
	return nil
}

func (p *Presence) Connections(ctx context.Context, room domain.RoomID, user domain.UserID) ([]domain.ConnID, error) {
	entries, err := p.rdb.HGetAll(ctx, socketsKey(user)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence connections: %w", err)
	}
	now := p.now().UnixMilli()
	var out []domain.ConnID
	for c, v := range entries {
		r, deadline, ok := splitEntry(v)
		if ok && r == room && deadline > now {
			out = append(out, domain.ConnID(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (p *Presence) Snapshot(ctx context.Context, room domain.RoomID) (domain.Roster, error) {
	res, err := snapshotScript.Run(ctx, p.rdb, []string{membersKey(room), genKey(room)}).Slice()
	if err != nil {
		return domain.Roster{}, fmt.Errorf("presence snapshot: %w", err)
	}
	return parseRoster(room, res)
}

func (p *Presence) Touch(ctx context.Context, room domain.RoomID, user domain.UserID, conn domain.ConnID) error {
	deadline := p.now().Add(p.ttl).UnixMilli()
	err := touchScript.Run(ctx, p.rdb, []string{socketsKey(user)},
		string(conn), string(room), deadline, p.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("presence touch: %w", err)
	}
	return nil
}

// Prune settles every member of room; the last changed roster wins.
func (p *Presence) Prune(ctx context.Context, room domain.RoomID) (domain.Roster, bool, error) {
	users, err := p.rdb.SMembers(ctx, membersKey(room)).Result()
	if err != nil {
		return domain.Roster{}, false, fmt.Errorf("presence prune: %w", err)
	}
	var (
		last    domain.Roster
		changed bool
	)
	for _, u := range users {
		r, ok, err := p.remove(ctx, room, domain.UserID(u), "")
		if err != nil {
			return domain.Roster{}, false, err
		}
		if ok {
			last, changed = r, true
		}
	}
	if !changed {
		r, err := p.Snapshot(ctx, room)
		return r, false, err
	}
	return last, true, nil
}

func (p *Presence) Rooms(ctx context.Context) ([]domain.RoomID, error) {
	ids, err := p.rdb.SMembers(ctx, activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("presence rooms: %w", err)
	}
	out := make([]domain.RoomID, len(ids))
	for i, id := range ids {
		out[i] = domain.RoomID(id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func splitEntry(v string) (domain.RoomID, int64, bool) {
	i := strings.LastIndexByte(v, '|')
	if i < 0 {
		return "", 0, false
	}
	d, err := strconv.ParseInt(v[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return domain.RoomID(v[:i]), d, true
}

// parseRoster reads a {gen, members, ...} script reply.
func parseRoster(room domain.RoomID, res []interface{}) (domain.Roster, error) {
	if len(res) < 2 {
		return domain.Roster{}, fmt.Errorf("presence: unexpected reply of %d elements", len(res))
	}
	gen, ok := res[0].(int64)
	if !ok {
		return domain.Roster{}, fmt.Errorf("presence: generation has type %T", res[0])
	}
	raw, _ := res[1].([]interface{})
	r := domain.Roster{Room: room, Users: make([]domain.UserID, 0, len(raw)), Generation: gen}
	for _, m := range raw {
		if s, ok := m.(string); ok {
			r.Users = append(r.Users, domain.UserID(s))
		}
	}
	sort.Slice(r.Users, func(i, j int) bool { return r.Users[i] < r.Users[j] })
	r.Count = len(r.Users)
	return r, nil
}
