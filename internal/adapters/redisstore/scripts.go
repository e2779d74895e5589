package redisstore

import "github.com/redis/go-redis/v9"

// Socket index values are "<room>|<deadline unix ms>". The room part may
// itself contain '|', so entries are split on the last one.
//
// Common KEYS layout for the membership scripts:
//   KEYS[1] room members set
//   KEYS[2] room generation counter
//   KEYS[3] user socket index hash
//   KEYS[4] active rooms set

// ARGV: user, conn, room, deadline, ttl ms
var addScript = redis.NewScript(`
redis.call('SADD', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[3], ARGV[2], ARGV[3] .. '|' .. ARGV[4])
redis.call('PEXPIRE', KEYS[3], ARGV[5])
redis.call('SADD', KEYS[4], ARGV[3])
local gen = redis.call('INCR', KEYS[2])
return {gen, redis.call('SMEMBERS', KEYS[1])}
`)

// ARGV: user, conn ('' to only settle), room, now
// Returns false when nothing changed.
var removeScript = redis.NewScript(`
local function split(v)
  return string.match(v, '^(.*)|(%d+)$')
end
local changed = false
if ARGV[2] ~= '' then
  local v = redis.call('HGET', KEYS[3], ARGV[2])
  if v and split(v) == ARGV[3] then
    redis.call('HDEL', KEYS[3], ARGV[2])
    changed = true
  end
end
local live = false
local entries = redis.call('HGETALL', KEYS[3])
for i = 1, #entries, 2 do
  local room, deadline = split(entries[i + 1])
  if room == ARGV[3] then
    if tonumber(deadline) > tonumber(ARGV[4]) then
      live = true
    else
      redis.call('HDEL', KEYS[3], entries[i])
      changed = true
    end
  end
end
if not live then
  if redis.call('SREM', KEYS[1], ARGV[1]) == 1 then
    changed = true
  end
end
if not changed then
  return false
end
local gen = redis.call('INCR', KEYS[2])
local members = redis.call('SMEMBERS', KEYS[1])
if #members == 0 then
  redis.call('SREM', KEYS[4], ARGV[3])
end
return {gen, members}
`)

// ARGV: user, room
// Returns false when the user had neither membership nor sockets there.
var removeUserScript = redis.NewScript(`
local function split(v)
  return string.match(v, '^(.*)|(%d+)$')
end
local conns = {}
local entries = redis.call('HGETALL', KEYS[3])
for i = 1, #entries, 2 do
  if split(entries[i + 1]) == ARGV[2] then
    table.insert(conns, entries[i])
    redis.call('HDEL', KEYS[3], entries[i])
  end
end
local removed = redis.call('SREM', KEYS[1], ARGV[1])
if removed == 0 and #conns == 0 then
  return false
end
local gen = redis.call('INCR', KEYS[2])
local members = redis.call('SMEMBERS', KEYS[1])
if #members == 0 then
  redis.call('SREM', KEYS[4], ARGV[2])
end
return {gen, members, conns}
`)

// KEYS: members, gen
var snapshotScript = redis.NewScript(`
local gen = tonumber(redis.call('GET', KEYS[2]) or '0')
return {gen, redis.call('SMEMBERS', KEYS[1])}
`)

// KEYS: socket index. ARGV: conn, room, deadline, ttl ms
var touchScript = redis.NewScript(`
local function split(v)
  return string.match(v, '^(.*)|(%d+)$')
end
local v = redis.call('HGET', KEYS[1], ARGV[1])
if not v or split(v) ~= ARGV[2] then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2] .. '|' .. ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// KEYS: attempt log. ARGV: now ms, window ms, limit, member
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
  redis.call('PEXPIRE', KEYS[1], window)
  return 0
end
redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], window)
return 1
`)
