package redis

import (
	redis "github.com/redis/go-redis/v9"
)

// Tickets are stored in a hash keyed by the ticket key, the values are JSON
// documents produced by cjson within the scripts. A sorted set scored by
// sequence number provides FIFO order.
//
// Times are represented in milliseconds since the Unix epoch, as Lua numbers
// can not represent nanoseconds exactly.

// enqueueScript appends a ticket unless one with the same key already exists.
//
// KEYS: order, tickets, seq
// ARGV: key, token, now
var enqueueScript = redis.NewScript(`
local existing = redis.call('HGET', KEYS[2], ARGV[1])
if existing then
	return existing
end

local seq = redis.call('INCR', KEYS[3])
local now = tonumber(ARGV[3])
local t = cjson.encode({token = ARGV[2], seq = seq, enq = now, vis = now, rev = 1})

redis.call('HSET', KEYS[2], ARGV[1], t)
redis.call('ZADD', KEYS[1], seq, ARGV[1])

return t
`)

// peekScript returns the oldest visible tickets, optionally holding them.
//
// KEYS: order, tickets
// ARGV: n, hold, now
//
// The result is a flat list of alternating keys and ticket documents.
var peekScript = redis.NewScript(`
local n = tonumber(ARGV[1])
local hold = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local result = {}

for _, k in ipairs(redis.call('ZRANGE', KEYS[1], 0, n - 1)) do
	local t = cjson.decode(redis.call('HGET', KEYS[2], k))

	if t.vis > now then
		break
	end

	if hold > 0 then
		t.vis = now + hold
		t.rev = t.rev + 1
	end

	local encoded = cjson.encode(t)

	if hold > 0 then
		redis.call('HSET', KEYS[2], k, encoded)
	end

	table.insert(result, k)
	table.insert(result, encoded)
end

return result
`)

// completeScript removes a ticket if its revision matches.
//
// KEYS: order, tickets
// ARGV: key, revision
var completeScript = redis.NewScript(`
local raw = redis.call('HGET', KEYS[2], ARGV[1])
if not raw then
	return 0
end

local t = cjson.decode(raw)
if t.rev ~= tonumber(ARGV[2]) then
	return 0
end

redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[1], ARGV[1])

return 1
`)

// revealScript makes a ticket visible if its revision matches.
//
// KEYS: tickets
// ARGV: key, revision, now
var revealScript = redis.NewScript(`
local raw = redis.call('HGET', KEYS[1], ARGV[1])
if not raw then
	return 0
end

local t = cjson.decode(raw)
if t.rev ~= tonumber(ARGV[2]) then
	return 0
end

t.vis = tonumber(ARGV[3])
t.rev = t.rev + 1
redis.call('HSET', KEYS[1], ARGV[1], cjson.encode(t))

return 1
`)
