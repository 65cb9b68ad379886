package chargegate

import "github.com/redis/go-redis/v9"

// serverTimeSentinel in ARGV[1] tells the script to read the Redis server
// clock instead of a client-supplied time.
const serverTimeSentinel = "server"

// chargeScript evaluates a whole batch of charges atomically.
//
// KEYS: one bucket key per request.
// ARGV: now_or_sentinel, n, then per request: rate, size, amount, limit, adjust.
//
// Bucket state lives in a hash under the bucket key with two fields:
//
//	level  current token count (float, may be negative)
//	ts     seconds since epoch when level was last computed (float)
//
// Both are stored as %.17g strings so float64 values round-trip exactly; the
// reply carries levels the same way, because Redis truncates Lua numbers to
// integers on the way out.
//
// The script plans every request first and commits only if all of them are
// admissible, so a batch is all-or-nothing from any observer's view. On a
// failed batch nothing is written and the refilled levels are reported as-is.
// A committed bucket that is back at full capacity is deleted instead of
// written; anything else gets a TTL equal to the time it needs to refill
// completely, except a bucket with rate 0, whose key is kept with no TTL.
var chargeScript = redis.NewScript(`
redis.replicate_commands()

local now
if ARGV[1] == "server" then
  local t = redis.call("TIME")
  now = tonumber(t[1]) + tonumber(t[2]) / 1000000
else
  now = tonumber(ARGV[1])
end

local n = tonumber(ARGV[2])

local function fmt(x)
  return string.format("%.17g", x)
end

local rates = {}
local sizes = {}
local levels = {}
local charges = {}
local stamps = {}
local ok = true

for i = 1, n do
  local base = 2 + (i - 1) * 5
  local rate = tonumber(ARGV[base + 1])
  local size = tonumber(ARGV[base + 2])
  local amount = tonumber(ARGV[base + 3])
  local floor = tonumber(ARGV[base + 4])
  local adjust = tonumber(ARGV[base + 5]) == 1

  local state = redis.call("HMGET", KEYS[i], "level", "ts")
  local level = tonumber(state[1])
  local ts = tonumber(state[2])
  if level == nil then
    -- a bucket with no stored state is full right now
    level = size
    ts = now
  end

  -- refill; a clock that went backward must not deduct tokens
  local elapsed = now - ts
  if elapsed < 0 then
    elapsed = 0
  end
  level = math.min(size, level + rate * elapsed)

  local charge = amount
  if level - amount < floor then
    if adjust then
      charge = level - floor
    else
      ok = false
    end
  end

  rates[i] = rate
  sizes[i] = size
  levels[i] = level
  charges[i] = charge
  -- never rewind a stored timestamp
  stamps[i] = math.max(ts, now)
end

local res = {}
if not ok then
  res[1] = 0
  for i = 1, n do
    res[i + 1] = fmt(levels[i])
  end
  return res
end

res[1] = 1
for i = 1, n do
  local level = math.min(sizes[i], levels[i] - charges[i])
  if level >= sizes[i] then
    redis.call("DEL", KEYS[i])
  else
    redis.call("HSET", KEYS[i], "level", fmt(level), "ts", fmt(stamps[i]))
    if rates[i] > 0 then
      redis.call("EXPIRE", KEYS[i], math.ceil((sizes[i] - level) / rates[i]))
    else
      -- a non-refilling bucket has no refill horizon to expire on
      redis.call("PERSIST", KEYS[i])
    end
  end
  res[i + 1] = fmt(level)
end
return res
`)
