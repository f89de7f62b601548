package store

// upsertEntryScript inserts or advances one entry and returns
// {previous status or "", resulting status}.
// KEYS[1] entry hash, KEYS[2] entry index set.
// ARGV[1] content hash, ARGV[2] status, ARGV[3] server, ARGV[4] external id,
// ARGV[5..] immutable field/value pairs.
const upsertEntryScript = `
local ranks = {waiting = 0, in_progress = 1, served = 2, removed = 2}
local prev = redis.call('HGET', KEYS[1], 'status')
redis.call('SADD', KEYS[2], ARGV[1])
if not prev then
  for i = 5, #ARGV, 2 do
    redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
  end
  redis.call('HSET', KEYS[1], 'status', ARGV[2])
  if ARGV[3] ~= '' then redis.call('HSET', KEYS[1], 'server', ARGV[3]) end
  if ARGV[4] ~= '' then redis.call('HSET', KEYS[1], 'external_id', ARGV[4]) end
  return {'', ARGV[2]}
end
if ARGV[4] ~= '' then redis.call('HSET', KEYS[1], 'external_id', ARGV[4]) end
local terminal = prev == 'served' or prev == 'removed'
local advance = prev == ARGV[2]
if not advance and not terminal and ranks[ARGV[2]] ~= nil then
  advance = ranks[ARGV[2]] > ranks[prev]
end
if not advance then
  return {prev, prev}
end
redis.call('HSET', KEYS[1], 'status', ARGV[2])
if ARGV[3] ~= '' then
  redis.call('HSET', KEYS[1], 'server', ARGV[3])
else
  redis.call('HDEL', KEYS[1], 'server')
end
return {prev, ARGV[2]}
`

// retireAbsentScript moves absent entries from one status to another and
// returns the retired hashes.
// KEYS[1] entry index set.
// ARGV[1] entry key prefix, ARGV[2] from, ARGV[3] to, ARGV[4] time out,
// ARGV[5] implicit flag ("1" or ""), ARGV[6..] present hashes.
const retireAbsentScript = `
local present = {}
for i = 6, #ARGV do present[ARGV[i]] = true end
local retired = {}
for _, hash in ipairs(redis.call('SMEMBERS', KEYS[1])) do
  if not present[hash] then
    local key = ARGV[1] .. hash
    if redis.call('HGET', key, 'status') == ARGV[2] then
      redis.call('HSET', key, 'status', ARGV[3])
      redis.call('HSETNX', key, 'time_out', ARGV[4])
      if ARGV[5] ~= '' then redis.call('HSET', key, 'implicitly', '1') end
      table.insert(retired, hash)
    end
  end
end
return retired
`

// appendHistoryScript stores a ledger record if its content key is new and
// extends the timeline when the content differs from the latest
// observation. Returns {inserted, observed}.
// KEYS[1] history hash, KEYS[2] timeline sorted set.
// ARGV[1] content key, ARGV[2] record JSON, ARGV[3] score, ARGV[4] timeline member.
const appendHistoryScript = `
local inserted = redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2])
local last = redis.call('ZRANGE', KEYS[2], -1, -1)
local observed = 0
if #last == 0 or string.sub(last[1], -string.len(ARGV[1])) ~= ARGV[1] then
  redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
  observed = 1
end
return {inserted, observed}
`

// appendEventScript appends an event once per event ID. Returns 1 when the
// event was appended.
// KEYS[1] event list, KEYS[2] event ID set. ARGV[1] event ID, ARGV[2] event JSON.
const appendEventScript = `
if redis.call('SADD', KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call('RPUSH', KEYS[1], ARGV[2])
return 1
`
