package ledger

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Lua scripts
//
// Redis runs each script to completion before serving any other command, which
// is what makes a cell write, a period append or a table snapshot atomic with
// respect to every other ledger operation. Scripts return integer status codes
// rather than error replies; the client maps them to sentinel errors.

const (
	statusOK            = 1
	statusNoRow         = -1
	statusNoPeriod      = -2
	statusSchemaChanged = -3
)

// fieldsLua renders Fields as a Lua table literal so the scripts and the Go
// constants cannot drift apart.
func fieldsLua() string {
	quoted := make([]string, len(Fields))
	for i, f := range Fields {
		quoted[i] = fmt.Sprintf("'%s'", f)
	}
	return "{" + strings.Join(quoted, ", ") + "}"
}

// writeCellScript sets one cell.
// KEYS[1] row hash, KEYS[2] periods hash.
// ARGV[1] period ordinal, ARGV[2] cell name, ARGV[3] value.
var writeCellScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 0 then
  return -2
end
redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
return 1
`)

// appendPeriodScript adds a period and its column group to every row.
// KEYS[1] periods hash, KEYS[2] rows zset.
// ARGV[1] ordinal, ARGV[2] label, ARGV[3] row key prefix,
// ARGV[4..] pairs of (row id, reviewer handle or "").
// Fails with -3 unless the ordinal is max+1 and the pairs cover exactly the rows.
var appendPeriodScript = redis.NewScript(fmt.Sprintf(`
local fields = %s
local n = tonumber(ARGV[1])
local max = 0
for _, k in ipairs(redis.call('HKEYS', KEYS[1])) do
  local v = tonumber(k)
  if v and v > max then max = v end
end
if n ~= max + 1 then
  return -3
end
local assigned = {}
local count = 0
for i = 4, #ARGV, 2 do
  assigned[ARGV[i]] = ARGV[i + 1]
  count = count + 1
end
local ids = redis.call('ZRANGE', KEYS[2], 0, -1)
if #ids ~= count then
  return -3
end
for _, id in ipairs(ids) do
  if assigned[id] == nil then
    return -3
  end
end
for _, id in ipairs(ids) do
  local args = {}
  for _, f in ipairs(fields) do
    args[#args + 1] = 'p' .. ARGV[1] .. ':' .. f
    if f == 'reviewer' then
      args[#args + 1] = assigned[id]
    else
      args[#args + 1] = ''
    end
  end
  redis.call('HSET', ARGV[3] .. id, unpack(args))
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`, fieldsLua()))

// addParticipantScript inserts a row, or renames an existing one with the same handle.
// New rows receive empty column groups for every existing period.
// KEYS[1] handles hash, KEYS[2] rows zset, KEYS[3] row counter, KEYS[4] periods hash.
// ARGV[1] handle, ARGV[2] name, ARGV[3] row key prefix.
// Returns {id, created}.
var addParticipantScript = redis.NewScript(fmt.Sprintf(`
local fields = %s
local existing = redis.call('HGET', KEYS[1], ARGV[1])
if existing then
  redis.call('HSET', ARGV[3] .. existing, 'name', ARGV[2])
  return {tonumber(existing), 0}
end
local id = redis.call('INCR', KEYS[3])
local sid = tostring(id)
local key = ARGV[3] .. sid
redis.call('HSET', key, 'name', ARGV[2], 'handle', ARGV[1])
for _, n in ipairs(redis.call('HKEYS', KEYS[4])) do
  local args = {}
  for _, f in ipairs(fields) do
    args[#args + 1] = 'p' .. n .. ':' .. f
    args[#args + 1] = ''
  end
  redis.call('HSET', key, unpack(args))
end
redis.call('ZADD', KEYS[2], id, sid)
redis.call('HSET', KEYS[1], ARGV[1], sid)
return {id, 1}
`, fieldsLua()))

// snapshotScript reads the periods hash and every row in one step.
// KEYS[1] rows zset, KEYS[2] periods hash.
// ARGV[1] row key prefix, ARGV[2..] optional cell names; without them whole rows are returned.
// Returns {periods_flat, {{id, values}, ...}} where values is HGETALL output or the
// requested cells in order, "" for missing.
var snapshotScript = redis.NewScript(`
local out = {}
local cells = {}
for i = 2, #ARGV do
  cells[#cells + 1] = ARGV[i]
end
for _, id in ipairs(redis.call('ZRANGE', KEYS[1], 0, -1)) do
  local values
  if #cells > 0 then
    local raw = redis.call('HMGET', ARGV[1] .. id, unpack(cells))
    values = {}
    for j = 1, #cells do
      values[j] = raw[j] or ''
    end
  else
    values = redis.call('HGETALL', ARGV[1] .. id)
  end
  out[#out + 1] = {id, values}
end
return {redis.call('HGETALL', KEYS[2]), out}
`)
