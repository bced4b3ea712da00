package redis

const (
	// createStatusScript atomically stores a status record and indexes it by time
	createStatusScript = `
local record_key = KEYS[1]    -- focusguard:status:{id}
local index_key = KEYS[2]     -- focusguard:status:index

local id = ARGV[1]
local client_name = ARGV[2]
local timestamp = ARGV[3]
local score = tonumber(ARGV[4])
local max_records = tonumber(ARGV[5])

redis.call('HSET', record_key,
  'id', id,
  'client_name', client_name,
  'timestamp', timestamp
)
-- Set TTL to 90 days (7776000 seconds)
redis.call('EXPIRE', record_key, 7776000)

redis.call('ZADD', index_key, score, id)

-- Trim the index to the newest max_records entries
if max_records > 0 then
  local count = redis.call('ZCARD', index_key)
  if count > max_records then
    local stale = redis.call('ZRANGE', index_key, 0, count - max_records - 1)
    for _, old_id in ipairs(stale) do
      redis.call('DEL', 'focusguard:status:' .. old_id)
    end
    redis.call('ZREMRANGEBYRANK', index_key, 0, count - max_records - 1)
  end
end

return 'OK'
`
)
