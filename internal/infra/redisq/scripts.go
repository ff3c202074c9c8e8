package redisq

import "github.com/redis/go-redis/v9"

// Every state transition runs as one script so that concurrent workers see
// either the old or the new state of a job, never a mix.

// KEYS: job, main. ARGV: id, then field/value pairs of the job hash.
// Returns the queue position, or 0 when the id is taken.
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
return redis.call('RPUSH', KEYS[2], ARGV[1])
`)

// KEYS: main, processing. ARGV: job key prefix, deadline ms, now, deadline.
var dequeueScript = redis.NewScript(`
while true do
  local id = redis.call('LPOP', KEYS[1])
  if not id then return false end
  local jk = ARGV[1] .. id
  if redis.call('HGET', jk, 'state') == 'queued' then
    redis.call('ZADD', KEYS[2], ARGV[2], id)
    redis.call('HINCRBY', jk, 'attempt', 1)
    redis.call('HSET', jk, 'state', 'processing', 'started_at', ARGV[3], 'updated_at', ARGV[3], 'deadline', ARGV[4])
    return redis.call('HGETALL', jk)
  end
end
`)

// KEYS: processing, job. ARGV: id, attempt, result, now.
var completeScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[2], 'state')
if not st then return -1 end
if st ~= 'processing' or redis.call('HGET', KEYS[2], 'attempt') ~= ARGV[2] then return 0 end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], 'state', 'completed', 'result', ARGV[3], 'updated_at', ARGV[4], 'finished_at', ARGV[4], 'deadline', '')
return 1
`)

// KEYS: processing, job, main, delayed.
// ARGV: id, attempt, reason, now, run-at ms (0 = now), run-at.
var retryScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[2], 'state')
if not st then return -1 end
if st ~= 'processing' or redis.call('HGET', KEYS[2], 'attempt') ~= ARGV[2] then return 0 end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HINCRBY', KEYS[2], 'retry_count', 1)
redis.call('HSET', KEYS[2], 'last_error', ARGV[3], 'updated_at', ARGV[4], 'deadline', '')
if tonumber(ARGV[5]) > 0 then
  redis.call('HSET', KEYS[2], 'state', 'failed', 'next_run_at', ARGV[6])
  redis.call('ZADD', KEYS[4], ARGV[5], ARGV[1])
else
  redis.call('HSET', KEYS[2], 'state', 'queued', 'next_run_at', '')
  redis.call('RPUSH', KEYS[3], ARGV[1])
end
return 1
`)

// KEYS: processing, job, dlq. ARGV: id, attempt, reason, now.
var buryScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[2], 'state')
if not st then return -1 end
if st ~= 'processing' or redis.call('HGET', KEYS[2], 'attempt') ~= ARGV[2] then return 0 end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], 'state', 'dlq', 'last_error', ARGV[3], 'updated_at', ARGV[4], 'finished_at', ARGV[4], 'deadline', '')
redis.call('RPUSH', KEYS[3], ARGV[1])
return 1
`)

// KEYS: dlq, main, job. ARGV: id, now.
var requeueScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then return 0 end
redis.call('HSET', KEYS[3], 'state', 'queued', 'retry_count', 0, 'updated_at', ARGV[2], 'next_run_at', '', 'finished_at', '')
redis.call('HINCRBY', KEYS[3], 'requeues', 1)
redis.call('RPUSH', KEYS[2], ARGV[1])
return redis.call('HGETALL', KEYS[3])
`)

// KEYS: dlq, main. ARGV: job key prefix, now.
var requeueAllScript = redis.NewScript(`
local ids = redis.call('LRANGE', KEYS[1], 0, -1)
for _, id in ipairs(ids) do
  local jk = ARGV[1] .. id
  redis.call('HSET', jk, 'state', 'queued', 'retry_count', 0, 'updated_at', ARGV[2], 'next_run_at', '', 'finished_at', '')
  redis.call('HINCRBY', jk, 'requeues', 1)
  redis.call('RPUSH', KEYS[2], id)
end
redis.call('DEL', KEYS[1])
return #ids
`)

// KEYS: delayed, main. ARGV: now ms, limit, job key prefix, now.
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('HSET', ARGV[3] .. id, 'state', 'queued', 'next_run_at', '', 'updated_at', ARGV[4])
  redis.call('RPUSH', KEYS[2], id)
end
return #ids
`)

var allScripts = []*redis.Script{
	enqueueScript, dequeueScript, completeScript, retryScript, buryScript,
	requeueScript, requeueAllScript, promoteScript,
}
