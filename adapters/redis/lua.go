package redisstore

// luaPutVertex creates a vertex hash unless it exists and adds the vertex to
// its stem index.
//
// KEYS[1] = vertex hash key
// KEYS[2] = stem index set key
// ARGV[1] = sid
// ARGV[2] = creation time (unix seconds)
//
// Returns: 1 if the vertex was created, 0 otherwise
const luaPutVertex = `
local created = redis.call('HSETNX', KEYS[1], 'sid', ARGV[1])
if created == 1 then
  redis.call('HSET', KEYS[1], 'created_at', ARGV[2], 'linked', '0')
end
redis.call('SADD', KEYS[2], ARGV[1])
return created
`

// luaSetLinked sets the linked flag of an existing vertex.
//
// KEYS[1] = vertex hash key
// ARGV[1] = '1' or '0'
//
// Returns: 1 if the vertex exists, 0 otherwise
const luaSetLinked = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'linked', ARGV[1])
return 1
`

// luaAdvance raises a progress field of a vertex if the new value is
// greater, creating the vertex when needed.
//
// KEYS[1] = vertex hash key
// KEYS[2] = stem index set key
// ARGV[1] = progress field
// ARGV[2] = value
// ARGV[3] = sid
//
// Returns: 1 if the stored value changed, 0 otherwise
const luaAdvance = `
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur and tonumber(cur) >= tonumber(ARGV[2]) then
  return 0
end
redis.call('HSETNX', KEYS[1], 'sid', ARGV[3])
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('SADD', KEYS[2], ARGV[3])
return 1
`
