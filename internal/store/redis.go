// redis.go -- go-redis client for the catalog cache.
//
// Each rebuild writes a fresh generation of keys under catalog:<gen>:,
// then flips catalog:current to point at it and drops the old generation.
// Reads run as one Lua script, so a reader sees exactly one generation.
//
// Keys:
//
//	catalog:seq                   INCR counter for generation ids
//	catalog:current               id of the live generation
//	catalog:<gen>:ids             LIST of movie ids, insertion order
//	catalog:<gen>:movie:<id>      HASH of encoded item fields
//	ratelimit:<key>               attempt counter, expires with the window
//	ratelimit:lock:<key>          lockout marker, expires with LockoutTTL
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	catalogSeqKey     = "catalog:seq"
	catalogCurrentKey = "catalog:current"
)

// RedisStore wraps a Redis client for catalog cache operations.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisClient parses redisURL, connects, and pings.
// Call once at startup; the client is shared and safe for concurrent use.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// CheckHealth pings Redis.
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func generationPrefix(gen string) string {
	return "catalog:" + gen
}

// loadScript reads the current generation's ids and hashes atomically.
// Returns a flat array: id1, {field, value, ...}, id2, {...}, ...
var loadScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[1])
if not gen then
    return false
end
local prefix = 'catalog:' .. gen
local ids = redis.call('LRANGE', prefix .. ':ids', 0, -1)
local out = {}
for _, id in ipairs(ids) do
    out[#out + 1] = id
    out[#out + 1] = redis.call('HGETALL', prefix .. ':movie:' .. id)
end
return out
`)

// lookupScript reads a single item from the current generation atomically.
var lookupScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[1])
if not gen then
    return false
end
local fields = redis.call('HGETALL', 'catalog:' .. gen .. ':movie:' .. ARGV[1])
if #fields == 0 then
    return false
end
return fields
`)

// swapScript points KEYS[1] at ARGV[1] and returns the previous generation.
var swapScript = redis.NewScript(`
local old = redis.call('GET', KEYS[1])
redis.call('SET', KEYS[1], ARGV[1])
return old
`)

// dropScript unlinks every key of the generation whose prefix is ARGV[1].
var dropScript = redis.NewScript(`
local prefix = ARGV[1]
local ids = redis.call('LRANGE', prefix .. ':ids', 0, -1)
for _, id in ipairs(ids) do
    redis.call('UNLINK', prefix .. ':movie:' .. id)
end
redis.call('UNLINK', prefix .. ':ids')
return #ids
`)

// SwapCatalog writes records as a new generation and makes it current.
// On a write failure the new generation is dropped and the live one is untouched.
// Returns the new generation id.
func (s *RedisStore) SwapCatalog(ctx context.Context, records []CacheRecord) (int64, error) {
	gen, err := s.rdb.Incr(ctx, catalogSeqKey).Result()
	if err != nil {
		return 0, fmt.Errorf("allocating catalog generation: %w", err)
	}
	genStr := strconv.FormatInt(gen, 10)
	prefix := generationPrefix(genStr)

	pipe := s.rdb.Pipeline()
	ids := make([]interface{}, 0, len(records))
	for _, rec := range records {
		id := strconv.FormatInt(rec.ID, 10)
		pipe.HSet(ctx, prefix+":movie:"+id, rec.Fields)
		ids = append(ids, id)
	}
	if len(ids) > 0 {
		pipe.RPush(ctx, prefix+":ids", ids...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.dropGeneration(ctx, prefix)
		return 0, fmt.Errorf("writing catalog generation %d: %w", gen, err)
	}

	old, err := swapScript.Run(ctx, s.rdb, []string{catalogCurrentKey}, genStr).Text()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.dropGeneration(ctx, prefix)
		return 0, fmt.Errorf("promoting catalog generation %d: %w", gen, err)
	}
	if old != "" {
		s.dropGeneration(ctx, generationPrefix(old))
	}
	return gen, nil
}

// dropGeneration removes a generation's keys. Failures leave orphaned keys
// that no reader can reach, so they are ignored.
func (s *RedisStore) dropGeneration(ctx context.Context, prefix string) {
	dropScript.Run(ctx, s.rdb, []string{catalogCurrentKey}, prefix)
}

// LoadCatalog returns every record of the current generation in insertion order.
// Returns ErrCacheMiss if no generation has been published yet.
func (s *RedisStore) LoadCatalog(ctx context.Context) ([]CacheRecord, error) {
	raw, err := loadScript.Run(ctx, s.rdb, []string{catalogCurrentKey}).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	out := make([]CacheRecord, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		idStr, _ := raw[i].(string)
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing catalog id %q: %w", idStr, err)
		}
		flat, _ := raw[i+1].([]interface{})
		out = append(out, CacheRecord{ID: id, Fields: pairsToMap(flat)})
	}
	return out, nil
}

// LookupCatalog returns one record from the current generation.
// Returns ErrCacheMiss if there is no generation or no such item.
func (s *RedisStore) LookupCatalog(ctx context.Context, id int64) (*CacheRecord, error) {
	raw, err := lookupScript.Run(ctx, s.rdb, []string{catalogCurrentKey}, strconv.FormatInt(id, 10)).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("looking up catalog item %d: %w", id, err)
	}
	return &CacheRecord{ID: id, Fields: pairsToMap(raw)}, nil
}

// pairsToMap converts a flat HGETALL reply into a map.
func pairsToMap(flat []interface{}) map[string]string {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		m[k] = v
	}
	return m
}

// --- Rate limiting ---

// allowScript counts one attempt. Returns 0 while locked out or once the
// count passes ARGV[1]; the lockout (if any) replaces the counter.
var allowScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
    return 0
end
local n = redis.call('INCR', KEYS[1])
if n == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if n > tonumber(ARGV[1]) then
    if tonumber(ARGV[3]) > 0 then
        redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
        redis.call('DEL', KEYS[1])
    end
    return 0
end
return 1
`)

// Allow records an attempt for key under policy.
// Returns ErrRateLimitExceeded when the attempt is refused.
func (s *RedisStore) Allow(ctx context.Context, key string, policy RateLimit) error {
	if policy.MaxAttempts <= 0 || policy.Window <= 0 {
		return nil
	}
	ok, err := allowScript.Run(ctx, s.rdb,
		[]string{"ratelimit:" + key, "ratelimit:lock:" + key},
		policy.MaxAttempts, policy.Window.Milliseconds(), policy.LockoutTTL.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("checking rate limit %q: %w", key, err)
	}
	if ok == 0 {
		return ErrRateLimitExceeded
	}
	return nil
}
