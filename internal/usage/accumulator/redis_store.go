package accumulator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/lantern/internal/config"
	"github.com/smallbiznis/lantern/internal/usage/domain"
	"github.com/smallbiznis/lantern/pkg/kv"
)

const incrementScript = `
local hits = redis.call("HINCRBY", KEYS[1], ARGV[1], 1)
local ts = tonumber(ARGV[2])
local current = tonumber(redis.call("HGET", KEYS[2], ARGV[1]))
if current == nil or ts > current then
  redis.call("HSET", KEYS[2], ARGV[1], ts)
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call("EXPIRE", KEYS[1], ttl)
  redis.call("EXPIRE", KEYS[2], ttl)
end
return hits
`

// ARGV holds (field, hits, lastMillis) triples.
const consumeScript = `
local removed = 0
for i = 1, #ARGV, 3 do
  local field = ARGV[i]
  local left = redis.call("HINCRBY", KEYS[1], field, -tonumber(ARGV[i + 1]))
  if left <= 0 then
    redis.call("HDEL", KEYS[1], field)
    removed = removed + 1
    local last = tonumber(redis.call("HGET", KEYS[2], field))
    if last ~= nil and last <= tonumber(ARGV[i + 2]) then
      redis.call("HDEL", KEYS[2], field)
    end
  end
end
return removed
`

const defaultShards = 16

// RedisStore spreads each tenant's counters over a fixed number of hash
// shards. Every increment is a single HINCRBY plus a compare-and-set on the
// last-hit hash, executed atomically in Lua.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	shards    int
	ttl       func() time.Duration
	increment *redis.Script
	consume   *redis.Script
}

func NewRedisStore(client *redis.Client, cfg config.StoreConfig, settings *config.TrackingSettingsHolder) (*RedisStore, error) {
	if client == nil {
		return nil, kv.ErrStoreNotConfigured
	}
	shards := cfg.Shards
	if shards <= 0 {
		shards = defaultShards
	}
	ttl := func() time.Duration { return config.DefaultTrackingSettings().AccumulatorTTL() }
	if settings != nil {
		ttl = func() time.Duration { return settings.Get().AccumulatorTTL() }
	}
	return &RedisStore{
		client:    client,
		prefix:    cfg.KeyPrefix,
		shards:    shards,
		ttl:       ttl,
		increment: redis.NewScript(incrementScript),
		consume:   redis.NewScript(consumeScript),
	}, nil
}

func (s *RedisStore) Increment(ctx context.Context, tenantID int64, key string, at time.Time) error {
	shard := s.shardFor(key)
	ttl := s.ttl()

	pipe := s.client.Pipeline()
	s.increment.Eval(ctx, pipe,
		[]string{s.hitsKey(tenantID, shard), s.lastKey(tenantID, shard)},
		key, at.UTC().UnixMilli(), int64(ttl/time.Second),
	)
	pipe.SAdd(ctx, s.tenantsKey(), tenantID)
	pipe.Expire(ctx, s.tenantsKey(), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("accumulator increment: %w", err)
	}
	return nil
}

func (s *RedisStore) Read(ctx context.Context, tenantID int64) (map[string]domain.AccumulatorEntry, error) {
	pipe := s.client.Pipeline()
	hits := make([]*redis.MapStringStringCmd, s.shards)
	lasts := make([]*redis.MapStringStringCmd, s.shards)
	for shard := 0; shard < s.shards; shard++ {
		hits[shard] = pipe.HGetAll(ctx, s.hitsKey(tenantID, shard))
		lasts[shard] = pipe.HGetAll(ctx, s.lastKey(tenantID, shard))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("accumulator read: %w", err)
	}

	entries := make(map[string]domain.AccumulatorEntry)
	for shard := 0; shard < s.shards; shard++ {
		last := lasts[shard].Val()
		for key, raw := range hits[shard].Val() {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || n <= 0 {
				continue
			}
			entry := domain.AccumulatorEntry{Hits: n}
			if ms, err := strconv.ParseInt(last[key], 10, 64); err == nil && ms > 0 {
				ts := time.UnixMilli(ms).UTC()
				entry.LastHitAt = &ts
			}
			entries[key] = entry
		}
	}
	return entries, nil
}

func (s *RedisStore) Consume(ctx context.Context, tenantID int64, entries map[string]domain.AccumulatorEntry) error {
	if len(entries) == 0 {
		return nil
	}
	args := make(map[int][]any, s.shards)
	for key, entry := range entries {
		if entry.Hits <= 0 {
			continue
		}
		var ms int64
		if entry.LastHitAt != nil {
			ms = entry.LastHitAt.UTC().UnixMilli()
		}
		shard := s.shardFor(key)
		args[shard] = append(args[shard], key, entry.Hits, ms)
	}

	shards := make([]int, 0, len(args))
	for shard := range args {
		shards = append(shards, shard)
	}
	sort.Ints(shards)

	pipe := s.client.Pipeline()
	for _, shard := range shards {
		s.consume.Eval(ctx, pipe,
			[]string{s.hitsKey(tenantID, shard), s.lastKey(tenantID, shard)},
			args[shard]...,
		)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("accumulator consume: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, tenantID int64) error {
	keys := make([]string, 0, 2*s.shards)
	for shard := 0; shard < s.shards; shard++ {
		keys = append(keys, s.hitsKey(tenantID, shard), s.lastKey(tenantID, shard))
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.SRem(ctx, s.tenantsKey(), tenantID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("accumulator clear: %w", err)
	}
	return nil
}

func (s *RedisStore) Tenants(ctx context.Context) ([]int64, error) {
	members, err := s.client.SMembers(ctx, s.tenantsKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("accumulator tenants: %w", err)
	}
	return parseTenants(members), nil
}

func (s *RedisStore) shardFor(key string) int {
	return int(xxhash.Sum64String(key) % uint64(s.shards))
}

// Keys of one tenant share a hash tag so a shard's two hashes live in one slot.
func (s *RedisStore) hitsKey(tenantID int64, shard int) string {
	return fmt.Sprintf("{%s}:s%d:hits", kv.Key(s.prefix, "acc", strconv.FormatInt(tenantID, 10)), shard)
}

func (s *RedisStore) lastKey(tenantID int64, shard int) string {
	return fmt.Sprintf("{%s}:s%d:last", kv.Key(s.prefix, "acc", strconv.FormatInt(tenantID, 10)), shard)
}

func (s *RedisStore) tenantsKey() string {
	return kv.Key(s.prefix, "acc", "tenants")
}

func parseTenants(members []string) []int64 {
	out := make([]int64, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
