package scheduler

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/lantern/internal/clock"
	obsmetrics "github.com/smallbiznis/lantern/internal/observability/metrics"
	"github.com/smallbiznis/lantern/pkg/kv"
)

const (
	flagFlush     = "flush"
	flagScan      = "scan"
	flagAggregate = "aggregate"
)

// Flags holds debounce state shared by every instance handling traffic.
type Flags interface {
	// Claim sets the queued flag for name when it is unset and the last
	// claim is at least interval old. It returns the debounce decision.
	Claim(ctx context.Context, name string, now time.Time, interval time.Duration) (string, error)
	// Mark records a run at now without touching the queued flag.
	Mark(ctx context.Context, name string, now time.Time) error
	Last(ctx context.Context, name string) (time.Time, bool, error)
}

func scanFlag(tenantID int64) string {
	return flagScan + ":" + strconv.FormatInt(tenantID, 10)
}

// claimScript returns 0 when claimed, 1 when already queued, 2 when too soon.
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 1
end
local last = redis.call('GET', KEYS[2])
if last and (tonumber(ARGV[1]) - tonumber(last)) < tonumber(ARGV[2]) then
	return 2
end
redis.call('SET', KEYS[1], '1', 'PX', ARGV[2])
redis.call('SET', KEYS[2], ARGV[1])
return 0
`)

type RedisFlags struct {
	client *redis.Client
	prefix string
}

func NewRedisFlags(client *redis.Client, prefix string) (*RedisFlags, error) {
	if client == nil {
		return nil, kv.ErrStoreNotConfigured
	}
	return &RedisFlags{client: client, prefix: prefix}, nil
}

func (f *RedisFlags) Claim(ctx context.Context, name string, now time.Time, interval time.Duration) (string, error) {
	code, err := claimScript.Run(ctx, f.client,
		[]string{f.queuedKey(name), f.lastKey(name)},
		now.UnixMilli(), interval.Milliseconds(),
	).Int()
	if err != nil {
		return obsmetrics.DebounceStoreError, err
	}
	return claimDecision(code), nil
}

func (f *RedisFlags) Mark(ctx context.Context, name string, now time.Time) error {
	return f.client.Set(ctx, f.lastKey(name), now.UnixMilli(), 0).Err()
}

func (f *RedisFlags) Last(ctx context.Context, name string) (time.Time, bool, error) {
	ms, err := f.client.Get(ctx, f.lastKey(name)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

func (f *RedisFlags) queuedKey(name string) string { return kv.Key(f.prefix, name, "queued") }

func (f *RedisFlags) lastKey(name string) string { return kv.Key(f.prefix, name, "last") }

type memoryFlag struct {
	queuedUntil time.Time
	last        time.Time
	hasLast     bool
}

// MemoryFlags keeps debounce state in process for single-instance deployments.
type MemoryFlags struct {
	mu    sync.Mutex
	clock clock.Clock
	flags map[string]*memoryFlag
}

func NewMemoryFlags(clk clock.Clock) *MemoryFlags {
	return &MemoryFlags{clock: clk, flags: make(map[string]*memoryFlag)}
}

func (f *MemoryFlags) Claim(_ context.Context, name string, now time.Time, interval time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	flag := f.get(name)
	if f.clock.Now().Before(flag.queuedUntil) {
		return claimDecision(1), nil
	}
	if flag.hasLast && now.Sub(flag.last) < interval {
		return claimDecision(2), nil
	}
	flag.queuedUntil = f.clock.Now().Add(interval)
	flag.last = now
	flag.hasLast = true
	return claimDecision(0), nil
}

func (f *MemoryFlags) Mark(_ context.Context, name string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	flag := f.get(name)
	flag.last = now
	flag.hasLast = true
	return nil
}

func (f *MemoryFlags) Last(_ context.Context, name string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	flag, ok := f.flags[name]
	if !ok || !flag.hasLast {
		return time.Time{}, false, nil
	}
	return flag.last, true, nil
}

func (f *MemoryFlags) get(name string) *memoryFlag {
	flag, ok := f.flags[name]
	if !ok {
		flag = &memoryFlag{}
		f.flags[name] = flag
	}
	return flag
}

func claimDecision(code int) string {
	switch code {
	case 0:
		return obsmetrics.DebounceEnqueued
	case 1:
		return obsmetrics.DebounceQueued
	default:
		return obsmetrics.DebounceTooSoon
	}
}
