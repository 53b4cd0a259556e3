package ratelimit

import (
	"context"
	"strconv"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/lantern/internal/config"
	"github.com/smallbiznis/lantern/pkg/kv"
	"go.uber.org/fx"
)

// TrackLimiter bounds /v1/track calls per tenant with a shared token bucket.
// A nil limiter allows everything.
type TrackLimiter struct {
	bucket *TokenBucket
	prefix string
	rate   float64
	burst  int
}

type Params struct {
	fx.In

	Config config.Config
	Client *redis.Client `optional:"true"`
}

// NewTrackLimiter returns nil when limiting is off or no Redis is configured.
func NewTrackLimiter(p Params) (*TrackLimiter, error) {
	if p.Config.TrackRate <= 0 || p.Client == nil {
		return nil, nil
	}
	if p.Config.TrackBurst <= 0 {
		return nil, ErrInvalidLimit
	}
	return &TrackLimiter{
		bucket: NewTokenBucket(p.Client),
		prefix: p.Config.Store.KeyPrefix,
		rate:   p.Config.TrackRate,
		burst:  p.Config.TrackBurst,
	}, nil
}

func (l *TrackLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *TrackLimiter) Allow(ctx context.Context, tenantID int64) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, kv.Key(l.prefix, "ratelimit", "track", strconv.FormatInt(tenantID, 10)), l.rate, l.burst)
}
