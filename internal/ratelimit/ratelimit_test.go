package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/lantern/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestTrackLimiterExhaustsBurstPerTenant(t *testing.T) {
	limiter, err := NewTrackLimiter(Params{
		Config: config.Config{TrackRate: 0.001, TrackBurst: 2, Store: config.StoreConfig{KeyPrefix: "lantern"}},
		Client: newClient(t),
	})
	require.NoError(t, err)
	require.True(t, limiter.Enabled())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, 1)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := limiter.Allow(ctx, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Positive(t, res.RetryAfter)

	res, err = limiter.Allow(ctx, 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestTrackLimiterDisabled(t *testing.T) {
	limiter, err := NewTrackLimiter(Params{Config: config.Config{}})
	require.NoError(t, err)
	assert.False(t, limiter.Enabled())

	res, err := limiter.Allow(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestTokenBucketValidates(t *testing.T) {
	bucket := NewTokenBucket(newClient(t))
	_, err := bucket.Allow(context.Background(), "k", 0, 1)
	assert.ErrorIs(t, err, ErrInvalidLimit)

	var missing *TokenBucket
	_, err = missing.Allow(context.Background(), "k", 1, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
