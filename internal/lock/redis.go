package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/lantern/pkg/kv"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

type RedisLocker struct {
	client *redis.Client
	prefix string
	script *redis.Script
}

func NewRedisLocker(client *redis.Client, prefix string) (*RedisLocker, error) {
	if client == nil {
		return nil, kv.ErrStoreNotConfigured
	}
	return &RedisLocker{
		client: client,
		prefix: prefix,
		script: redis.NewScript(releaseScript),
	}, nil
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := validate(key, ttl); err != nil {
		return "", false, err
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(key), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{l.key(key)}, token).Err()
}

func (l *RedisLocker) key(name string) string {
	return kv.Key(l.prefix, "lock", name)
}
