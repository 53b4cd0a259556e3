// Package kv owns the shared Redis connection used for ephemeral pipeline state.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/lantern/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrStoreNotConfigured = errors.New("store_not_configured")

var Module = fx.Module("kv",
	fx.Provide(NewClient),
)

// NewClient dials Redis when the redis backend is selected. With the memory
// backend it returns a nil client and callers fall back to in-process stores.
func NewClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*redis.Client, error) {
	if !cfg.UsesRedis() {
		log.Info("ephemeral store uses process memory", zap.String("backend", cfg.Store.Backend))
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.Store.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr: %w", ErrStoreNotConfigured)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     strings.TrimSpace(cfg.Store.Password),
		DB:           cfg.Store.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping %s: %w", addr, err)
			}
			log.Info("redis connected", zap.String("addr", addr), zap.Int("db", cfg.Store.DB))
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

// Key joins parts under prefix with ':' separators.
func Key(prefix string, parts ...string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "lantern"
	}
	return prefix + ":" + strings.Join(parts, ":")
}
