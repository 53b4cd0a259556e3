// Package accumulator holds per-resource hit counters between flushes.
package accumulator

import (
	"context"
	"time"

	"github.com/smallbiznis/lantern/internal/usage/domain"
)

// Store is the shared ephemeral counter store. Increment must be atomic per
// key so concurrent writers never lose hits.
type Store interface {
	Increment(ctx context.Context, tenantID int64, key string, at time.Time) error
	Read(ctx context.Context, tenantID int64) (map[string]domain.AccumulatorEntry, error)
	// Consume subtracts exactly the given entries, leaving hits that arrived
	// after they were read.
	Consume(ctx context.Context, tenantID int64, entries map[string]domain.AccumulatorEntry) error
	Clear(ctx context.Context, tenantID int64) error
	Tenants(ctx context.Context) ([]int64, error)
}
