package accumulator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/smallbiznis/lantern/internal/clock"
	"github.com/smallbiznis/lantern/internal/observability/metrics"
	"github.com/smallbiznis/lantern/internal/usage/canonical"
	"github.com/smallbiznis/lantern/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Snapshot is a point-in-time read of one tenant's accumulator.
type Snapshot struct {
	TenantID int64
	// Entries are keyed by canonical resource key.
	Entries map[string]domain.AccumulatorEntry
	stored  map[string]domain.AccumulatorEntry
}

func (s Snapshot) Empty() bool { return len(s.Entries) == 0 }

func (s Snapshot) TotalHits() int64 {
	var total int64
	for _, entry := range s.Entries {
		total += entry.Hits
	}
	return total
}

// Keys returns the canonical keys in lexical order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.Entries))
	for key := range s.Entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type ClearResult struct {
	TenantID  int64 `json:"tenant_id"`
	Resources int   `json:"resources"`
	Hits      int64 `json:"hits"`
}

type Params struct {
	fx.In

	Store   Store
	Canon   *canonical.Canonicalizer
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *metrics.PipelineMetrics `optional:"true"`
}

// Accumulator canonicalizes resource names on the way in and merges aliases
// on the way out.
type Accumulator struct {
	store   Store
	canon   *canonical.Canonicalizer
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.PipelineMetrics
}

func New(p Params) *Accumulator {
	return &Accumulator{
		store:   p.Store,
		canon:   p.Canon,
		clock:   p.Clock,
		log:     p.Log.Named("accumulator"),
		metrics: p.Metrics,
	}
}

// Increment records one hit for raw and returns the canonical key it landed on.
func (a *Accumulator) Increment(ctx context.Context, tenantID int64, raw string) (string, error) {
	if tenantID <= domain.GlobalTenantID {
		return "", domain.ErrInvalidTenant
	}
	key := a.canon.Canonicalize(raw)
	if key == "" {
		return "", domain.ErrInvalidResource
	}
	err := a.store.Increment(ctx, tenantID, key, a.clock.Now())
	a.metrics.IncIncrement(err)
	if err != nil {
		return key, err
	}
	return key, nil
}

// Snapshot reads the tenant's pending counts. Stored keys that now
// canonicalize to the same key are merged.
func (a *Accumulator) Snapshot(ctx context.Context, tenantID int64) (Snapshot, error) {
	stored, err := a.store.Read(ctx, tenantID)
	if err != nil {
		return Snapshot{TenantID: tenantID}, err
	}
	now := a.clock.Now()
	for key, entry := range stored {
		if entry.LastHitAt != nil && entry.LastHitAt.After(now) {
			clamped := now
			entry.LastHitAt = &clamped
			stored[key] = entry
		}
	}
	return Snapshot{
		TenantID: tenantID,
		Entries:  a.canon.Merge(stored),
		stored:   stored,
	}, nil
}

// Consume removes exactly the counts captured in snap.
func (a *Accumulator) Consume(ctx context.Context, snap Snapshot) error {
	if len(snap.stored) == 0 {
		return nil
	}
	return a.store.Consume(ctx, snap.TenantID, snap.stored)
}

// Clear drops every pending count for the tenant and reports what was removed.
func (a *Accumulator) Clear(ctx context.Context, tenantID int64) (ClearResult, error) {
	snap, err := a.Snapshot(ctx, tenantID)
	if err != nil {
		return ClearResult{TenantID: tenantID}, err
	}
	if err := a.store.Clear(ctx, tenantID); err != nil {
		return ClearResult{TenantID: tenantID}, err
	}
	a.log.Info("accumulator cleared",
		zap.Int64("tenant_id", tenantID),
		zap.Int("resources", len(snap.Entries)),
		zap.Int64("hits", snap.TotalHits()),
	)
	return ClearResult{TenantID: tenantID, Resources: len(snap.Entries), Hits: snap.TotalHits()}, nil
}

// Tenants lists tenants that may hold pending counts.
func (a *Accumulator) Tenants(ctx context.Context) ([]int64, error) {
	return a.store.Tenants(ctx)
}

// Count returns the number of distinct pending resources.
func (a *Accumulator) Count(ctx context.Context, tenantID int64) (int, error) {
	snap, err := a.Snapshot(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return len(snap.Entries), nil
}

func (a *Accumulator) TotalHits(ctx context.Context, tenantID int64) (int64, error) {
	snap, err := a.Snapshot(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return snap.TotalHits(), nil
}

// Hits returns the pending hits for raw, after canonicalization.
func (a *Accumulator) Hits(ctx context.Context, tenantID int64, raw string) (int64, error) {
	entry, err := a.lookup(ctx, tenantID, raw)
	if err != nil {
		return 0, err
	}
	return entry.Hits, nil
}

func (a *Accumulator) LastHit(ctx context.Context, tenantID int64, raw string) (*time.Time, error) {
	entry, err := a.lookup(ctx, tenantID, raw)
	if err != nil {
		return nil, err
	}
	return entry.LastHitAt, nil
}

func (a *Accumulator) Canonicalize(raw string) string {
	return a.canon.Canonicalize(raw)
}

func (a *Accumulator) lookup(ctx context.Context, tenantID int64, raw string) (domain.AccumulatorEntry, error) {
	key := a.canon.Canonicalize(raw)
	if strings.TrimSpace(key) == "" {
		return domain.AccumulatorEntry{}, fmt.Errorf("lookup %q: %w", raw, domain.ErrInvalidResource)
	}
	snap, err := a.Snapshot(ctx, tenantID)
	if err != nil {
		return domain.AccumulatorEntry{}, err
	}
	return snap.Entries[key], nil
}
