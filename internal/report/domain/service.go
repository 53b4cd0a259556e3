// Package domain contains reports joining usage totals with the inventory.
package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidDays   = errors.New("invalid_days")
)

// StaleResource is an inventory entry with no use since the cutoff.
// LastUsedAt is nil when the resource was never used.
type StaleResource struct {
	ResourceKey      string     `json:"resource_key"`
	FilePath         string     `json:"file_path"`
	FileModifiedAt   *time.Time `json:"file_modified_at,omitempty"`
	TotalHits        int64      `json:"total_hits"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	DaysSinceLastUse *int       `json:"days_since_last_use,omitempty"`
}

// NeverUsedResource is an active inventory entry with no usage total.
type NeverUsedResource struct {
	ResourceKey    string     `json:"resource_key"`
	FilePath       string     `json:"file_path"`
	FileModifiedAt *time.Time `json:"file_modified_at,omitempty"`
	LastScannedAt  *time.Time `json:"last_scanned_at,omitempty"`
}

// OrphanedTotal is a usage total with no active inventory entry.
type OrphanedTotal struct {
	ResourceKey string     `json:"resource_key"`
	TotalHits   int64      `json:"total_hits"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

// Orphans pairs both directions of the inventory and usage mismatch.
type Orphans struct {
	NeverUsed []NeverUsedResource `json:"never_used"`
	Missing   []OrphanedTotal     `json:"missing"`
}

type Service interface {
	Stale(ctx context.Context, tenantID int64, days int) ([]StaleResource, error)
	NeverUsed(ctx context.Context, tenantID int64) ([]NeverUsedResource, error)
	Missing(ctx context.Context, tenantID int64) ([]OrphanedTotal, error)
	Orphans(ctx context.Context, tenantID int64) (Orphans, error)
}
