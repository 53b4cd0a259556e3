package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrNoRoot        = errors.New("inventory_root_not_configured")
)

// ScanResult reports one walk of the inventory root.
type ScanResult struct {
	Success  bool   `json:"success"`
	TenantID int64  `json:"tenant_id"`
	Message  string `json:"message,omitempty"`
	Found    int    `json:"found"`
	Added    int    `json:"added"`
	Updated  int    `json:"updated"`
	Removed  int    `json:"removed"`
	Err      error  `json:"-"`
}

// KnownResource is the inventory lookup row joined against usage by reports.
type KnownResource struct {
	ResourceKey  string     `json:"resource_key"`
	FilePath     string     `json:"file_path"`
	LastModified *time.Time `json:"last_modified,omitempty"`
}

type Service interface {
	Scan(ctx context.Context, tenantID int64) ScanResult
	ListKnownResources(ctx context.Context, tenantID int64) ([]KnownResource, error)
}
