package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	ListByTenant(ctx context.Context, db *gorm.DB, tenantID int64, activeOnly bool) ([]InventoryEntry, error)
	Insert(ctx context.Context, db *gorm.DB, entry *InventoryEntry) error
	Update(ctx context.Context, db *gorm.DB, entry *InventoryEntry) error
	DeleteByIDs(ctx context.Context, db *gorm.DB, tenantID int64, ids []int64) (int64, error)
}
