package repository

import (
	"context"

	inventorydomain "github.com/smallbiznis/lantern/internal/inventory/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() inventorydomain.Repository {
	return &repo{}
}

func (r *repo) ListByTenant(ctx context.Context, db *gorm.DB, tenantID int64, activeOnly bool) ([]inventorydomain.InventoryEntry, error) {
	var items []inventorydomain.InventoryEntry
	stmt := db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if activeOnly {
		stmt = stmt.Where("active = ?", true)
	}
	if err := stmt.Order("resource_key ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *inventorydomain.InventoryEntry) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, entry *inventorydomain.InventoryEntry) error {
	return db.WithContext(ctx).Model(&inventorydomain.InventoryEntry{}).
		Where("id = ? AND tenant_id = ?", entry.ID, entry.TenantID).
		Updates(map[string]any{
			"file_path":        entry.FilePath,
			"file_modified_at": entry.FileModifiedAt,
			"last_scanned_at":  entry.LastScannedAt,
			"active":           entry.Active,
			"updated_at":       entry.UpdatedAt,
		}).Error
}

func (r *repo) DeleteByIDs(ctx context.Context, db *gorm.DB, tenantID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Delete(&inventorydomain.InventoryEntry{})
	return res.RowsAffected, res.Error
}
