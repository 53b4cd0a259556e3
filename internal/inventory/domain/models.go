// Package domain contains the inventory of resources known to exist on disk.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// InventoryEntry is one resource discovered under the inventory root.
type InventoryEntry struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	TenantID       int64        `gorm:"not null;uniqueIndex:ux_inventory_tenant_key,priority:1"`
	ResourceKey    string       `gorm:"type:varchar(500);not null;uniqueIndex:ux_inventory_tenant_key,priority:2"`
	FilePath       string       `gorm:"type:varchar(1000);not null"`
	FileModifiedAt *time.Time
	LastScannedAt  time.Time `gorm:"not null"`
	Active         bool      `gorm:"not null;default:true"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (InventoryEntry) TableName() string { return "inventory_entries" }

func Models() []any {
	return []any{&InventoryEntry{}}
}
