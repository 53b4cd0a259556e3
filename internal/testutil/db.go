// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	usagedomain "github.com/smallbiznis/lantern/internal/usage/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// OpenDB returns an isolated in-memory SQLite database migrated with models.
// The usage tables are always included.
func OpenDB(t testing.TB, models ...any) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Discard,
		SkipDefaultTransaction: true,
		TranslateError:         true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(append(usagedomain.Models(), models...)...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// Seeder writes pipeline rows directly, bypassing the accumulator.
type Seeder struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewSeeder(db *gorm.DB, genID *snowflake.Node) *Seeder {
	return &Seeder{db: db, genID: genID}
}

func (s *Seeder) Daily(ctx context.Context, tenantID int64, key string, day time.Time, hits int64) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Create(&usagedomain.UsageDaily{
		ID:          s.genID.Generate(),
		ResourceKey: key,
		TenantID:    tenantID,
		Day:         datatypes.Date(day.UTC()),
		Hits:        hits,
		CreatedAt:   now,
		UpdatedAt:   now,
	}).Error
}

func (s *Seeder) Monthly(ctx context.Context, tenantID int64, key string, month time.Time, hits int64) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Create(&usagedomain.UsageMonthly{
		ID:          s.genID.Generate(),
		ResourceKey: key,
		TenantID:    tenantID,
		Month:       datatypes.Date(month.UTC()),
		Hits:        hits,
		CreatedAt:   now,
		UpdatedAt:   now,
	}).Error
}

func (s *Seeder) Total(ctx context.Context, tenantID int64, key string, hits int64, lastUsed *time.Time) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Create(&usagedomain.UsageTotal{
		ID:          s.genID.Generate(),
		ResourceKey: key,
		TenantID:    tenantID,
		TotalHits:   hits,
		LastUsedAt:  lastUsed,
		FirstSeenAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}).Error
}

// Count returns the row count of model's table.
func Count(t testing.TB, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
