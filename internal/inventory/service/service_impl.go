package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lantern/internal/clock"
	"github.com/smallbiznis/lantern/internal/config"
	inventorydomain "github.com/smallbiznis/lantern/internal/inventory/domain"
	obslogger "github.com/smallbiznis/lantern/internal/observability/logger"
	"github.com/smallbiznis/lantern/internal/usage/canonical"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Repo   inventorydomain.Repository
	Canon  *canonical.Canonicalizer
	Config config.Config
	Clock  clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  inventorydomain.Repository
	canon *canonical.Canonicalizer
	root  string
	clock clock.Clock
}

func New(p Params) inventorydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("inventory.service"),
		genID: p.GenID,
		repo:  p.Repo,
		canon: p.Canon,
		root:  strings.TrimSpace(p.Config.InventoryRoot),
		clock: p.Clock,
	}
}

type discovered struct {
	path     string
	modified time.Time
}

// Scan walks the inventory root and reconciles the tenant's entries with it.
func (s *Service) Scan(ctx context.Context, tenantID int64) inventorydomain.ScanResult {
	result := inventorydomain.ScanResult{TenantID: tenantID}
	if tenantID <= 0 {
		return scanFailed(result, inventorydomain.ErrInvalidTenant)
	}
	if s.root == "" {
		return scanFailed(result, inventorydomain.ErrNoRoot)
	}
	log := obslogger.WithTenant(s.log, tenantID)

	files, err := s.walk(ctx)
	if err != nil {
		log.Warn("inventory walk failed", zap.String("root", s.root), zap.Error(err))
		return scanFailed(result, err)
	}
	result.Found = len(files)

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.ListByTenant(ctx, tx, tenantID, false)
		if err != nil {
			return err
		}

		seen := make(map[string]struct{}, len(files))
		var stale []int64
		for i := range existing {
			entry := existing[i]
			file, ok := files[entry.ResourceKey]
			if !ok {
				stale = append(stale, entry.ID.Int64())
				continue
			}
			seen[entry.ResourceKey] = struct{}{}

			changed := !entry.Active || entry.FilePath != file.path || !sameTime(entry.FileModifiedAt, file.modified)
			modified := file.modified
			entry.FilePath = file.path
			entry.FileModifiedAt = &modified
			entry.Active = true
			entry.LastScannedAt = now
			entry.UpdatedAt = now
			if err := s.repo.Update(ctx, tx, &entry); err != nil {
				return err
			}
			if changed {
				result.Updated++
			}
		}

		for key, file := range files {
			if _, ok := seen[key]; ok {
				continue
			}
			modified := file.modified
			if err := s.repo.Insert(ctx, tx, &inventorydomain.InventoryEntry{
				ID:             s.genID.Generate(),
				TenantID:       tenantID,
				ResourceKey:    key,
				FilePath:       file.path,
				FileModifiedAt: &modified,
				LastScannedAt:  now,
				Active:         true,
				CreatedAt:      now,
				UpdatedAt:      now,
			}); err != nil {
				return err
			}
			result.Added++
		}

		removed, err := s.repo.DeleteByIDs(ctx, tx, tenantID, stale)
		if err != nil {
			return err
		}
		result.Removed = int(removed)
		return nil
	})
	if err != nil {
		log.Error("inventory scan failed", zap.Error(err))
		return scanFailed(inventorydomain.ScanResult{TenantID: tenantID, Found: result.Found}, err)
	}

	// names that did not resolve before may resolve now
	s.canon.Reset()

	result.Success = true
	result.Message = fmt.Sprintf("found %d, added %d, updated %d, removed %d", result.Found, result.Added, result.Updated, result.Removed)
	log.Info("inventory scanned",
		zap.Int("found", result.Found),
		zap.Int("added", result.Added),
		zap.Int("updated", result.Updated),
		zap.Int("removed", result.Removed),
	)
	return result
}

func (s *Service) ListKnownResources(ctx context.Context, tenantID int64) ([]inventorydomain.KnownResource, error) {
	if tenantID <= 0 {
		return nil, inventorydomain.ErrInvalidTenant
	}
	entries, err := s.repo.ListByTenant(ctx, s.db, tenantID, true)
	if err != nil {
		return nil, err
	}
	out := make([]inventorydomain.KnownResource, 0, len(entries))
	for _, entry := range entries {
		out = append(out, inventorydomain.KnownResource{
			ResourceKey:  entry.ResourceKey,
			FilePath:     entry.FilePath,
			LastModified: entry.FileModifiedAt,
		})
	}
	return out, nil
}

// walk returns files with a known extension keyed by resource key. The first
// file in lexical order wins when two files share a key.
func (s *Service) walk(ctx context.Context) (map[string]discovered, error) {
	files := make(map[string]discovered)
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != s.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || skipFile(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if s.canon.StripExtension(rel) == rel {
			return nil
		}
		key := s.canon.Normalize(rel)
		if key == "" {
			return nil
		}
		if _, dup := files[key]; dup {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		files[key] = discovered{path: rel, modified: info.ModTime().UTC().Truncate(time.Second)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// skipFile drops hidden and editor backup files.
func skipFile(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~")
}

func sameTime(stored *time.Time, modified time.Time) bool {
	return stored != nil && stored.UTC().Truncate(time.Second).Equal(modified)
}

func scanFailed(result inventorydomain.ScanResult, err error) inventorydomain.ScanResult {
	result.Success = false
	result.Err = err
	result.Message = err.Error()
	return result
}
