package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xelth-com/rentsync/internal/models"
)

// GormStore keeps one table per entity, all with the models.SyncRecord layout
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *GormStore) Name() string { return "postgres" }

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Migrate creates or updates every entity table and the history table
func (s *GormStore) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	for _, entity := range models.SyncableEntities {
		if err := db.Table(entity).AutoMigrate(&models.SyncRecord{}); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", entity, err)
		}
	}
	if err := db.AutoMigrate(&models.SyncHistory{}); err != nil {
		return fmt.Errorf("failed to migrate sync history: %w", err)
	}
	return nil
}

func (s *GormStore) Snapshot(ctx context.Context, tenantID string) (map[string][]models.Record, error) {
	out := make(map[string][]models.Record, len(models.SyncableEntities))
	db := s.db.WithContext(ctx)

	for _, entity := range models.SyncableEntities {
		var rows []models.SyncRecord
		if err := db.Table(entity).
			Where("tenant_id = ? AND deleted = ?", tenantID, false).
			Order("created_at, id").
			Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entity, err)
		}

		recs := make([]models.Record, 0, len(rows))
		for _, row := range rows {
			rec, err := row.ToRecord()
			if err != nil {
				return nil, err
			}
			recs = append(recs, rec)
		}
		out[entity] = recs
	}
	return out, nil
}

// Merge locks the row for the duration of a short transaction so two pushes
// of the same record are decided one after the other.
func (s *GormStore) Merge(ctx context.Context, tenantID, entity string, rec models.Record) (models.ItemResult, error) {
	var result models.ItemResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.SyncRecord
		err := tx.Table(entity).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", rec.ID).
			Take(&existing).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			row, err := models.NewSyncRecord(prepare(rec, tenantID, s.now(), true))
			if err != nil {
				result = failed(entity, rec.ID, err.Error())
				return nil
			}
			// a concurrent insert of the same id wins the race; decide again against it
			res := tx.Table(entity).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				result = accepted(entity, rec.ID, row.Version)
				return nil
			}
			if err := tx.Table(entity).
				Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ?", rec.ID).
				Take(&existing).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if existing.TenantID != tenantID {
			result = failed(entity, rec.ID, "record belongs to another tenant")
			return nil
		}
		if !Accept(existing.Version, rec.Version) {
			result = rejected(entity, rec.ID, existing.Version)
			return nil
		}

		next := prepare(rec, tenantID, s.now(), false)
		if !existing.CreatedAt.IsZero() {
			next.CreatedAt = existing.CreatedAt.UTC()
		}
		row, err := models.NewSyncRecord(next)
		if err != nil {
			result = failed(entity, rec.ID, err.Error())
			return nil
		}
		if err := tx.Table(entity).Where("id = ?", rec.ID).Updates(map[string]any{
			"version":    row.Version,
			"deleted":    row.Deleted,
			"data":       row.Data,
			"created_at": row.CreatedAt,
			"updated_at": row.UpdatedAt,
		}).Error; err != nil {
			return err
		}
		result = accepted(entity, rec.ID, next.Version)
		return nil
	})
	if err != nil {
		return models.ItemResult{}, fmt.Errorf("failed to merge %s/%s: %w", entity, rec.ID, err)
	}
	return result, nil
}
