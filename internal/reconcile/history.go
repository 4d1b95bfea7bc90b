package reconcile

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/xelth-com/rentsync/internal/models"
)

// HistoryStore persists one entry per push
type HistoryStore interface {
	Record(ctx context.Context, entry *models.SyncHistory) error
	List(ctx context.Context, tenantID string, limit int) ([]models.SyncHistory, error)
}

// GormHistory stores entries in the sync_history table
type GormHistory struct {
	db *gorm.DB
}

func NewGormHistory(db *gorm.DB) *GormHistory {
	return &GormHistory{db: db}
}

func (h *GormHistory) Record(ctx context.Context, entry *models.SyncHistory) error {
	if err := h.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to record sync history: %w", err)
	}
	return nil
}

// List returns the newest entries first
func (h *GormHistory) List(ctx context.Context, tenantID string, limit int) ([]models.SyncHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []models.SyncHistory
	if err := h.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("started_at DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list sync history: %w", err)
	}
	return entries, nil
}
