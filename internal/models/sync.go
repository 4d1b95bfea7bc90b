package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// SyncRecord is the server-side row layout shared by every entity table.
// The physical table is chosen per query with db.Table(entity).
type SyncRecord struct {
	ID        string         `gorm:"type:varchar(255);primaryKey" json:"id"`
	TenantID  string         `gorm:"type:varchar(255);not null;index" json:"tenant_id"`
	Version   int64          `gorm:"not null;default:1" json:"version"`
	Deleted   bool           `gorm:"not null;default:false;index" json:"deleted"`
	Data      datatypes.JSON `gorm:"type:jsonb" json:"data"`
	CreatedAt time.Time      `gorm:"autoCreateTime:false" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime:false" json:"updated_at"`
}

// NewSyncRecord converts a wire record into its row form
func NewSyncRecord(rec Record) (SyncRecord, error) {
	fields := rec.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return SyncRecord{}, fmt.Errorf("failed to marshal fields of %s: %w", rec.ID, err)
	}

	return SyncRecord{
		ID:        rec.ID,
		TenantID:  rec.TenantID,
		Version:   rec.Version,
		Deleted:   rec.Deleted,
		Data:      datatypes.JSON(data),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

// ToRecord converts the row back into the wire record
func (s SyncRecord) ToRecord() (Record, error) {
	rec := Record{
		ID:        s.ID,
		TenantID:  s.TenantID,
		Version:   s.Version,
		Deleted:   s.Deleted,
		CreatedAt: s.CreatedAt.UTC(),
		UpdatedAt: s.UpdatedAt.UTC(),
		Fields:    map[string]any{},
	}
	if len(s.Data) > 0 {
		if err := json.Unmarshal(s.Data, &rec.Fields); err != nil {
			return Record{}, fmt.Errorf("failed to unmarshal data of %s: %w", s.ID, err)
		}
	}
	return rec, nil
}
