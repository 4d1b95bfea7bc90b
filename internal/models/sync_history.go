package models

import (
	"time"

	"gorm.io/gorm"
)

// SyncHistory records each push a client made against the server
type SyncHistory struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID    string         `gorm:"column:tenant_id;not null;index" json:"tenantId"`
	ClientID    string         `gorm:"column:client_id;index" json:"clientId"`
	Store       string         `gorm:"column:store;not null" json:"store"`   // "postgres", "memory"
	Status      string         `gorm:"column:status;not null;index" json:"status"` // "success", "error", "partial"
	StartedAt   time.Time      `gorm:"column:started_at;not null" json:"startedAt"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completedAt"`
	Duration    int            `gorm:"column:duration;default:0" json:"duration"` // milliseconds
	Accepted    int            `gorm:"column:accepted;default:0" json:"accepted"`
	Rejected    int            `gorm:"column:rejected;default:0" json:"rejected"` // lost to a higher version
	Failed      int            `gorm:"column:failed;default:0" json:"failed"`     // malformed items
	ErrorDetail string         `gorm:"column:error_detail;type:text" json:"errorDetail"`
	CreatedAt   time.Time      `gorm:"column:created_at" json:"-"`
	UpdatedAt   time.Time      `gorm:"column:updated_at" json:"-"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name
func (SyncHistory) TableName() string {
	return "sync_history"
}
