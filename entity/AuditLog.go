package entity

import (
	"time"

	"gorm.io/datatypes"
)

type AuditLog struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Actor      string         `gorm:"size:64;index" json:"actor"`
	Action     string         `gorm:"size:64;index;not null" json:"action"`
	Resource   string         `gorm:"size:32;not null" json:"resource"`
	ResourceID string         `gorm:"size:64;index" json:"resourceId"`
	OldValue   datatypes.JSON `json:"oldValue,omitempty"`
	NewValue   datatypes.JSON `json:"newValue,omitempty"`
	Context    datatypes.JSON `json:"context,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// AuditEntry is what services hand to an audit sink. Values are marshalled to
// JSON by the sink.
type AuditEntry struct {
	Actor      string
	Action     string
	Resource   string
	ResourceID string
	OldValue   any
	NewValue   any
	Context    map[string]any
}
