package repository

import (
	"context"
	"encoding/json"

	"paygate/entity"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditRepository stores audit entries in audit_logs.
type AuditRepository struct {
	DB *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{DB: db}
}

func (r *AuditRepository) Record(ctx context.Context, e entity.AuditEntry) error {
	row := entity.AuditLog{
		Actor:      e.Actor,
		Action:     e.Action,
		Resource:   e.Resource,
		ResourceID: e.ResourceID,
		OldValue:   toJSON(e.OldValue),
		NewValue:   toJSON(e.NewValue),
		Context:    toJSON(e.Context),
	}
	return r.DB.WithContext(ctx).Create(&row).Error
}

func (r *AuditRepository) ListForResource(ctx context.Context, resource, id string) ([]entity.AuditLog, error) {
	var out []entity.AuditLog
	err := r.DB.WithContext(ctx).
		Where("resource = ? AND resource_id = ?", resource, id).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

func toJSON(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
