package repository

import (
	"context"

	"huddle/internal/models"

	"gorm.io/gorm"
)

// AuditFilter narrows an audit listing. Zero values match everything.
type AuditFilter struct {
	ActionType string
	Severity   models.Severity
	TargetRef  string
	Limit      int
	Offset     int
}

// AuditRepository appends and lists audit events. Events are never updated.
type AuditRepository interface {
	Create(ctx context.Context, e *models.AuditEvent) error
	List(ctx context.Context, f AuditFilter) ([]models.AuditEvent, error)
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository returns a new AuditRepository implementation.
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(ctx context.Context, e *models.AuditEvent) error {
	return wrapWrite(r.db.WithContext(ctx).Create(e).Error)
}

func (r *auditRepository) List(ctx context.Context, f AuditFilter) ([]models.AuditEvent, error) {
	q := r.db.WithContext(ctx).Model(&models.AuditEvent{})
	if f.ActionType != "" {
		q = q.Where("action_type = ?", f.ActionType)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.TargetRef != "" {
		q = q.Where("target_ref = ?", f.TargetRef)
	}
	var events []models.AuditEvent
	if err := q.Order("timestamp DESC").Order("id DESC").
		Limit(clampLimit(f.Limit, 50, 500)).Offset(f.Offset).
		Find(&events).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return events, nil
}
