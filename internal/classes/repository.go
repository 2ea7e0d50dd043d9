package classes

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, instance *ClassInstance) error
	GetByID(ctx context.Context, id uuid.UUID) (*ClassInstance, error)
	GetAll(ctx context.Context, query InstanceListQuery) ([]ClassInstance, int64, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) (*ClassInstance, error)

	// UpdateCapacity changes max_capacity under a row lock and reports the
	// old value. Reductions never touch existing reservations.
	UpdateCapacity(ctx context.Context, id uuid.UUID, newCapacity int) (oldCapacity int, err error)

	// GetEndedScheduled returns scheduled instances whose end time has
	// passed, for the completion sweep.
	GetEndedScheduled(ctx context.Context, now time.Time, limit int) ([]ClassInstance, error)

	MarkCompleted(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, instance *ClassInstance) error {
	return r.db.WithContext(ctx).Create(instance).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*ClassInstance, error) {
	var instance ClassInstance
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&instance).Error
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

func (r *repository) GetAll(ctx context.Context, query InstanceListQuery) ([]ClassInstance, int64, error) {
	var instances []ClassInstance
	var totalCount int64

	db := r.db.WithContext(ctx).Model(&ClassInstance{})

	if query.Search != "" {
		searchTerm := "%" + strings.ToLower(query.Search) + "%"
		db = db.Where("LOWER(title) LIKE ? OR LOWER(instructor) LIKE ?", searchTerm, searchTerm)
	}

	if query.StudioID != "" {
		db = db.Where("studio_id = ?", query.StudioID)
	}

	if query.Status != "" {
		db = db.Where("status = ?", query.Status)
	}

	if query.DateFrom != "" {
		if dateFrom, err := time.Parse("2006-01-02", query.DateFrom); err == nil {
			db = db.Where("starts_at >= ?", dateFrom)
		}
	}

	if query.DateTo != "" {
		if dateTo, err := time.Parse("2006-01-02", query.DateTo); err == nil {
			// Add 24 hours to include the entire day
			dateTo = dateTo.Add(24 * time.Hour)
			db = db.Where("starts_at < ?", dateTo)
		}
	}

	if err := db.Count(&totalCount).Error; err != nil {
		return nil, 0, err
	}

	if query.Page == 0 {
		query.Page = 1
	}
	if query.Limit == 0 {
		query.Limit = 10
	}

	offset := (query.Page - 1) * query.Limit

	err := db.Order("starts_at ASC").
		Offset(offset).
		Limit(query.Limit).
		Find(&instances).Error

	return instances, totalCount, err
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) (*ClassInstance, error) {
	var instance ClassInstance

	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&instance).Error; err != nil {
		return nil, err
	}

	if err := r.db.WithContext(ctx).Model(&instance).Updates(updates).Error; err != nil {
		return nil, err
	}

	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&instance).Error; err != nil {
		return nil, err
	}

	return &instance, nil
}

func (r *repository) UpdateCapacity(ctx context.Context, id uuid.UUID, newCapacity int) (int, error) {
	var oldCapacity int

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var instance ClassInstance
		if err := tx.Set("gorm:query_option", "FOR UPDATE").
			Where("id = ?", id).
			First(&instance).Error; err != nil {
			return err
		}

		oldCapacity = instance.MaxCapacity

		return tx.Model(&instance).Update("max_capacity", newCapacity).Error
	})

	return oldCapacity, err
}

func (r *repository) GetEndedScheduled(ctx context.Context, now time.Time, limit int) ([]ClassInstance, error) {
	var instances []ClassInstance
	err := r.db.WithContext(ctx).
		Where("status = ? AND ends_at < ?", InstanceStatusScheduled, now).
		Order("ends_at ASC").
		Limit(limit).
		Find(&instances).Error
	return instances, err
}

func (r *repository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&ClassInstance{}).
		Where("id = ? AND status = ?", id, InstanceStatusScheduled).
		Update("status", InstanceStatusCompleted).Error
}
