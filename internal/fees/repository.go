package fees

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, charge *FeeCharge) error
	GetPending(ctx context.Context, limit int) ([]FeeCharge, error)
	MarkCharged(ctx context.Context, id uuid.UUID, chargeRef string) error
	MarkFailed(ctx context.Context, id uuid.UUID, attemptErr string, terminal bool) error
	GetByReservation(ctx context.Context, reservationID uuid.UUID) ([]FeeCharge, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, charge *FeeCharge) error {
	return r.db.WithContext(ctx).Create(charge).Error
}

func (r *repository) GetPending(ctx context.Context, limit int) ([]FeeCharge, error) {
	var charges []FeeCharge
	err := r.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&charges).Error
	return charges, err
}

func (r *repository) MarkCharged(ctx context.Context, id uuid.UUID, chargeRef string) error {
	return r.db.WithContext(ctx).Model(&FeeCharge{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]interface{}{
			"status":     StatusCharged,
			"attempts":   gorm.Expr("attempts + 1"),
			"charge_ref": chargeRef,
			"last_error": nil,
			"updated_at": time.Now(),
		}).Error
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, attemptErr string, terminal bool) error {
	updates := map[string]interface{}{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": attemptErr,
		"updated_at": time.Now(),
	}
	if terminal {
		updates["status"] = StatusFailed
	}
	return r.db.WithContext(ctx).Model(&FeeCharge{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(updates).Error
}

func (r *repository) GetByReservation(ctx context.Context, reservationID uuid.UUID) ([]FeeCharge, error) {
	var charges []FeeCharge
	err := r.db.WithContext(ctx).
		Where("reservation_id = ?", reservationID).
		Order("created_at ASC").
		Find(&charges).Error
	return charges, err
}
