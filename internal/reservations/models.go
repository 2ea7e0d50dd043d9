package reservations

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reservation is the booking ledger row. Rows are never deleted; terminal
// statuses are kept as attendance and audit history.
type Reservation struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ClassInstanceID uuid.UUID `gorm:"type:uuid;not null;index" json:"class_instance_id"`
	MemberID        uuid.UUID `gorm:"type:uuid;not null;index" json:"member_id"`
	Status          Status    `gorm:"type:varchar(20);not null;default:'booked'" json:"status"`

	// WaitlistPosition is set only while status is waitlisted. Positions
	// per instance are dense and zero based.
	WaitlistPosition *int `gorm:"column:waitlist_position" json:"waitlist_position,omitempty"`

	// EntitlementKind and EntitlementRef record which pledge backs the
	// seat. Pledged at creation, consumed when the row reaches booked.
	EntitlementKind *string `gorm:"type:varchar(20)" json:"entitlement_kind,omitempty"`
	EntitlementRef  *string `gorm:"type:varchar(255)" json:"entitlement_ref,omitempty"`

	CancellationReason *string    `gorm:"type:varchar(20)" json:"cancellation_reason,omitempty"`
	PromotionExpiresAt *time.Time `gorm:"index" json:"promotion_expires_at,omitempty"`

	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Reservation) TableName() string {
	return "reservations"
}

// transition mutates the status after checking the transition map. Every
// in-memory status change goes through here; bulk repository updates carry
// the same guards in their WHERE clauses.
func (r *Reservation) transition(to Status) error {
	if !r.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	return nil
}

// CreateReservationRequest is the reserve call body. The idempotency key
// travels in the X-Idempotency-Key header, the member in the JWT.
type CreateReservationRequest struct {
	ClassInstanceID string `json:"class_instance_id" binding:"required,uuid"`

	// PaymentMethodID backs a drop-in purchase when no stored entitlement
	// covers the booking. Optional.
	PaymentMethodID string `json:"payment_method_id,omitempty"`
}

// ReservationResponse is the wire shape of a reservation.
type ReservationResponse struct {
	ID                 uuid.UUID  `json:"id"`
	ClassInstanceID    uuid.UUID  `json:"class_instance_id"`
	MemberID           uuid.UUID  `json:"member_id"`
	Status             Status     `json:"status"`
	WaitlistPosition   *int       `json:"waitlist_position,omitempty"`
	EntitlementKind    *string    `json:"entitlement_kind,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	PromotionExpiresAt *time.Time `json:"promotion_expires_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
}

// ToResponse converts a reservation to its response format
func (r *Reservation) ToResponse() *ReservationResponse {
	return &ReservationResponse{
		ID:                 r.ID,
		ClassInstanceID:    r.ClassInstanceID,
		MemberID:           r.MemberID,
		Status:             r.Status,
		WaitlistPosition:   r.WaitlistPosition,
		EntitlementKind:    r.EntitlementKind,
		CancellationReason: r.CancellationReason,
		PromotionExpiresAt: r.PromotionExpiresAt,
		CreatedAt:          r.CreatedAt,
		ConfirmedAt:        r.ConfirmedAt,
		CancelledAt:        r.CancelledAt,
	}
}

// MemberReservationRow is one entry in a member's booking history, joined
// with the class it belongs to.
type MemberReservationRow struct {
	Reservation
	ClassTitle    string    `gorm:"column:class_title" json:"class_title"`
	ClassStartsAt time.Time `gorm:"column:class_starts_at" json:"class_starts_at"`
	ClassEndsAt   time.Time `gorm:"column:class_ends_at" json:"class_ends_at"`
}

// MemberReservationsQuery filters a member's booking history.
type MemberReservationsQuery struct {
	Page   int    `form:"page,default=1" binding:"min=1"`
	Limit  int    `form:"limit,default=20" binding:"min=1,max=100"`
	Status string `form:"status" binding:"omitempty"`

	// Upcoming keeps only classes that have not started yet.
	Upcoming bool `form:"upcoming"`
}

// PaginatedMemberReservations wraps a page of booking history.
type PaginatedMemberReservations struct {
	Reservations []MemberReservationRow `json:"reservations"`
	Total        int64                  `json:"total"`
	Page         int                    `json:"page"`
	Limit        int                    `json:"limit"`
	TotalPages   int                    `json:"total_pages"`
}
