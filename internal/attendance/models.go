package attendance

import (
	"time"

	"github.com/google/uuid"
)

// CheckedInBySelf marks a member checking themselves in from the app, as
// opposed to a staff member's id at the front desk.
const CheckedInBySelf = "self"

// AttendanceRecord is the audit row written when a member is checked in.
// One per reservation; walk-ins get their reservation and record in the
// same transaction.
type AttendanceRecord struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ReservationID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"reservation_id"`
	ClassInstanceID uuid.UUID `gorm:"type:uuid;not null;index" json:"class_instance_id"`
	MemberID        uuid.UUID `gorm:"type:uuid;not null;index" json:"member_id"`
	CheckedIn       bool      `gorm:"not null;default:true" json:"checked_in"`
	CheckedInAt     time.Time `gorm:"not null" json:"checked_in_at"`

	// CheckedInBy is a staff uuid string, or "self".
	CheckedInBy string `gorm:"type:varchar(64);not null" json:"checked_in_by"`

	// WalkIn is true when the reservation was created at the door with no
	// prior booking.
	WalkIn bool `gorm:"not null;default:false" json:"walk_in"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AttendanceRecord) TableName() string {
	return "attendance_records"
}

// WalkInRequest admits a member at the door. The optional payment method
// backs a drop-in purchase when no stored entitlement covers the visit.
type WalkInRequest struct {
	MemberID        string `json:"member_id" binding:"required,uuid"`
	PaymentMethodID string `json:"payment_method_id,omitempty"`
}

// BatchCheckInRequest applies check-in to many reservations at once.
type BatchCheckInRequest struct {
	ReservationIDs []string `json:"reservation_ids" binding:"required,min=1,max=200" validate:"required,min=1,max=200,dive,uuid"`
}

// BatchItemResult reports one reservation's outcome inside a batch. Items
// fail independently; the batch itself never rolls back.
type BatchItemResult struct {
	ReservationID string            `json:"reservation_id"`
	Success       bool              `json:"success"`
	Error         string            `json:"error,omitempty"`
	Record        *AttendanceRecord `json:"record,omitempty"`
}

// RosterEntry is one reservation on a class roster, joined with its
// attendance record when one exists.
type RosterEntry struct {
	ReservationID      uuid.UUID  `gorm:"column:reservation_id" json:"reservation_id"`
	MemberID           uuid.UUID  `gorm:"column:member_id" json:"member_id"`
	Status             string     `gorm:"column:status" json:"status"`
	WaitlistPosition   *int       `gorm:"column:waitlist_position" json:"waitlist_position,omitempty"`
	PromotionExpiresAt *time.Time `gorm:"column:promotion_expires_at" json:"promotion_expires_at,omitempty"`
	ReservedAt         time.Time  `gorm:"column:reserved_at" json:"reserved_at"`
	CheckedInAt        *time.Time `gorm:"column:checked_in_at" json:"checked_in_at,omitempty"`
	CheckedInBy        *string    `gorm:"column:checked_in_by" json:"checked_in_by,omitempty"`
	WalkIn             bool       `gorm:"column:walk_in" json:"walk_in"`
}

// Roster is the staff view of one class instance: seat holders first in
// booking order, then live promotion offers, then the waitlist by position.
type Roster struct {
	ClassInstanceID uuid.UUID     `json:"class_instance_id"`
	Seated          []RosterEntry `json:"seated"`
	Promoted        []RosterEntry `json:"promoted"`
	Waitlisted      []RosterEntry `json:"waitlisted"`
}
