package fees

import (
	"time"

	"github.com/google/uuid"
)

// ChargeStatus tracks a fee through the charge pipeline.
type ChargeStatus string

const (
	StatusPending ChargeStatus = "pending"
	StatusCharged ChargeStatus = "charged"
	StatusFailed  ChargeStatus = "failed"
)

// IsValid checks if the charge status is valid
func (s ChargeStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusCharged, StatusFailed:
		return true
	default:
		return false
	}
}

// FeeCharge is a queued late-cancellation fee. Rows are written when a
// member cancels inside the cancellation window and drained by the charge
// sweep against the payment authority.
type FeeCharge struct {
	ID            uuid.UUID    `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ReservationID uuid.UUID    `gorm:"type:uuid;not null;index" json:"reservation_id"`
	MemberID      uuid.UUID    `gorm:"type:uuid;not null;index" json:"member_id"`
	AmountCents   int64        `gorm:"not null;check:amount_cents > 0" json:"amount_cents"`
	Status        ChargeStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	Attempts      int          `gorm:"not null;default:0" json:"attempts"`
	LastError     *string      `gorm:"type:text" json:"last_error,omitempty"`
	ChargeRef     *string      `gorm:"type:varchar(255)" json:"charge_ref,omitempty"`
	CreatedAt     time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (FeeCharge) TableName() string {
	return "fee_charges"
}
