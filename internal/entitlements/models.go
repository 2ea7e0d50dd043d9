package entitlements

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind identifies which entitlement backs a seat.
type Kind string

const (
	KindCompCredit   Kind = "comp_credit"
	KindClassPack    Kind = "class_pack"
	KindSubscription Kind = "subscription"
	KindDropIn       Kind = "drop_in"

	// KindNone marks a standard booking with no charge attached. Produced
	// when the payment authority has no drop-in plan configured for the
	// studio.
	KindNone Kind = "none"
)

// IsValid checks if the entitlement kind is valid
func (k Kind) IsValid() bool {
	switch k {
	case KindCompCredit, KindClassPack, KindSubscription, KindDropIn, KindNone:
		return true
	default:
		return false
	}
}

var (
	// ErrNotApplicable signals the gate to try the next provider.
	ErrNotApplicable = errors.New("entitlement provider not applicable")

	// ErrEntitlementRequired means no provider could back the booking.
	ErrEntitlementRequired = errors.New("no entitlement available for this booking")

	// ErrPaymentDeclined means the payment authority rejected the drop-in
	// authorization or capture.
	ErrPaymentDeclined = errors.New("payment authorization declined")

	// ErrNoDropInPlan means the studio has no drop-in plan configured with
	// the payment authority. The gate converts this into a standard booking
	// without charge.
	ErrNoDropInPlan = errors.New("no drop-in plan configured for studio")
)

// Pledge is a claim on an entitlement. Prepare issues it, TryConsume turns
// it into consumption once a seat is granted, Release drops it unconsumed.
type Pledge struct {
	Kind     Kind      `json:"kind"`
	Ref      string    `json:"ref"`
	MemberID uuid.UUID `json:"member_id"`
	Consumed bool      `json:"consumed"`
}

// PrepareRequest carries the booking context providers decide on.
type PrepareRequest struct {
	InstanceID      uuid.UUID
	StudioID        uuid.UUID
	PaymentMethodID string // drop-in only; empty when the member supplied none
}

// Ledger rows backing the default in-database providers.

type CompCreditBalance struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	MemberID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"member_id"`
	Balance   int       `gorm:"not null;default:0;check:balance >= 0" json:"balance"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (CompCreditBalance) TableName() string {
	return "comp_credit_balances"
}

type ClassPackBalance struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	MemberID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"member_id"`
	Remaining int       `gorm:"not null;default:0;check:remaining >= 0" json:"remaining"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (ClassPackBalance) TableName() string {
	return "class_pack_balances"
}

type Subscription struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	MemberID   uuid.UUID `gorm:"type:uuid;not null;index" json:"member_id"`
	Active     bool      `gorm:"not null;default:true" json:"active"`
	ValidUntil time.Time `gorm:"not null" json:"valid_until"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}
