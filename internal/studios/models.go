package studios

import (
	"time"

	"github.com/google/uuid"
)

// Studio carries the booking policy every class instance under it inherits.
// Durations are stored as bigint nanoseconds.
type Studio struct {
	ID       uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name     string    `gorm:"uniqueIndex;not null" json:"name"`
	Timezone string    `gorm:"not null;default:'UTC'" json:"timezone"`

	// Policy columns. Zero values are replaced with the configured
	// defaults when the studio is created.
	CancellationWindow       time.Duration `gorm:"not null" json:"cancellation_window"`
	ConfirmationWindow       time.Duration `gorm:"not null" json:"confirmation_window"`
	PromotionDeadline        time.Duration `gorm:"not null" json:"promotion_deadline"`
	LateFeeCents             int64         `gorm:"not null;default:0" json:"late_fee_cents"`
	WaitlistEnabled          bool          `gorm:"not null;default:true" json:"waitlist_enabled"`
	WalkInsEnabled           bool          `gorm:"not null;default:true" json:"walk_ins_enabled"`
	RequeueExpiredPromotions bool          `gorm:"not null;default:false" json:"requeue_expired_promotions"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Studio) TableName() string {
	return "studios"
}

// Policy is the resolved, engine-facing view of a studio's booking rules.
// It is a plain value so callers can cache it and read it outside any lock.
type Policy struct {
	StudioID                 uuid.UUID     `json:"studio_id"`
	Timezone                 string        `json:"timezone"`
	CancellationWindow       time.Duration `json:"cancellation_window"`
	ConfirmationWindow       time.Duration `json:"confirmation_window"`
	PromotionDeadline        time.Duration `json:"promotion_deadline"`
	LateFeeCents             int64         `json:"late_fee_cents"`
	WaitlistEnabled          bool          `json:"waitlist_enabled"`
	WalkInsEnabled           bool          `json:"walk_ins_enabled"`
	RequeueExpiredPromotions bool          `json:"requeue_expired_promotions"`
}

// Policy returns the studio's rules as an engine-facing value.
func (s *Studio) Policy() Policy {
	return Policy{
		StudioID:                 s.ID,
		Timezone:                 s.Timezone,
		CancellationWindow:       s.CancellationWindow,
		ConfirmationWindow:       s.ConfirmationWindow,
		PromotionDeadline:        s.PromotionDeadline,
		LateFeeCents:             s.LateFeeCents,
		WaitlistEnabled:          s.WaitlistEnabled,
		WalkInsEnabled:           s.WalkInsEnabled,
		RequeueExpiredPromotions: s.RequeueExpiredPromotions,
	}
}

// IsLateCancel reports whether cancelling now falls inside the cancellation
// window before the class starts.
func (p Policy) IsLateCancel(now, startsAt time.Time) bool {
	return now.After(startsAt.Add(-p.CancellationWindow))
}

// ConfirmOpensAt returns the earliest moment a member may confirm attendance.
func (p Policy) ConfirmOpensAt(startsAt time.Time) time.Time {
	return startsAt.Add(-p.ConfirmationWindow)
}
