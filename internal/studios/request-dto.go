package studios

// CreateStudioRequest creates a studio with its booking policy. Omitted
// policy fields fall back to the configured defaults.
type CreateStudioRequest struct {
	Name     string `json:"name" binding:"required,min=2,max=120"`
	Timezone string `json:"timezone" binding:"omitempty,max=64"`

	CancellationWindowMinutes *int   `json:"cancellation_window_minutes" binding:"omitempty,min=0"`
	ConfirmationWindowMinutes *int   `json:"confirmation_window_minutes" binding:"omitempty,min=0"`
	PromotionDeadlineMinutes  *int   `json:"promotion_deadline_minutes" binding:"omitempty,min=1"`
	LateFeeCents              *int64 `json:"late_fee_cents" binding:"omitempty,min=0"`
	WaitlistEnabled           *bool  `json:"waitlist_enabled"`
	WalkInsEnabled            *bool  `json:"walk_ins_enabled"`
	RequeueExpiredPromotions  *bool  `json:"requeue_expired_promotions"`
}

// UpdateStudioRequest patches studio fields. Nil fields are left untouched.
type UpdateStudioRequest struct {
	Name     *string `json:"name" binding:"omitempty,min=2,max=120"`
	Timezone *string `json:"timezone" binding:"omitempty,max=64"`

	CancellationWindowMinutes *int   `json:"cancellation_window_minutes" binding:"omitempty,min=0"`
	ConfirmationWindowMinutes *int   `json:"confirmation_window_minutes" binding:"omitempty,min=0"`
	PromotionDeadlineMinutes  *int   `json:"promotion_deadline_minutes" binding:"omitempty,min=1"`
	LateFeeCents              *int64 `json:"late_fee_cents" binding:"omitempty,min=0"`
	WaitlistEnabled           *bool  `json:"waitlist_enabled"`
	WalkInsEnabled            *bool  `json:"walk_ins_enabled"`
	RequeueExpiredPromotions  *bool  `json:"requeue_expired_promotions"`
}
