package reservations

// Status is the reservation lifecycle state. It is a closed set; the only
// way a persisted row changes status is through Reservation.transition or
// a repository update guarded by the same map.
type Status string

const (
	// StatusBooked means the member holds a seat.
	StatusBooked Status = "booked"

	// StatusConfirmed means the member re-affirmed attendance inside the
	// confirmation window.
	StatusConfirmed Status = "confirmed"

	// StatusCheckedIn means the member attended. Terminal.
	StatusCheckedIn Status = "checked_in"

	// StatusCancelled covers member, staff and class-level cancellations,
	// distinguished by the cancellation reason. Terminal.
	StatusCancelled Status = "cancelled"

	// StatusNoShow is assigned by the completion sweep when a seat holder
	// never checked in. Terminal.
	StatusNoShow Status = "no_show"

	// StatusWaitlisted means the member is queued for a seat, ordered by
	// waitlist position.
	StatusWaitlisted Status = "waitlisted"

	// StatusPromoted means a freed seat is reserved for the member until
	// the acceptance deadline passes.
	StatusPromoted Status = "promoted"

	// StatusExpired means a promotion offer lapsed. Depending on studio
	// policy the row is requeued at the waitlist tail or left expired.
	StatusExpired Status = "expired"
)

// IsValid checks if the status is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusBooked, StatusConfirmed, StatusCheckedIn, StatusCancelled,
		StatusNoShow, StatusWaitlisted, StatusPromoted, StatusExpired:
		return true
	default:
		return false
	}
}

// validTransitions is the full transition map for reservation rows.
var validTransitions = map[Status][]Status{
	StatusBooked:     {StatusConfirmed, StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusWaitlisted: {StatusPromoted, StatusCancelled},
	StatusPromoted:   {StatusBooked, StatusExpired, StatusCancelled},
	StatusExpired:    {StatusWaitlisted},
	StatusCheckedIn:  {},
	StatusCancelled:  {},
	StatusNoShow:     {},
}

// CanTransitionTo checks if transitioning to the target status is allowed
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// HoldsSeat reports whether the status occupies one of the instance's
// seats for the capacity invariant.
func (s Status) HoldsSeat() bool {
	return s == StatusBooked || s == StatusConfirmed || s == StatusCheckedIn
}

// IsLive reports whether the status blocks the member from creating
// another reservation on the same instance.
func (s Status) IsLive() bool {
	switch s {
	case StatusBooked, StatusConfirmed, StatusCheckedIn, StatusWaitlisted, StatusPromoted:
		return true
	default:
		return false
	}
}

// liveStatuses enumerates the statuses that make a member's reservation
// the one live row per instance.
var liveStatuses = []Status{StatusBooked, StatusConfirmed, StatusCheckedIn, StatusWaitlisted, StatusPromoted}

// CancellationReason records why a reservation was cancelled.
type CancellationReason string

const (
	ReasonMemberInitiated CancellationReason = "member_initiated"
	ReasonLateCancel      CancellationReason = "late_cancel"
	ReasonStaffCancel     CancellationReason = "staff_cancel"
	ReasonClassCancelled  CancellationReason = "class_cancelled"
)

// IsValid checks if the cancellation reason is valid
func (r CancellationReason) IsValid() bool {
	switch r {
	case ReasonMemberInitiated, ReasonLateCancel, ReasonStaffCancel, ReasonClassCancelled:
		return true
	default:
		return false
	}
}
