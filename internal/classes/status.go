package classes

// InstanceStatus is the lifecycle state of a class instance.
type InstanceStatus string

const (
	InstanceStatusScheduled InstanceStatus = "scheduled"
	InstanceStatusCancelled InstanceStatus = "cancelled"
	InstanceStatusCompleted InstanceStatus = "completed"
)

// IsValid checks if the instance status is valid
func (s InstanceStatus) IsValid() bool {
	switch s {
	case InstanceStatusScheduled, InstanceStatusCancelled, InstanceStatusCompleted:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if the status can transition to the target status
func (s InstanceStatus) CanTransitionTo(target InstanceStatus) bool {
	validTransitions := map[InstanceStatus][]InstanceStatus{
		InstanceStatusScheduled: {InstanceStatusCancelled, InstanceStatusCompleted},
		InstanceStatusCancelled: {}, // Terminal state
		InstanceStatusCompleted: {}, // Terminal state
	}

	allowedTargets := validTransitions[s]
	for _, allowed := range allowedTargets {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsBookable reports whether new reservations may target the instance.
func (s InstanceStatus) IsBookable() bool {
	return s == InstanceStatusScheduled
}
