package constants

import (
	"time"
)

// Redis Cache Configuration
// Centralizes cache keys and TTL values for the read side.
// Pattern: classbook:{module}:{operation}:{identifier}
//
// The cache is strictly read-side. Capacity counting, waitlist ordering and
// promotion all go through the transactional store, never through Redis.

// ================== CACHE TTL DURATIONS ==================

// Semi-static data (changes on staff edits)
const (
	TTL_INSTANCE_DETAIL = 15 * time.Minute // class instance rows
	TTL_INSTANCE_LIST   = 5 * time.Minute  // schedule listings
	TTL_STUDIO_POLICY   = 1 * time.Hour    // per-studio booking policy
)

// Highly dynamic data (changes on every booking write)
const (
	TTL_ROSTER              = 30 * time.Second // roster reads between writes
	TTL_MEMBER_RESERVATIONS = 1 * time.Minute  // member history listings
)

// ================== REDIS KEY PREFIXES ==================

const (
	CACHE_PREFIX = "classbook"
)

// Class instance cache keys
const (
	CACHE_KEY_INSTANCE_DETAIL = CACHE_PREFIX + ":classes:detail:uuid:" // + instance-id
	CACHE_KEY_INSTANCE_LIST   = CACHE_PREFIX + ":classes:list"         // + :studio:X:page:Y
)

// Roster and reservation cache keys
const (
	CACHE_KEY_ROSTER              = CACHE_PREFIX + ":roster:instance:"     // + instance-id
	CACHE_KEY_MEMBER_RESERVATIONS = CACHE_PREFIX + ":reservations:member:" // + member-id
)

// Studio policy cache keys
const (
	CACHE_KEY_STUDIO_POLICY = CACHE_PREFIX + ":studios:policy:uuid:" // + studio-id
)

// ================== CACHE INVALIDATION PATTERNS ==================

const (
	PATTERN_INVALIDATE_INSTANCE = CACHE_PREFIX + ":classes:*"
	PATTERN_INVALIDATE_ROSTER   = CACHE_PREFIX + ":roster:*"
	PATTERN_INVALIDATE_STUDIOS  = CACHE_PREFIX + ":studios:*"
)

// ================== HELPER FUNCTIONS ==================

func BuildInstanceDetailKey(instanceID string) string {
	return CACHE_KEY_INSTANCE_DETAIL + instanceID
}

func BuildRosterKey(instanceID string) string {
	return CACHE_KEY_ROSTER + instanceID
}

func BuildMemberReservationsKey(memberID string) string {
	return CACHE_KEY_MEMBER_RESERVATIONS + memberID
}

func BuildStudioPolicyKey(studioID string) string {
	return CACHE_KEY_STUDIO_POLICY + studioID
}
