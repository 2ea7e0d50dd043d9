package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrKeyReused is returned when a key is replayed with a different operation,
// actor or request body.
var ErrKeyReused = errors.New("idempotency key reused with a different request")

// DefaultTTL is how long a key row stays authoritative after it is written.
const DefaultTTL = 24 * time.Hour

// HashRequest produces the canonical fingerprint of a request. Callers pass
// the fields that define the operation (member id, instance id, reason, ...)
// in a fixed order.
func HashRequest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Check looks the key up inside the caller's transaction, locking the row so
// concurrent replays of the same key serialize. It returns the stored record
// on a genuine replay, nil when the key is fresh, and ErrKeyReused when the
// key exists but was written for a different request.
func Check(tx *gorm.DB, key uuid.UUID, operation string, actorID uuid.UUID, requestHash string) (*Key, error) {
	var rec Key
	err := tx.Set("gorm:query_option", "FOR UPDATE").
		Where("key = ?", key).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}

	// An expired row no longer pins the outcome; free the key for reuse.
	if time.Now().After(rec.ExpiresAt) {
		if err := tx.Delete(&Key{}, "key = ?", key).Error; err != nil {
			return nil, fmt.Errorf("failed to evict expired idempotency key: %w", err)
		}
		return nil, nil
	}

	if !rec.Matches(operation, actorID, requestHash) {
		return nil, ErrKeyReused
	}

	return &rec, nil
}

// Save writes the key row in the caller's transaction. A PK collision here
// means two fresh requests raced past Check; the loser's transaction rolls
// back and its retry replays the winner's result.
func Save(tx *gorm.DB, key uuid.UUID, operation string, actorID uuid.UUID, requestHash string, reservationID *uuid.UUID) error {
	rec := &Key{
		Key:           key,
		Operation:     operation,
		ActorID:       actorID,
		RequestHash:   requestHash,
		ReservationID: reservationID,
		ExpiresAt:     time.Now().Add(DefaultTTL),
	}
	if err := tx.Create(rec).Error; err != nil {
		return fmt.Errorf("failed to save idempotency key: %w", err)
	}
	return nil
}
