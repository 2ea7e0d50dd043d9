package idempotency

import (
	"time"

	"github.com/google/uuid"
)

// Operations that accept an X-Idempotency-Key header.
const (
	OpReserve = "reserve"
	OpCancel  = "cancel"
	OpCheckIn = "check_in"
)

// Key records one idempotent request. The row is written inside the same
// transaction as the operation's effect, so a replay either sees the full
// outcome or nothing.
type Key struct {
	Key           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"key"`
	Operation     string     `gorm:"type:varchar(32);not null" json:"operation"`
	ActorID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"actor_id"`
	RequestHash   string     `gorm:"type:char(64);not null" json:"request_hash"`
	ReservationID *uuid.UUID `gorm:"type:uuid" json:"reservation_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `gorm:"index" json:"expires_at"`
}

func (Key) TableName() string {
	return "idempotency_keys"
}

// Matches reports whether a stored key was written for the same logical
// request. Operation, actor and request hash must all agree.
func (k *Key) Matches(operation string, actorID uuid.UUID, requestHash string) bool {
	return k.Operation == operation && k.ActorID == actorID && k.RequestHash == requestHash
}
