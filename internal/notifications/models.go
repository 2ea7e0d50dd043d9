package notifications

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the booking lifecycle event a message carries.
type MessageType string

const (
	TypeReservationBooked     MessageType = "reservation.booked"
	TypeReservationWaitlisted MessageType = "reservation.waitlisted"
	TypeReservationConfirmed  MessageType = "reservation.confirmed"
	TypeReservationCancelled  MessageType = "reservation.cancelled"
	TypeReservationCheckedIn  MessageType = "reservation.checked_in"
	TypeReservationNoShow     MessageType = "reservation.no_show"
	TypePromotionOffer        MessageType = "promotion.offer"
	TypePromotionExpired      MessageType = "promotion.expired"
	TypeClassCancelled        MessageType = "class.cancelled"
	TypeLateFeeCharged        MessageType = "fee.charged"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Message is the unit published to the notifications topic. The external
// notifier owns channel selection and delivery; this core only states what
// happened and to whom.
type Message struct {
	ID              uuid.UUID              `json:"id"`
	Type            MessageType            `json:"type"`
	MemberID        uuid.UUID              `json:"member_id"`
	ReservationID   *uuid.UUID             `json:"reservation_id,omitempty"`
	ClassInstanceID *uuid.UUID             `json:"class_instance_id,omitempty"`
	Priority        Priority               `json:"priority"`
	Data            map[string]interface{} `json:"data,omitempty"`
	ExpiresAt       *time.Time             `json:"expires_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// NewMessage builds a message with defaults filled in.
func NewMessage(msgType MessageType, memberID uuid.UUID) *Message {
	return &Message{
		ID:        uuid.New(),
		Type:      msgType,
		MemberID:  memberID,
		Priority:  GetDefaultPriority(msgType),
		Data:      make(map[string]interface{}),
		CreatedAt: time.Now(),
	}
}

func (m *Message) WithReservation(reservationID uuid.UUID) *Message {
	m.ReservationID = &reservationID
	return m
}

func (m *Message) WithInstance(instanceID uuid.UUID) *Message {
	m.ClassInstanceID = &instanceID
	return m
}

// WithDeadline attaches the acceptance deadline of a promotion offer.
func (m *Message) WithDeadline(deadline time.Time) *Message {
	m.ExpiresAt = &deadline
	return m
}

func (m *Message) WithData(key string, value interface{}) *Message {
	m.Data[key] = value
	return m
}

// GetPartitionKey routes all messages for one member to the same partition
// so the notifier sees them in order.
func (m *Message) GetPartitionKey() string {
	return m.MemberID.String()
}

func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// GetDefaultPriority maps time-sensitive events to high priority.
func GetDefaultPriority(msgType MessageType) Priority {
	switch msgType {
	case TypePromotionOffer, TypeClassCancelled:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}
