package entitlements

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type sandboxHoldState string

const (
	holdAuthorized sandboxHoldState = "authorized"
	holdCaptured   sandboxHoldState = "captured"
	holdVoided     sandboxHoldState = "voided"
	holdRefunded   sandboxHoldState = "refunded"
)

type sandboxHold struct {
	MemberID uuid.UUID
	StudioID uuid.UUID
	State    sandboxHoldState
}

// SandboxAuthority is an in-memory payment authority for development and
// seeding. Studios are opted into drop-ins with RegisterPlan; payment
// method IDs prefixed with "declined" simulate processor rejections.
type SandboxAuthority struct {
	mu              sync.Mutex
	plans           map[uuid.UUID]int64
	holds           map[string]*sandboxHold
	declinedMembers map[uuid.UUID]bool
}

func NewSandboxAuthority() *SandboxAuthority {
	return &SandboxAuthority{
		plans:           make(map[uuid.UUID]int64),
		holds:           make(map[string]*sandboxHold),
		declinedMembers: make(map[uuid.UUID]bool),
	}
}

// RegisterPlan enables drop-in purchases for a studio at the given price.
func (s *SandboxAuthority) RegisterPlan(studioID uuid.UUID, priceCents int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[studioID] = priceCents
}

func (s *SandboxAuthority) Authorize(ctx context.Context, memberID uuid.UUID, studioID uuid.UUID, paymentMethodID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[studioID]; !ok {
		return "", ErrNoDropInPlan
	}
	if strings.HasPrefix(paymentMethodID, "declined") {
		return "", ErrPaymentDeclined
	}

	authID := uuid.New().String()
	s.holds[authID] = &sandboxHold{MemberID: memberID, StudioID: studioID, State: holdAuthorized}
	return authID, nil
}

func (s *SandboxAuthority) Capture(ctx context.Context, authorizationID string) error {
	return s.transition(authorizationID, holdAuthorized, holdCaptured)
}

func (s *SandboxAuthority) Void(ctx context.Context, authorizationID string) error {
	return s.transition(authorizationID, holdAuthorized, holdVoided)
}

func (s *SandboxAuthority) RefundCharge(ctx context.Context, authorizationID string) error {
	return s.transition(authorizationID, holdCaptured, holdRefunded)
}

// ChargeFee bills a standalone amount. Members whose ID appears in the
// decline set simulate a failed card.
func (s *SandboxAuthority) ChargeFee(ctx context.Context, memberID uuid.UUID, amountCents int64, reference string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.declinedMembers[memberID] {
		return "", ErrPaymentDeclined
	}

	chargeID := uuid.New().String()
	s.holds[chargeID] = &sandboxHold{MemberID: memberID, State: holdCaptured}
	return chargeID, nil
}

// DeclineMember makes every future charge for the member fail.
func (s *SandboxAuthority) DeclineMember(memberID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.declinedMembers[memberID] = true
}

func (s *SandboxAuthority) transition(authorizationID string, from, to sandboxHoldState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hold, ok := s.holds[authorizationID]
	if !ok {
		return fmt.Errorf("unknown authorization %s", authorizationID)
	}
	if hold.State != from {
		return fmt.Errorf("authorization %s is %s, expected %s", authorizationID, hold.State, from)
	}
	hold.State = to
	return nil
}
