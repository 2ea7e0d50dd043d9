package fees

import (
	"context"
	"fmt"
	"log"

	"classbook/internal/entitlements"
	"classbook/internal/notifications"

	"github.com/google/uuid"
)

// maxChargeAttempts bounds how often the sweep retries one fee before
// marking it failed for manual follow-up.
const maxChargeAttempts = 5

type Service interface {
	// QueueLateFee records a pending fee for a late cancellation. The
	// charge sweep bills it asynchronously.
	QueueLateFee(ctx context.Context, reservationID uuid.UUID, memberID uuid.UUID, amountCents int64) error

	// ChargePending drains a batch of pending fees against the payment
	// authority and reports how many were charged.
	ChargePending(ctx context.Context, limit int) (int, error)

	SetPublisher(publisher notifications.Publisher)
}

type service struct {
	repo      Repository
	authority entitlements.PaymentAuthority
	publisher notifications.Publisher
}

func NewService(repo Repository, authority entitlements.PaymentAuthority) Service {
	return &service{
		repo:      repo,
		authority: authority,
	}
}

func (s *service) SetPublisher(publisher notifications.Publisher) {
	s.publisher = publisher
}

func (s *service) QueueLateFee(ctx context.Context, reservationID uuid.UUID, memberID uuid.UUID, amountCents int64) error {
	if amountCents <= 0 {
		return nil
	}

	charge := &FeeCharge{
		ReservationID: reservationID,
		MemberID:      memberID,
		AmountCents:   amountCents,
		Status:        StatusPending,
	}
	if err := s.repo.Create(ctx, charge); err != nil {
		return fmt.Errorf("failed to queue late fee: %w", err)
	}

	log.Printf("Queued late fee of %d cents for reservation %s", amountCents, reservationID)
	return nil
}

func (s *service) ChargePending(ctx context.Context, limit int) (int, error) {
	charges, err := s.repo.GetPending(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending fees: %w", err)
	}

	charged := 0
	for _, charge := range charges {
		chargeRef, err := s.authority.ChargeFee(ctx, charge.MemberID, charge.AmountCents, charge.ReservationID.String())
		if err != nil {
			terminal := charge.Attempts+1 >= maxChargeAttempts
			if markErr := s.repo.MarkFailed(ctx, charge.ID, err.Error(), terminal); markErr != nil {
				log.Printf("Warning: failed to record fee charge failure for %s: %v", charge.ID, markErr)
			}
			if terminal {
				log.Printf("Fee charge %s failed permanently after %d attempts: %v", charge.ID, charge.Attempts+1, err)
			}
			continue
		}

		if err := s.repo.MarkCharged(ctx, charge.ID, chargeRef); err != nil {
			log.Printf("Warning: fee %s charged but not recorded: %v", charge.ID, err)
			continue
		}
		charged++
		s.publishCharged(ctx, charge)
	}

	return charged, nil
}

func (s *service) publishCharged(ctx context.Context, charge FeeCharge) {
	if s.publisher == nil {
		return
	}
	msg := notifications.NewMessage(notifications.TypeLateFeeCharged, charge.MemberID).
		WithReservation(charge.ReservationID).
		WithData("amount_cents", charge.AmountCents)
	if err := s.publisher.Publish(ctx, msg); err != nil {
		log.Printf("Warning: failed to publish fee charged notification: %v", err)
	}
}
