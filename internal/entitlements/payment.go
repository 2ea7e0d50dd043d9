package entitlements

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// PaymentAuthority fronts the external payment processor. Authorize places
// a hold for a drop-in purchase, Capture settles it, Void cancels an
// uncaptured hold, RefundCharge reverses a captured one. ChargeFee bills a
// standalone amount (late-cancellation fees) without a prior hold.
type PaymentAuthority interface {
	Authorize(ctx context.Context, memberID uuid.UUID, studioID uuid.UUID, paymentMethodID string) (authorizationID string, err error)
	Capture(ctx context.Context, authorizationID string) error
	Void(ctx context.Context, authorizationID string) error
	RefundCharge(ctx context.Context, authorizationID string) error
	ChargeFee(ctx context.Context, memberID uuid.UUID, amountCents int64, reference string) (chargeID string, err error)
}

// dropInProvider charges a one-off drop-in fee through the payment
// authority. Lowest priority: it only runs when no stored entitlement
// covered the booking.
type dropInProvider struct {
	authority PaymentAuthority
}

func NewDropInProvider(authority PaymentAuthority) Provider {
	return &dropInProvider{authority: authority}
}

func (p *dropInProvider) Kind() Kind {
	return KindDropIn
}

// Prepare authorizes the drop-in charge before the seat claim. Members
// without a payment method on the request pass the turn, which ends the
// gate walk with nothing to book with.
func (p *dropInProvider) Prepare(ctx context.Context, memberID uuid.UUID, req PrepareRequest) (*Pledge, error) {
	if req.PaymentMethodID == "" {
		return nil, ErrNotApplicable
	}
	authID, err := p.authority.Authorize(ctx, memberID, req.StudioID, req.PaymentMethodID)
	if err != nil {
		return nil, err
	}
	return &Pledge{Kind: KindDropIn, Ref: authID, MemberID: memberID}, nil
}

func (p *dropInProvider) TryConsume(ctx context.Context, pledge *Pledge) error {
	if err := p.authority.Capture(ctx, pledge.Ref); err != nil {
		return fmt.Errorf("failed to capture drop-in charge %s: %w", pledge.Ref, err)
	}
	return nil
}

func (p *dropInProvider) Refund(ctx context.Context, pledge *Pledge) error {
	if err := p.authority.RefundCharge(ctx, pledge.Ref); err != nil {
		return fmt.Errorf("failed to refund drop-in charge %s: %w", pledge.Ref, err)
	}
	return nil
}

func (p *dropInProvider) Release(ctx context.Context, pledge *Pledge) error {
	if err := p.authority.Void(ctx, pledge.Ref); err != nil {
		return fmt.Errorf("failed to void drop-in authorization %s: %w", pledge.Ref, err)
	}
	return nil
}
