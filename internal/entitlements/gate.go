package entitlements

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// Provider backs bookings with one entitlement kind. Prepare runs before
// the seat claim and must not consume anything. TryConsume runs after the
// seat is granted; its failure triggers a compensating cancel upstream.
// Refund reverses a consumed pledge, Release drops an unconsumed one.
type Provider interface {
	Kind() Kind
	Prepare(ctx context.Context, memberID uuid.UUID, req PrepareRequest) (*Pledge, error)
	TryConsume(ctx context.Context, pledge *Pledge) error
	Refund(ctx context.Context, pledge *Pledge) error
	Release(ctx context.Context, pledge *Pledge) error
}

// Gate resolves which entitlement backs a booking and dispatches lifecycle
// calls to the owning provider.
type Gate interface {
	Prepare(ctx context.Context, memberID uuid.UUID, req PrepareRequest) (*Pledge, error)
	TryConsume(ctx context.Context, pledge *Pledge) error
	Refund(ctx context.Context, pledge *Pledge) error
	Release(ctx context.Context, pledge *Pledge) error
}

type gate struct {
	providers []Provider
	byKind    map[Kind]Provider
}

// NewGate builds a gate that consults providers in the given order. The
// order is the consumption priority: comp credits before class packs before
// subscriptions before drop-in payment.
func NewGate(providers ...Provider) Gate {
	byKind := make(map[Kind]Provider, len(providers))
	for _, p := range providers {
		byKind[p.Kind()] = p
	}
	return &gate{providers: providers, byKind: byKind}
}

// Prepare walks the providers in priority order and returns the first
// pledge. A provider answering ErrNotApplicable passes the turn to the
// next one. ErrNoDropInPlan from the payment provider degrades to a
// standard booking with no charge. When every provider passes, the member
// has nothing to book with.
func (g *gate) Prepare(ctx context.Context, memberID uuid.UUID, req PrepareRequest) (*Pledge, error) {
	for _, p := range g.providers {
		pledge, err := p.Prepare(ctx, memberID, req)
		if err != nil {
			if errors.Is(err, ErrNotApplicable) {
				continue
			}
			if errors.Is(err, ErrNoDropInPlan) {
				return &Pledge{Kind: KindNone, MemberID: memberID}, nil
			}
			return nil, err
		}
		return pledge, nil
	}
	return nil, ErrEntitlementRequired
}

func (g *gate) TryConsume(ctx context.Context, pledge *Pledge) error {
	if pledge == nil || pledge.Kind == KindNone {
		return nil
	}
	p, ok := g.byKind[pledge.Kind]
	if !ok {
		return fmt.Errorf("no provider for entitlement kind %s", pledge.Kind)
	}
	if err := p.TryConsume(ctx, pledge); err != nil {
		return err
	}
	pledge.Consumed = true
	return nil
}

func (g *gate) Refund(ctx context.Context, pledge *Pledge) error {
	if pledge == nil || pledge.Kind == KindNone {
		return nil
	}
	if !pledge.Consumed {
		return g.Release(ctx, pledge)
	}
	p, ok := g.byKind[pledge.Kind]
	if !ok {
		return fmt.Errorf("no provider for entitlement kind %s", pledge.Kind)
	}
	if err := p.Refund(ctx, pledge); err != nil {
		return err
	}
	pledge.Consumed = false
	return nil
}

func (g *gate) Release(ctx context.Context, pledge *Pledge) error {
	if pledge == nil || pledge.Kind == KindNone || pledge.Consumed {
		return nil
	}
	p, ok := g.byKind[pledge.Kind]
	if !ok {
		return fmt.Errorf("no provider for entitlement kind %s", pledge.Kind)
	}
	if err := p.Release(ctx, pledge); err != nil {
		log.Printf("Warning: failed to release %s pledge for member %s: %v", pledge.Kind, pledge.MemberID, err)
		return err
	}
	return nil
}
