package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// compCreditProvider consumes staff-granted comp credits. Highest priority.
type compCreditProvider struct {
	db *gorm.DB
}

func NewCompCreditProvider(db *gorm.DB) Provider {
	return &compCreditProvider{db: db}
}

func (p *compCreditProvider) Kind() Kind {
	return KindCompCredit
}

func (p *compCreditProvider) Prepare(ctx context.Context, memberID uuid.UUID, req PrepareRequest) (*Pledge, error) {
	var balance CompCreditBalance
	err := p.db.WithContext(ctx).Where("member_id = ?", memberID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotApplicable
		}
		return nil, fmt.Errorf("failed to check comp credit balance: %w", err)
	}
	if balance.Balance <= 0 {
		return nil, ErrNotApplicable
	}
	return &Pledge{Kind: KindCompCredit, Ref: balance.ID.String(), MemberID: memberID}, nil
}

// TryConsume decrements the balance with a guarded update so two claims
// cannot spend the same credit. Zero rows affected means the balance ran
// out between Prepare and here.
func (p *compCreditProvider) TryConsume(ctx context.Context, pledge *Pledge) error {
	result := p.db.WithContext(ctx).Model(&CompCreditBalance{}).
		Where("member_id = ? AND balance > 0", pledge.MemberID).
		Update("balance", gorm.Expr("balance - 1"))
	if result.Error != nil {
		return fmt.Errorf("failed to consume comp credit: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("comp credit balance exhausted for member %s", pledge.MemberID)
	}
	return nil
}

func (p *compCreditProvider) Refund(ctx context.Context, pledge *Pledge) error {
	result := p.db.WithContext(ctx).Model(&CompCreditBalance{}).
		Where("member_id = ?", pledge.MemberID).
		Update("balance", gorm.Expr("balance + 1"))
	if result.Error != nil {
		return fmt.Errorf("failed to refund comp credit: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no comp credit balance row for member %s", pledge.MemberID)
	}
	return nil
}

func (p *compCreditProvider) Release(ctx context.Context, pledge *Pledge) error {
	// Prepare holds nothing, so there is nothing to release.
	return nil
}

// classPackProvider consumes prepaid class pack sessions.
type classPackProvider struct {
	db *gorm.DB
}

func NewClassPackProvider(db *gorm.DB) Provider {
	return &classPackProvider{db: db}
}

func (p *classPackProvider) Kind() Kind {
	return KindClassPack
}

func (p *classPackProvider) Prepare(ctx context.Context, memberID uuid.UUID, req PrepareRequest) (*Pledge, error) {
	var pack ClassPackBalance
	err := p.db.WithContext(ctx).Where("member_id = ?", memberID).First(&pack).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotApplicable
		}
		return nil, fmt.Errorf("failed to check class pack balance: %w", err)
	}
	if pack.Remaining <= 0 || !pack.ExpiresAt.After(time.Now()) {
		return nil, ErrNotApplicable
	}
	return &Pledge{Kind: KindClassPack, Ref: pack.ID.String(), MemberID: memberID}, nil
}

func (p *classPackProvider) TryConsume(ctx context.Context, pledge *Pledge) error {
	result := p.db.WithContext(ctx).Model(&ClassPackBalance{}).
		Where("member_id = ? AND remaining > 0 AND expires_at > ?", pledge.MemberID, time.Now()).
		Update("remaining", gorm.Expr("remaining - 1"))
	if result.Error != nil {
		return fmt.Errorf("failed to consume class pack session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("class pack exhausted or expired for member %s", pledge.MemberID)
	}
	return nil
}

// Refund restores the session even on an expired pack. A member cancelling
// inside the window gets their session back regardless of pack age.
func (p *classPackProvider) Refund(ctx context.Context, pledge *Pledge) error {
	result := p.db.WithContext(ctx).Model(&ClassPackBalance{}).
		Where("member_id = ?", pledge.MemberID).
		Update("remaining", gorm.Expr("remaining + 1"))
	if result.Error != nil {
		return fmt.Errorf("failed to refund class pack session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no class pack row for member %s", pledge.MemberID)
	}
	return nil
}

func (p *classPackProvider) Release(ctx context.Context, pledge *Pledge) error {
	return nil
}

// subscriptionProvider admits members with an active subscription. Nothing
// is decremented, so consume, refund and release are all no-ops.
type subscriptionProvider struct {
	db *gorm.DB
}

func NewSubscriptionProvider(db *gorm.DB) Provider {
	return &subscriptionProvider{db: db}
}

func (p *subscriptionProvider) Kind() Kind {
	return KindSubscription
}

func (p *subscriptionProvider) Prepare(ctx context.Context, memberID uuid.UUID, req PrepareRequest) (*Pledge, error) {
	var sub Subscription
	err := p.db.WithContext(ctx).
		Where("member_id = ? AND active = ? AND valid_until > ?", memberID, true, time.Now()).
		Order("valid_until DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotApplicable
		}
		return nil, fmt.Errorf("failed to check subscription: %w", err)
	}
	return &Pledge{Kind: KindSubscription, Ref: sub.ID.String(), MemberID: memberID}, nil
}

func (p *subscriptionProvider) TryConsume(ctx context.Context, pledge *Pledge) error {
	return nil
}

func (p *subscriptionProvider) Refund(ctx context.Context, pledge *Pledge) error {
	return nil
}

func (p *subscriptionProvider) Release(ctx context.Context, pledge *Pledge) error {
	return nil
}
