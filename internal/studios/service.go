package studios

import (
	"context"
	"errors"
	"fmt"
	"time"

	"classbook/internal/shared/config"
	"classbook/internal/shared/constants"
	"classbook/pkg/cache"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrStudioNotFound = errors.New("studio not found")

type Service interface {
	CreateStudio(ctx context.Context, req CreateStudioRequest) (*Studio, error)
	GetStudio(ctx context.Context, id string) (*Studio, error)
	ListStudios(ctx context.Context) ([]Studio, error)
	UpdateStudio(ctx context.Context, id string, req UpdateStudioRequest) (*Studio, error)

	// GetPolicy resolves the booking policy for a studio. Hot path for every
	// reserve and cancel, so it reads through the cache.
	GetPolicy(ctx context.Context, studioID uuid.UUID) (Policy, error)
}

type service struct {
	repo     Repository
	cache    cache.Service
	defaults config.BookingConfig
}

func NewService(repo Repository, cacheService cache.Service, defaults config.BookingConfig) Service {
	return &service{
		repo:     repo,
		cache:    cacheService,
		defaults: defaults,
	}
}

func (s *service) CreateStudio(ctx context.Context, req CreateStudioRequest) (*Studio, error) {
	existing, err := s.repo.GetByName(ctx, req.Name)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check studio name: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("studio with name '%s' already exists", req.Name)
	}

	studio := &Studio{
		ID:                       uuid.New(),
		Name:                     req.Name,
		Timezone:                 "UTC",
		CancellationWindow:       s.defaults.CancellationWindow,
		ConfirmationWindow:       s.defaults.ConfirmationWindow,
		PromotionDeadline:        s.defaults.PromotionDeadline,
		LateFeeCents:             s.defaults.LateFeeCents,
		WaitlistEnabled:          s.defaults.WaitlistEnabled,
		WalkInsEnabled:           s.defaults.WalkInsEnabled,
		RequeueExpiredPromotions: s.defaults.RequeueExpired,
	}
	if req.Timezone != "" {
		studio.Timezone = req.Timezone
	}
	if req.CancellationWindowMinutes != nil {
		studio.CancellationWindow = time.Duration(*req.CancellationWindowMinutes) * time.Minute
	}
	if req.ConfirmationWindowMinutes != nil {
		studio.ConfirmationWindow = time.Duration(*req.ConfirmationWindowMinutes) * time.Minute
	}
	if req.PromotionDeadlineMinutes != nil {
		studio.PromotionDeadline = time.Duration(*req.PromotionDeadlineMinutes) * time.Minute
	}
	if req.LateFeeCents != nil {
		studio.LateFeeCents = *req.LateFeeCents
	}
	if req.WaitlistEnabled != nil {
		studio.WaitlistEnabled = *req.WaitlistEnabled
	}
	if req.WalkInsEnabled != nil {
		studio.WalkInsEnabled = *req.WalkInsEnabled
	}
	if req.RequeueExpiredPromotions != nil {
		studio.RequeueExpiredPromotions = *req.RequeueExpiredPromotions
	}

	if err := s.repo.Create(ctx, studio); err != nil {
		return nil, fmt.Errorf("failed to create studio: %w", err)
	}

	return studio, nil
}

func (s *service) GetStudio(ctx context.Context, id string) (*Studio, error) {
	studioID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid studio ID: %w", err)
	}

	studio, err := s.repo.GetByID(ctx, studioID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStudioNotFound
		}
		return nil, fmt.Errorf("failed to get studio: %w", err)
	}
	return studio, nil
}

func (s *service) ListStudios(ctx context.Context) ([]Studio, error) {
	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list studios: %w", err)
	}
	return list, nil
}

func (s *service) UpdateStudio(ctx context.Context, id string, req UpdateStudioRequest) (*Studio, error) {
	studioID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid studio ID: %w", err)
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Timezone != nil {
		updates["timezone"] = *req.Timezone
	}
	if req.CancellationWindowMinutes != nil {
		updates["cancellation_window"] = time.Duration(*req.CancellationWindowMinutes) * time.Minute
	}
	if req.ConfirmationWindowMinutes != nil {
		updates["confirmation_window"] = time.Duration(*req.ConfirmationWindowMinutes) * time.Minute
	}
	if req.PromotionDeadlineMinutes != nil {
		updates["promotion_deadline"] = time.Duration(*req.PromotionDeadlineMinutes) * time.Minute
	}
	if req.LateFeeCents != nil {
		updates["late_fee_cents"] = *req.LateFeeCents
	}
	if req.WaitlistEnabled != nil {
		updates["waitlist_enabled"] = *req.WaitlistEnabled
	}
	if req.WalkInsEnabled != nil {
		updates["walk_ins_enabled"] = *req.WalkInsEnabled
	}
	if req.RequeueExpiredPromotions != nil {
		updates["requeue_expired_promotions"] = *req.RequeueExpiredPromotions
	}

	if len(updates) == 0 {
		return s.GetStudio(ctx, id)
	}

	if err := s.repo.Update(ctx, studioID, updates); err != nil {
		return nil, fmt.Errorf("failed to update studio: %w", err)
	}

	s.invalidatePolicyCache(ctx, studioID)

	return s.GetStudio(ctx, id)
}

func (s *service) GetPolicy(ctx context.Context, studioID uuid.UUID) (Policy, error) {
	cacheKey := constants.BuildStudioPolicyKey(studioID.String())

	var policy Policy
	if s.cache != nil {
		err := s.cache.GetOrSet(ctx, cacheKey, constants.TTL_STUDIO_POLICY, func() (interface{}, error) {
			studio, err := s.repo.GetByID(ctx, studioID)
			if err != nil {
				return nil, err
			}
			return studio.Policy(), nil
		}, &policy)
		if err == nil {
			return policy, nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Policy{}, ErrStudioNotFound
		}
		// Cache trouble falls through to a direct read.
	}

	studio, err := s.repo.GetByID(ctx, studioID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Policy{}, ErrStudioNotFound
		}
		return Policy{}, fmt.Errorf("failed to resolve studio policy: %w", err)
	}
	return studio.Policy(), nil
}

func (s *service) invalidatePolicyCache(ctx context.Context, studioID uuid.UUID) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, constants.BuildStudioPolicyKey(studioID.String()))
}
