package classes

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"classbook/internal/shared/constants"
	"classbook/internal/studios"
	"classbook/pkg/cache"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrInstanceNotFound      = errors.New("class instance not found")
	ErrInstanceNotCancelable = errors.New("class instance cannot be cancelled")
)

type Service interface {
	// Service dependency injection
	SetCacheService(cacheService cache.Service)
	SetReservationEngine(engine ReservationEngine)

	CreateInstance(ctx context.Context, req CreateInstanceRequest) (*ClassInstanceResponse, error)
	GetInstanceByID(ctx context.Context, id uuid.UUID) (*ClassInstanceResponse, error)
	ListInstances(ctx context.Context, query InstanceListQuery) (*PaginatedInstances, error)

	// AdjustCapacity changes max_capacity. A reduction never invalidates
	// already granted reservations; an increase frees seats and kicks the
	// waitlist promotion.
	AdjustCapacity(ctx context.Context, id uuid.UUID, req AdjustCapacityRequest) (*ClassInstanceResponse, error)

	// CancelInstance cancels the class and every live reservation under it
	// in one transaction.
	CancelInstance(ctx context.Context, id uuid.UUID) (*InstanceCancelSummary, error)

	// CompleteInstance flips an ended instance to completed and drops its
	// cached reads. Used by the completion sweep.
	CompleteInstance(ctx context.Context, id uuid.UUID) error

	// GetInstance returns the raw row for engine-internal callers.
	GetInstance(ctx context.Context, id uuid.UUID) (*ClassInstance, error)

	// ListEndedScheduled returns scheduled instances past their end time,
	// oldest first. Used by the completion sweep.
	ListEndedScheduled(ctx context.Context, limit int) ([]ClassInstance, error)
}

// ReservationEngine is the slice of the booking engine the class registry
// needs. Defined locally to avoid circular dependencies.
type ReservationEngine interface {
	// CancelAllForInstance flips the instance to cancelled and transitions
	// every live reservation with reason class_cancelled, atomically.
	CancelAllForInstance(ctx context.Context, instanceID uuid.UUID) (seated int, waitlisted int, err error)

	// PromoteEligible fills freed seats from the waitlist head.
	PromoteEligible(ctx context.Context, instanceID uuid.UUID) (int, error)

	// SeatCounts reports seated and waitlisted totals for display reads.
	SeatCounts(ctx context.Context, instanceID uuid.UUID) (seated int, waitlisted int, err error)
}

type InstanceCancelSummary struct {
	InstanceID     string `json:"instance_id"`
	CancelledSeats int    `json:"cancelled_seats"`
	VoidedWaitlist int    `json:"voided_waitlist"`
}

type service struct {
	repo              Repository
	studioService     studios.Service
	cacheService      cache.Service
	reservationEngine ReservationEngine
}

func NewService(repo Repository, studioService studios.Service) Service {
	return &service{
		repo:          repo,
		studioService: studioService,
	}
}

// SetCacheService injects the cache service dependency
func (s *service) SetCacheService(cacheService cache.Service) {
	s.cacheService = cacheService
}

// SetReservationEngine injects the booking engine dependency
func (s *service) SetReservationEngine(engine ReservationEngine) {
	s.reservationEngine = engine
}

// Cache helper methods
func (s *service) setCache(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if s.cacheService == nil {
		return nil // Skip caching if cache service is not available
	}

	return s.cacheService.Set(ctx, key, value, ttl)
}

func (s *service) getCache(ctx context.Context, key string, dest interface{}) error {
	if s.cacheService == nil {
		return fmt.Errorf("cache service not available")
	}

	return s.cacheService.Get(ctx, key, dest)
}

func (s *service) invalidateInstanceCache(ctx context.Context, instanceID *uuid.UUID) error {
	if s.cacheService == nil {
		return nil
	}

	patterns := []string{
		constants.CACHE_KEY_INSTANCE_LIST + "*",
	}

	if instanceID != nil {
		patterns = append(patterns, constants.BuildInstanceDetailKey(instanceID.String())+"*")
		patterns = append(patterns, constants.BuildRosterKey(instanceID.String())+"*")
	}

	for _, pattern := range patterns {
		if err := s.cacheService.DeletePattern(ctx, pattern); err != nil {
			return err
		}
	}

	return nil
}

// populateSeatCounts fills the derived seat fields. Display only; the
// authoritative count happens inside the claim transaction.
func (s *service) populateSeatCounts(ctx context.Context, response *ClassInstanceResponse) {
	if s.reservationEngine == nil {
		return
	}

	instanceID, err := uuid.Parse(response.ID)
	if err != nil {
		return
	}

	seated, waitlisted, err := s.reservationEngine.SeatCounts(ctx, instanceID)
	if err != nil {
		// Leave the counts at zero rather than failing the read.
		return
	}

	response.SeatsTaken = seated
	response.Waitlisted = waitlisted
	open := response.MaxCapacity - seated
	if open < 0 {
		open = 0
	}
	response.SeatsOpen = open
}

func (s *service) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*ClassInstanceResponse, error) {
	studioID, err := uuid.Parse(req.StudioID)
	if err != nil {
		return nil, fmt.Errorf("invalid studio ID: %w", err)
	}

	if _, err := s.studioService.GetStudio(ctx, req.StudioID); err != nil {
		if errors.Is(err, studios.ErrStudioNotFound) {
			return nil, fmt.Errorf("studio %s does not exist", req.StudioID)
		}
		return nil, fmt.Errorf("failed to validate studio: %w", err)
	}

	if !req.EndsAt.After(req.StartsAt) {
		return nil, errors.New("ends_at must be after starts_at")
	}

	instance := &ClassInstance{
		ID:          uuid.New(),
		StudioID:    studioID,
		Title:       req.Title,
		Instructor:  req.Instructor,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		MaxCapacity: req.MaxCapacity,
		Status:      InstanceStatusScheduled,
	}

	if err := s.repo.Create(ctx, instance); err != nil {
		return nil, fmt.Errorf("failed to create class instance: %w", err)
	}

	if err := s.invalidateInstanceCache(ctx, nil); err != nil {
		log.Printf("Warning: failed to invalidate instance cache after creation: %v", err)
	}

	response := instance.ToResponse()
	response.SeatsOpen = instance.MaxCapacity
	return &response, nil
}

func (s *service) GetInstanceByID(ctx context.Context, id uuid.UUID) (*ClassInstanceResponse, error) {
	cacheKey := constants.BuildInstanceDetailKey(id.String())

	var cached ClassInstanceResponse
	if err := s.getCache(ctx, cacheKey, &cached); err == nil {
		// Seat counts shift under the cached row; refresh them on the way out.
		s.populateSeatCounts(ctx, &cached)
		return &cached, nil
	}

	instance, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to get class instance: %w", err)
	}

	response := instance.ToResponse()

	if err := s.setCache(ctx, cacheKey, response, constants.TTL_INSTANCE_DETAIL); err != nil {
		log.Printf("Warning: failed to cache instance %s: %v", id, err)
	}

	s.populateSeatCounts(ctx, &response)
	return &response, nil
}

func (s *service) ListInstances(ctx context.Context, query InstanceListQuery) (*PaginatedInstances, error) {
	instances, totalCount, err := s.repo.GetAll(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list class instances: %w", err)
	}

	if query.Page == 0 {
		query.Page = 1
	}
	if query.Limit == 0 {
		query.Limit = 10
	}

	responses := make([]ClassInstanceResponse, len(instances))
	for i := range instances {
		responses[i] = instances[i].ToResponse()
		s.populateSeatCounts(ctx, &responses[i])
	}

	return &PaginatedInstances{
		Instances:  responses,
		TotalCount: totalCount,
		Page:       query.Page,
		Limit:      query.Limit,
		TotalPages: int(math.Ceil(float64(totalCount) / float64(query.Limit))),
	}, nil
}

func (s *service) AdjustCapacity(ctx context.Context, id uuid.UUID, req AdjustCapacityRequest) (*ClassInstanceResponse, error) {
	newCapacity := *req.MaxCapacity

	oldCapacity, err := s.repo.UpdateCapacity(ctx, id, newCapacity)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to adjust capacity: %w", err)
	}

	if err := s.invalidateInstanceCache(ctx, &id); err != nil {
		log.Printf("Warning: failed to invalidate instance cache after capacity change: %v", err)
	}

	// An increase frees seats; promote from the waitlist right away. The
	// deadline sweep also promotes, so a failure here only delays.
	if newCapacity > oldCapacity && s.reservationEngine != nil {
		if promoted, err := s.reservationEngine.PromoteEligible(ctx, id); err != nil {
			log.Printf("Warning: waitlist promotion after capacity increase failed for instance %s: %v", id, err)
		} else if promoted > 0 {
			log.Printf("Promoted %d waitlisted members after capacity increase for instance %s", promoted, id)
		}
	}

	return s.GetInstanceByID(ctx, id)
}

func (s *service) CancelInstance(ctx context.Context, id uuid.UUID) (*InstanceCancelSummary, error) {
	if s.reservationEngine == nil {
		return nil, errors.New("reservation engine not available")
	}

	instance, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to get class instance: %w", err)
	}

	if !instance.Status.CanTransitionTo(InstanceStatusCancelled) {
		return nil, ErrInstanceNotCancelable
	}

	seated, waitlisted, err := s.reservationEngine.CancelAllForInstance(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel class instance: %w", err)
	}

	if err := s.invalidateInstanceCache(ctx, &id); err != nil {
		log.Printf("Warning: failed to invalidate instance cache after cancellation: %v", err)
	}

	return &InstanceCancelSummary{
		InstanceID:     id.String(),
		CancelledSeats: seated,
		VoidedWaitlist: waitlisted,
	}, nil
}

func (s *service) CompleteInstance(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.MarkCompleted(ctx, id); err != nil {
		return fmt.Errorf("failed to mark instance completed: %w", err)
	}

	if err := s.invalidateInstanceCache(ctx, &id); err != nil {
		log.Printf("Warning: failed to invalidate instance cache after completion: %v", err)
	}

	return nil
}

func (s *service) GetInstance(ctx context.Context, id uuid.UUID) (*ClassInstance, error) {
	instance, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return instance, nil
}

func (s *service) ListEndedScheduled(ctx context.Context, limit int) ([]ClassInstance, error) {
	return s.repo.GetEndedScheduled(ctx, time.Now().UTC(), limit)
}
