package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"classbook/internal/classes"
	"classbook/internal/entitlements"
	"classbook/internal/notifications"
	"classbook/internal/reservations"
	"classbook/internal/shared/constants"
	"classbook/internal/shared/idempotency"
	"classbook/internal/studios"
	"classbook/pkg/cache"

	"github.com/google/uuid"
)

var (
	ErrWalkInsDisabled = errors.New("walk-ins are disabled for this studio")
	ErrNotOwner        = errors.New("reservation belongs to another member")
)

// Actor identifies who performs a check-in. Staff check in anyone; members
// only themselves.
type Actor struct {
	ID    uuid.UUID
	Staff bool
}

// CheckedInBy renders the actor for the attendance record.
func (a Actor) CheckedInBy() string {
	if a.Staff {
		return a.ID.String()
	}
	return CheckedInBySelf
}

// reservationReader is the slice of the booking ledger this tracker reads.
type reservationReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*reservations.Reservation, error)
}

// completionReconciler assigns no-shows and expires leftover queue entries
// once a class completes.
type completionReconciler interface {
	ReconcileCompletedInstance(ctx context.Context, instanceID uuid.UUID) (noShows int, expired int, err error)
}

type Service interface {
	// Service dependency injection
	SetPublisher(publisher notifications.Publisher)
	SetCacheService(cacheService cache.Service)

	// CheckIn marks a booked or confirmed reservation attended once the
	// class window has started. Idempotent per reservation and per key.
	CheckIn(ctx context.Context, reservationID uuid.UUID, actor Actor, idempotencyKey uuid.UUID) (*AttendanceRecord, error)

	// WalkIn admits a member with no prior booking, behind the entitlement
	// gate and the capacity invariant. Staff only.
	WalkIn(ctx context.Context, instanceID uuid.UUID, staffID uuid.UUID, req WalkInRequest) (*AttendanceRecord, error)

	// BatchCheckIn applies CheckIn per id. Items succeed and fail
	// independently; the result carries one entry per requested id.
	BatchCheckIn(ctx context.Context, instanceID uuid.UUID, reservationIDs []string, actor Actor) ([]BatchItemResult, error)

	// GetRoster returns the instance's seat holders, live offers and
	// waitlist in presentation order.
	GetRoster(ctx context.Context, instanceID uuid.UUID) (*Roster, error)

	// SweepCompletedInstances completes ended classes and reconciles their
	// remaining reservations. Used by the completion sweep.
	SweepCompletedInstances(ctx context.Context, limit int) (int, error)
}

type service struct {
	repo         Repository
	reservations reservationReader
	reconciler   completionReconciler
	classService classes.Service
	studios      studios.Service
	gate         entitlements.Gate
	publisher    notifications.Publisher
	cacheService cache.Service
}

func NewService(repo Repository, reservationRepo reservationReader, reconciler completionReconciler,
	classService classes.Service, studioService studios.Service, gate entitlements.Gate) Service {
	return &service{
		repo:         repo,
		reservations: reservationRepo,
		reconciler:   reconciler,
		classService: classService,
		studios:      studioService,
		gate:         gate,
	}
}

// SetPublisher injects the notification publisher after construction
func (s *service) SetPublisher(publisher notifications.Publisher) {
	s.publisher = publisher
}

// SetCacheService injects the cache service after construction
func (s *service) SetCacheService(cacheService cache.Service) {
	s.cacheService = cacheService
}

func (s *service) publish(ctx context.Context, msg *notifications.Message) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		log.Printf("Warning: failed to publish %s notification: %v", msg.Type, err)
	}
}

func (s *service) invalidateRoster(ctx context.Context, instanceID uuid.UUID, memberID uuid.UUID) {
	if s.cacheService == nil {
		return
	}
	if err := s.cacheService.Delete(ctx, constants.BuildRosterKey(instanceID.String())); err != nil {
		log.Printf("Warning: failed to invalidate roster cache: %v", err)
	}
	if err := s.cacheService.DeletePattern(ctx, constants.BuildMemberReservationsKey(memberID.String())+"*"); err != nil {
		log.Printf("Warning: failed to invalidate member reservations cache: %v", err)
	}
}

func (s *service) CheckIn(ctx context.Context, reservationID uuid.UUID, actor Actor, idempotencyKey uuid.UUID) (*AttendanceRecord, error) {
	res, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if !actor.Staff && res.MemberID != actor.ID {
		return nil, ErrNotOwner
	}

	result, err := s.repo.CheckIn(ctx, CheckInParams{
		IdempotencyKey: idempotencyKey,
		RequestHash:    idempotency.HashRequest("check_in", reservationID.String(), actor.ID.String()),
		ReservationID:  reservationID,
		ActorID:        actor.ID,
		CheckedInBy:    actor.CheckedInBy(),
	})
	if err != nil {
		return nil, err
	}
	if result.Replayed {
		return result.Record, nil
	}

	s.invalidateRoster(ctx, result.Reservation.ClassInstanceID, result.Reservation.MemberID)
	s.publish(ctx, notifications.NewMessage(notifications.TypeReservationCheckedIn, result.Reservation.MemberID).
		WithReservation(reservationID).
		WithInstance(result.Reservation.ClassInstanceID).
		WithData("checked_in_by", result.Record.CheckedInBy))

	return result.Record, nil
}

func (s *service) WalkIn(ctx context.Context, instanceID uuid.UUID, staffID uuid.UUID, req WalkInRequest) (*AttendanceRecord, error) {
	memberID, err := uuid.Parse(req.MemberID)
	if err != nil {
		return nil, fmt.Errorf("invalid member ID: %w", err)
	}

	instance, err := s.classService.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	policy, err := s.studios.GetPolicy(ctx, instance.StudioID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve studio policy: %w", err)
	}
	if !policy.WalkInsEnabled {
		return nil, ErrWalkInsDisabled
	}

	// The gate runs outside the instance lock. A walk-in grants the seat
	// at the door, so the entitlement is consumed up front and refunded
	// when the claim fails underneath us.
	pledge, err := s.gate.Prepare(ctx, memberID, entitlements.PrepareRequest{
		InstanceID:      instanceID,
		StudioID:        instance.StudioID,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		return nil, err
	}
	if err := s.gate.TryConsume(ctx, pledge); err != nil {
		s.gate.Release(ctx, pledge)
		return nil, err
	}

	var kind, ref *string
	if pledge != nil && pledge.Kind != entitlements.KindNone {
		k := string(pledge.Kind)
		r := pledge.Ref
		kind, ref = &k, &r
	}

	result, err := s.repo.WalkIn(ctx, WalkInParams{
		ClassInstanceID: instanceID,
		MemberID:        memberID,
		StaffID:         staffID,
		EntitlementKind: kind,
		EntitlementRef:  ref,
	})
	if err != nil {
		if refundErr := s.gate.Refund(ctx, pledge); refundErr != nil {
			log.Printf("Warning: failed to refund entitlement after rejected walk-in for member %s: %v", memberID, refundErr)
		}
		return nil, err
	}

	s.invalidateRoster(ctx, instanceID, memberID)
	s.publish(ctx, notifications.NewMessage(notifications.TypeReservationCheckedIn, memberID).
		WithReservation(result.Reservation.ID).
		WithInstance(instanceID).
		WithData("walk_in", true))

	return result.Record, nil
}

func (s *service) BatchCheckIn(ctx context.Context, instanceID uuid.UUID, reservationIDs []string, actor Actor) ([]BatchItemResult, error) {
	results := make([]BatchItemResult, 0, len(reservationIDs))

	for _, raw := range reservationIDs {
		item := BatchItemResult{ReservationID: raw}

		id, err := uuid.Parse(raw)
		if err != nil {
			item.Error = "invalid reservation ID"
			results = append(results, item)
			continue
		}

		res, err := s.reservations.GetByID(ctx, id)
		if err != nil {
			item.Error = err.Error()
			results = append(results, item)
			continue
		}
		if res.ClassInstanceID != instanceID {
			item.Error = "reservation belongs to another class instance"
			results = append(results, item)
			continue
		}

		// No per-item idempotency key; check-in is idempotent per
		// reservation so a replayed batch converges on the same records.
		outcome, err := s.repo.CheckIn(ctx, CheckInParams{
			ReservationID: id,
			ActorID:       actor.ID,
			CheckedInBy:   actor.CheckedInBy(),
		})
		if err != nil {
			item.Error = err.Error()
			results = append(results, item)
			continue
		}

		item.Success = true
		item.Record = outcome.Record
		results = append(results, item)

		if !outcome.Replayed {
			s.publish(ctx, notifications.NewMessage(notifications.TypeReservationCheckedIn, outcome.Reservation.MemberID).
				WithReservation(id).
				WithInstance(instanceID))
		}
	}

	s.invalidateRosterOnly(ctx, instanceID)
	return results, nil
}

func (s *service) invalidateRosterOnly(ctx context.Context, instanceID uuid.UUID) {
	if s.cacheService == nil {
		return
	}
	if err := s.cacheService.Delete(ctx, constants.BuildRosterKey(instanceID.String())); err != nil {
		log.Printf("Warning: failed to invalidate roster cache: %v", err)
	}
}

func (s *service) GetRoster(ctx context.Context, instanceID uuid.UUID) (*Roster, error) {
	cacheKey := constants.BuildRosterKey(instanceID.String())
	if s.cacheService != nil {
		var cached Roster
		if err := s.cacheService.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	if _, err := s.classService.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}

	entries, err := s.repo.Roster(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	roster := &Roster{ClassInstanceID: instanceID}
	for _, entry := range entries {
		switch reservations.Status(entry.Status) {
		case reservations.StatusPromoted:
			roster.Promoted = append(roster.Promoted, entry)
		case reservations.StatusWaitlisted:
			roster.Waitlisted = append(roster.Waitlisted, entry)
		default:
			roster.Seated = append(roster.Seated, entry)
		}
	}

	// Seated rows keep booking order from the query; offers sort by when
	// they expire, the queue by position.
	sort.SliceStable(roster.Promoted, func(i, j int) bool {
		a, b := roster.Promoted[i].PromotionExpiresAt, roster.Promoted[j].PromotionExpiresAt
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return a.Before(*b)
	})
	sort.SliceStable(roster.Waitlisted, func(i, j int) bool {
		a, b := roster.Waitlisted[i].WaitlistPosition, roster.Waitlisted[j].WaitlistPosition
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return *a < *b
	})

	if s.cacheService != nil {
		if err := s.cacheService.Set(ctx, cacheKey, roster, constants.TTL_ROSTER); err != nil {
			log.Printf("Warning: failed to cache roster for instance %s: %v", instanceID, err)
		}
	}

	return roster, nil
}

func (s *service) SweepCompletedInstances(ctx context.Context, limit int) (int, error) {
	ended, err := s.classService.ListEndedScheduled(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list ended instances: %w", err)
	}

	completed := 0
	for i := range ended {
		instance := &ended[i]
		if err := s.classService.CompleteInstance(ctx, instance.ID); err != nil {
			log.Printf("Warning: failed to complete instance %s: %v", instance.ID, err)
			continue
		}

		noShows, expired, err := s.reconciler.ReconcileCompletedInstance(ctx, instance.ID)
		if err != nil {
			// The instance is completed; the next sweep retries the
			// reconciliation because booked rows are still present.
			log.Printf("Warning: failed to reconcile completed instance %s: %v", instance.ID, err)
			continue
		}

		completed++
		if noShows > 0 || expired > 0 {
			log.Printf("Completed instance %s: %d no-shows, %d expired queue entries", instance.ID, noShows, expired)
		}
	}

	return completed, nil
}
