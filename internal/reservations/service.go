package reservations

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"classbook/internal/classes"
	"classbook/internal/entitlements"
	"classbook/internal/notifications"
	"classbook/internal/shared/constants"
	"classbook/internal/shared/idempotency"
	"classbook/internal/studios"
	"classbook/pkg/cache"

	"github.com/google/uuid"
)

var (
	ErrReservationNotFound  = errors.New("reservation not found")
	ErrInstanceNotBookable  = errors.New("class instance is not open for booking")
	ErrClassFull            = errors.New("class is full and its waitlist is disabled")
	ErrDuplicateReservation = errors.New("member already has a live reservation for this class")
	ErrPromotionExpired     = errors.New("promotion offer has expired")
	ErrConflict             = errors.New("reservation state conflict")
	ErrInvalidTransition    = errors.New("invalid reservation status transition")
	ErrNotReservationOwner  = errors.New("reservation belongs to another member")
	ErrConfirmationNotOpen  = errors.New("confirmation window is not open")
)

// Actor identifies who invokes an operation. Staff actors may operate on
// any reservation, members only on their own.
type Actor struct {
	ID    uuid.UUID
	Staff bool
}

type Service interface {
	// Service dependency injection
	SetPromotionEngine(engine PromotionEngine)
	SetPublisher(publisher notifications.Publisher)
	SetCacheService(cacheService cache.Service)

	// Reserve books a seat or joins the waitlist, behind the entitlement
	// gate. The idempotency key makes network retries safe.
	Reserve(ctx context.Context, memberID uuid.UUID, idempotencyKey uuid.UUID, req CreateReservationRequest) (*ReservationResponse, error)

	// Confirm re-affirms attendance inside the confirmation window.
	Confirm(ctx context.Context, reservationID uuid.UUID, actor Actor) (*ReservationResponse, error)

	// AcceptPromotion converts a live promotion offer into a booked seat
	// and consumes the pledged entitlement.
	AcceptPromotion(ctx context.Context, reservationID uuid.UUID, actor Actor) (*ReservationResponse, error)

	// Cancel releases a seat or leaves the waitlist. Freed seats trigger
	// promotion; late cancellations keep the entitlement and queue a fee.
	Cancel(ctx context.Context, reservationID uuid.UUID, actor Actor, idempotencyKey uuid.UUID) (*ReservationResponse, error)

	GetReservation(ctx context.Context, reservationID uuid.UUID, actor Actor) (*ReservationResponse, error)
	ListMemberReservations(ctx context.Context, memberID uuid.UUID, query MemberReservationsQuery) (*PaginatedMemberReservations, error)

	// CancelAllForInstance, PromoteEligible and SeatCounts serve the
	// class registry's engine hooks.
	CancelAllForInstance(ctx context.Context, instanceID uuid.UUID) (seated int, waitlisted int, err error)
	PromoteEligible(ctx context.Context, instanceID uuid.UUID) (int, error)
	SeatCounts(ctx context.Context, instanceID uuid.UUID) (seated int, waitlisted int, err error)

	// ReconcileCompletedInstance assigns no-shows and expires leftover
	// queue entries after a class completes. Used by the completion sweep.
	ReconcileCompletedInstance(ctx context.Context, instanceID uuid.UUID) (noShows int, expired int, err error)
}

// PromotionEngine is the slice of the waitlist engine this service pokes
// after a seat frees. Defined locally to avoid circular dependencies.
type PromotionEngine interface {
	PromoteNext(ctx context.Context, instanceID uuid.UUID) (int, error)
}

// FeeQueue is the slice of the fee pipeline late cancellations feed.
type FeeQueue interface {
	QueueLateFee(ctx context.Context, reservationID uuid.UUID, memberID uuid.UUID, amountCents int64) error
}

type service struct {
	repo            Repository
	classService    classes.Service
	studioService   studios.Service
	gate            entitlements.Gate
	feeQueue        FeeQueue
	promotionEngine PromotionEngine
	publisher       notifications.Publisher
	cacheService    cache.Service
}

func NewService(repo Repository, classService classes.Service, studioService studios.Service, gate entitlements.Gate, feeQueue FeeQueue) Service {
	return &service{
		repo:          repo,
		classService:  classService,
		studioService: studioService,
		gate:          gate,
		feeQueue:      feeQueue,
	}
}

// SetPromotionEngine injects the waitlist engine after construction
func (s *service) SetPromotionEngine(engine PromotionEngine) {
	s.promotionEngine = engine
}

// SetPublisher injects the notification publisher after construction
func (s *service) SetPublisher(publisher notifications.Publisher) {
	s.publisher = publisher
}

// SetCacheService injects the cache service after construction
func (s *service) SetCacheService(cacheService cache.Service) {
	s.cacheService = cacheService
}

// publish sends one message, logging instead of failing the operation.
func (s *service) publish(ctx context.Context, msg *notifications.Message) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		log.Printf("Warning: failed to publish %s notification: %v", msg.Type, err)
	}
}

// publishBatch sends many messages, logging instead of failing.
func (s *service) publishBatch(ctx context.Context, msgs []*notifications.Message) {
	if s.publisher == nil || len(msgs) == 0 {
		return
	}
	if err := s.publisher.PublishBatch(ctx, msgs); err != nil {
		log.Printf("Warning: failed to publish %d notifications: %v", len(msgs), err)
	}
}

// triggerPromotion pokes the waitlist engine after a seat frees. Failures
// only delay promotion; the deadline sweep retries on its next tick.
func (s *service) triggerPromotion(ctx context.Context, instanceID uuid.UUID) {
	if s.promotionEngine == nil {
		return
	}
	if _, err := s.promotionEngine.PromoteNext(ctx, instanceID); err != nil {
		log.Printf("Warning: promotion after freed seat failed for instance %s: %v", instanceID, err)
	}
}

// invalidateReadCaches drops the roster and member history caches touched
// by a reservation write.
func (s *service) invalidateReadCaches(ctx context.Context, instanceID uuid.UUID, memberID uuid.UUID) {
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

// pledgeColumns maps a prepared pledge onto the reservation row. Standard
// bookings without charge store nothing.
func pledgeColumns(pledge *entitlements.Pledge) (*string, *string) {
	if pledge == nil || pledge.Kind == entitlements.KindNone {
		return nil, nil
	}
	kind := string(pledge.Kind)
	ref := pledge.Ref
	return &kind, &ref
}

// pledgeFromRow rebuilds the pledge a row carries so it can be consumed,
// refunded or released after the fact.
func pledgeFromRow(row *Reservation, consumed bool) *entitlements.Pledge {
	if row.EntitlementKind == nil {
		return nil
	}
	pledge := &entitlements.Pledge{
		Kind:     entitlements.Kind(*row.EntitlementKind),
		MemberID: row.MemberID,
		Consumed: consumed,
	}
	if row.EntitlementRef != nil {
		pledge.Ref = *row.EntitlementRef
	}
	return pledge
}

func (s *service) Reserve(ctx context.Context, memberID uuid.UUID, idempotencyKey uuid.UUID, req CreateReservationRequest) (*ReservationResponse, error) {
	instanceID, err := uuid.Parse(req.ClassInstanceID)
	if err != nil {
		return nil, fmt.Errorf("invalid class instance ID: %w", err)
	}

	instance, err := s.classService.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if !instance.Status.IsBookable() || instance.HasStarted(now) {
		return nil, ErrInstanceNotBookable
	}

	policy, err := s.studioService.GetPolicy(ctx, instance.StudioID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve studio policy: %w", err)
	}

	// The gate runs before any lock; payment authorization never happens
	// while the instance row is held.
	pledge, err := s.gate.Prepare(ctx, memberID, entitlements.PrepareRequest{
		InstanceID:      instanceID,
		StudioID:        instance.StudioID,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		return nil, err
	}

	kind, ref := pledgeColumns(pledge)
	claim, err := s.repo.ClaimSeat(ctx, ClaimParams{
		IdempotencyKey:  idempotencyKey,
		RequestHash:     idempotency.HashRequest(memberID.String(), instanceID.String(), req.PaymentMethodID),
		MemberID:        memberID,
		ClassInstanceID: instanceID,
		EntitlementKind: kind,
		EntitlementRef:  ref,
		WaitlistEnabled: policy.WaitlistEnabled,
	})
	if err != nil {
		// The claim failed; the pledge must not stay authorized
		s.gate.Release(ctx, pledge)
		return nil, err
	}

	reservation := claim.Reservation

	if claim.Replayed {
		// The retry prepared a fresh pledge; drop it, the stored row
		// keeps the original one
		s.gate.Release(ctx, pledge)
		return reservation.ToResponse(), nil
	}

	s.invalidateReadCaches(ctx, instanceID, memberID)

	if claim.Waitlisted {
		msg := notifications.NewMessage(notifications.TypeReservationWaitlisted, memberID).
			WithReservation(reservation.ID).
			WithInstance(instanceID)
		if reservation.WaitlistPosition != nil {
			msg.WithData("waitlist_position", *reservation.WaitlistPosition)
		}
		s.publish(ctx, msg)
		return reservation.ToResponse(), nil
	}

	// Seat granted: consume the pledge, compensating the claim when the
	// consumption fails underneath us.
	if err := s.gate.TryConsume(ctx, pledge); err != nil {
		log.Printf("Warning: entitlement consumption failed for reservation %s: %v", reservation.ID, err)
		if compErr := s.repo.CompensateClaim(ctx, reservation.ID); compErr != nil {
			log.Printf("Warning: failed to compensate reservation %s: %v", reservation.ID, compErr)
		} else {
			s.triggerPromotion(ctx, instanceID)
		}
		return nil, err
	}

	s.publish(ctx, notifications.NewMessage(notifications.TypeReservationBooked, memberID).
		WithReservation(reservation.ID).
		WithInstance(instanceID))

	return reservation.ToResponse(), nil
}

func (s *service) Confirm(ctx context.Context, reservationID uuid.UUID, actor Actor) (*ReservationResponse, error) {
	res, err := s.repo.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if !actor.Staff && res.MemberID != actor.ID {
		return nil, ErrNotReservationOwner
	}

	instance, err := s.classService.GetInstance(ctx, res.ClassInstanceID)
	if err != nil {
		return nil, err
	}
	policy, err := s.studioService.GetPolicy(ctx, instance.StudioID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve studio policy: %w", err)
	}

	now := time.Now()
	if now.Before(policy.ConfirmOpensAt(instance.StartsAt)) || !now.Before(instance.StartsAt) {
		return nil, ErrConfirmationNotOpen
	}

	confirmed, err := s.repo.Confirm(ctx, reservationID, now)
	if err != nil {
		return nil, err
	}

	s.invalidateReadCaches(ctx, res.ClassInstanceID, res.MemberID)
	s.publish(ctx, notifications.NewMessage(notifications.TypeReservationConfirmed, res.MemberID).
		WithReservation(reservationID).
		WithInstance(res.ClassInstanceID))

	return confirmed.ToResponse(), nil
}

func (s *service) AcceptPromotion(ctx context.Context, reservationID uuid.UUID, actor Actor) (*ReservationResponse, error) {
	res, err := s.repo.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if !actor.Staff && res.MemberID != actor.ID {
		return nil, ErrNotReservationOwner
	}

	accepted, err := s.repo.AcceptPromotion(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	reservation := accepted.Reservation
	if !accepted.Converted {
		// An earlier accept already claimed the seat and consumed the
		// entitlement
		return reservation.ToResponse(), nil
	}

	pledge := pledgeFromRow(reservation, false)
	if err := s.gate.TryConsume(ctx, pledge); err != nil {
		log.Printf("Warning: entitlement consumption failed for accepted offer %s: %v", reservation.ID, err)
		if compErr := s.repo.CompensateClaim(ctx, reservation.ID); compErr != nil {
			log.Printf("Warning: failed to compensate reservation %s: %v", reservation.ID, compErr)
		} else {
			s.triggerPromotion(ctx, reservation.ClassInstanceID)
		}
		return nil, err
	}

	s.invalidateReadCaches(ctx, reservation.ClassInstanceID, reservation.MemberID)
	s.publish(ctx, notifications.NewMessage(notifications.TypeReservationBooked, reservation.MemberID).
		WithReservation(reservation.ID).
		WithInstance(reservation.ClassInstanceID).
		WithData("from_waitlist", true))

	return reservation.ToResponse(), nil
}

func (s *service) Cancel(ctx context.Context, reservationID uuid.UUID, actor Actor, idempotencyKey uuid.UUID) (*ReservationResponse, error) {
	res, err := s.repo.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if !actor.Staff && res.MemberID != actor.ID {
		return nil, ErrNotReservationOwner
	}

	instance, err := s.classService.GetInstance(ctx, res.ClassInstanceID)
	if err != nil {
		return nil, err
	}
	policy, err := s.studioService.GetPolicy(ctx, instance.StudioID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve studio policy: %w", err)
	}

	outcome, err := s.repo.Cancel(ctx, CancelParams{
		IdempotencyKey: idempotencyKey,
		RequestHash:    idempotency.HashRequest("cancel", reservationID.String(), actor.ID.String()),
		ReservationID:  reservationID,
		ActorID:        actor.ID,
		StaffActor:     actor.Staff,
		LateCancel:     policy.IsLateCancel(time.Now(), instance.StartsAt),
	})
	if err != nil {
		return nil, err
	}

	cancelled := outcome.Reservation
	if outcome.Replayed {
		return cancelled.ToResponse(), nil
	}

	s.settleEntitlement(ctx, outcome)
	s.queueLateFee(ctx, outcome, policy)

	if outcome.SeatFreed {
		s.triggerPromotion(ctx, cancelled.ClassInstanceID)
	}

	s.invalidateReadCaches(ctx, cancelled.ClassInstanceID, cancelled.MemberID)

	msg := notifications.NewMessage(notifications.TypeReservationCancelled, cancelled.MemberID).
		WithReservation(cancelled.ID).
		WithInstance(cancelled.ClassInstanceID)
	if cancelled.CancellationReason != nil {
		msg.WithData("reason", *cancelled.CancellationReason)
	}
	s.publish(ctx, msg)

	return cancelled.ToResponse(), nil
}

// settleEntitlement returns or voids whatever backed a cancelled row. Seat
// holders consumed their pledge, so a pre-cutoff cancel refunds it; late
// cancels forfeit it. Queue entries only held a pledge, which is voided.
func (s *service) settleEntitlement(ctx context.Context, outcome *CancelResult) {
	row := outcome.Reservation
	consumed := outcome.PreviousStatus.HoldsSeat()
	pledge := pledgeFromRow(row, consumed)
	if pledge == nil {
		return
	}

	if !consumed {
		s.gate.Release(ctx, pledge)
		return
	}
	if row.CancellationReason != nil && *row.CancellationReason == string(ReasonLateCancel) {
		// Inside the window the entitlement stays spent
		return
	}
	if err := s.gate.Refund(ctx, pledge); err != nil {
		log.Printf("Warning: failed to refund entitlement for reservation %s: %v", row.ID, err)
	}
}

// queueLateFee records the studio's late fee when the cancel was late.
func (s *service) queueLateFee(ctx context.Context, outcome *CancelResult, policy studios.Policy) {
	row := outcome.Reservation
	if row.CancellationReason == nil || *row.CancellationReason != string(ReasonLateCancel) {
		return
	}
	if policy.LateFeeCents <= 0 || s.feeQueue == nil {
		return
	}
	if err := s.feeQueue.QueueLateFee(ctx, row.ID, row.MemberID, policy.LateFeeCents); err != nil {
		log.Printf("Warning: failed to queue late fee for reservation %s: %v", row.ID, err)
	}
}

func (s *service) GetReservation(ctx context.Context, reservationID uuid.UUID, actor Actor) (*ReservationResponse, error) {
	res, err := s.repo.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if !actor.Staff && res.MemberID != actor.ID {
		return nil, ErrNotReservationOwner
	}
	return res.ToResponse(), nil
}

func (s *service) ListMemberReservations(ctx context.Context, memberID uuid.UUID, query MemberReservationsQuery) (*PaginatedMemberReservations, error) {
	if query.Page < 1 {
		query.Page = 1
	}
	if query.Limit < 1 {
		query.Limit = 20
	}

	cacheKey := fmt.Sprintf("%s:page:%d:limit:%d:status:%s:upcoming:%t",
		constants.BuildMemberReservationsKey(memberID.String()),
		query.Page, query.Limit, query.Status, query.Upcoming)

	if s.cacheService != nil {
		var cached PaginatedMemberReservations
		if err := s.cacheService.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	rows, totalCount, err := s.repo.ListByMember(ctx, memberID, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list member reservations: %w", err)
	}

	result := &PaginatedMemberReservations{
		Reservations: rows,
		Total:        totalCount,
		Page:         query.Page,
		Limit:        query.Limit,
		TotalPages:   int(math.Ceil(float64(totalCount) / float64(query.Limit))),
	}

	if s.cacheService != nil {
		if err := s.cacheService.Set(ctx, cacheKey, result, constants.TTL_MEMBER_RESERVATIONS); err != nil {
			log.Printf("Warning: failed to cache member reservations: %v", err)
		}
	}

	return result, nil
}

func (s *service) CancelAllForInstance(ctx context.Context, instanceID uuid.UUID) (int, int, error) {
	cascade, err := s.repo.CancelAllForInstance(ctx, instanceID)
	if err != nil {
		return 0, 0, err
	}

	// Seat holders consumed their entitlement; a class-level cancel always
	// returns it. Queue entries only held a pledge.
	msgs := make([]*notifications.Message, 0, len(cascade.Seated)+len(cascade.Waitlist))
	for i := range cascade.Seated {
		row := &cascade.Seated[i]
		if pledge := pledgeFromRow(row, true); pledge != nil {
			if err := s.gate.Refund(ctx, pledge); err != nil {
				log.Printf("Warning: failed to refund entitlement for reservation %s: %v", row.ID, err)
			}
		}
		msgs = append(msgs, notifications.NewMessage(notifications.TypeClassCancelled, row.MemberID).
			WithReservation(row.ID).
			WithInstance(instanceID))
	}
	for i := range cascade.Waitlist {
		row := &cascade.Waitlist[i]
		if pledge := pledgeFromRow(row, false); pledge != nil {
			s.gate.Release(ctx, pledge)
		}
		msgs = append(msgs, notifications.NewMessage(notifications.TypeClassCancelled, row.MemberID).
			WithReservation(row.ID).
			WithInstance(instanceID))
	}
	s.publishBatch(ctx, msgs)

	if s.cacheService != nil {
		if err := s.cacheService.Delete(ctx, constants.BuildRosterKey(instanceID.String())); err != nil {
			log.Printf("Warning: failed to invalidate roster cache: %v", err)
		}
		if err := s.cacheService.DeletePattern(ctx, constants.CACHE_KEY_MEMBER_RESERVATIONS+"*"); err != nil {
			log.Printf("Warning: failed to invalidate member reservation caches: %v", err)
		}
	}

	return len(cascade.Seated), len(cascade.Waitlist), nil
}

func (s *service) PromoteEligible(ctx context.Context, instanceID uuid.UUID) (int, error) {
	if s.promotionEngine == nil {
		return 0, fmt.Errorf("promotion engine not configured")
	}
	return s.promotionEngine.PromoteNext(ctx, instanceID)
}

func (s *service) SeatCounts(ctx context.Context, instanceID uuid.UUID) (int, int, error) {
	counts, err := s.repo.AdmissionCounts(ctx, instanceID)
	if err != nil {
		return 0, 0, err
	}
	return int(counts.AdmissionTotal()), int(counts.Waitlisted), nil
}

func (s *service) ReconcileCompletedInstance(ctx context.Context, instanceID uuid.UUID) (int, int, error) {
	result, err := s.repo.ReconcileCompletedInstance(ctx, instanceID)
	if err != nil {
		return 0, 0, err
	}

	msgs := make([]*notifications.Message, 0, len(result.NoShows))
	for i := range result.NoShows {
		row := &result.NoShows[i]
		msgs = append(msgs, notifications.NewMessage(notifications.TypeReservationNoShow, row.MemberID).
			WithReservation(row.ID).
			WithInstance(instanceID))
	}
	s.publishBatch(ctx, msgs)

	// Queue entries never consumed anything; void what they pledged
	for i := range result.Expired {
		row := &result.Expired[i]
		if pledge := pledgeFromRow(row, false); pledge != nil {
			s.gate.Release(ctx, pledge)
		}
	}

	return len(result.NoShows), len(result.Expired), nil
}
