package waitlist

import (
	"context"
	"fmt"
	"log"
	"time"

	"classbook/internal/classes"
	"classbook/internal/entitlements"
	"classbook/internal/notifications"
	"classbook/internal/reservations"
	"classbook/internal/studios"

	"github.com/google/uuid"
)

// Engine owns waitlist promotion. It fills freed seats from the queue head
// and expires promotion offers whose acceptance deadline passed, cascading
// the freed hold to the next member in line.
type Engine interface {
	// Service dependency injection
	SetPublisher(publisher notifications.Publisher)

	// PromoteNext offers as many freed seats as the queue can fill. Each
	// promoted member gets an offer message with their acceptance deadline.
	PromoteNext(ctx context.Context, instanceID uuid.UUID) (int, error)

	// SweepDuePromotions expires offers whose deadline passed and promotes
	// the next member in line for every hold that frees.
	SweepDuePromotions(ctx context.Context, limit int) (int, error)
}

type engine struct {
	reservationRepo reservations.Repository
	classService    classes.Service
	studioService   studios.Service
	gate            entitlements.Gate
	publisher       notifications.Publisher
}

func NewEngine(reservationRepo reservations.Repository, classService classes.Service, studioService studios.Service, gate entitlements.Gate) Engine {
	return &engine{
		reservationRepo: reservationRepo,
		classService:    classService,
		studioService:   studioService,
		gate:            gate,
	}
}

// SetPublisher injects the notification publisher after construction
func (e *engine) SetPublisher(publisher notifications.Publisher) {
	e.publisher = publisher
}

func (e *engine) PromoteNext(ctx context.Context, instanceID uuid.UUID) (int, error) {
	instance, err := e.classService.GetInstance(ctx, instanceID)
	if err != nil {
		return 0, err
	}
	policy, err := e.studioService.GetPolicy(ctx, instance.StudioID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve studio policy: %w", err)
	}

	promoted, err := e.reservationRepo.PromoteEligible(ctx, instanceID, policy.PromotionDeadline)
	if err != nil {
		return 0, err
	}
	if len(promoted) == 0 {
		return 0, nil
	}

	msgs := make([]*notifications.Message, 0, len(promoted))
	for i := range promoted {
		row := &promoted[i]
		msg := notifications.NewMessage(notifications.TypePromotionOffer, row.MemberID).
			WithReservation(row.ID).
			WithInstance(instanceID)
		if row.PromotionExpiresAt != nil {
			msg.WithDeadline(*row.PromotionExpiresAt)
		}
		msgs = append(msgs, msg)
	}
	e.publishBatch(ctx, msgs)

	return len(promoted), nil
}

func (e *engine) SweepDuePromotions(ctx context.Context, limit int) (int, error) {
	due, err := e.reservationRepo.FindDuePromotions(ctx, time.Now(), limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	touched := make(map[uuid.UUID]bool)

	for i := range due {
		entry := &due[i]

		policy, err := e.studioService.GetPolicy(ctx, entry.StudioID)
		if err != nil {
			log.Printf("Warning: failed to resolve policy for studio %s: %v", entry.StudioID, err)
			continue
		}

		row, err := e.reservationRepo.ExpirePromotion(ctx, entry.ID, policy.RequeueExpiredPromotions)
		if err != nil {
			log.Printf("Warning: failed to expire promotion %s: %v", entry.ID, err)
			continue
		}
		if row == nil {
			// The offer was accepted or cancelled between the scan and
			// the lock
			continue
		}

		expired++
		touched[row.ClassInstanceID] = true

		requeued := row.Status == reservations.StatusWaitlisted
		if !requeued {
			// A terminal expiry abandons the pledge the offer was holding
			e.releasePledge(ctx, row)
		}

		e.publish(ctx, notifications.NewMessage(notifications.TypePromotionExpired, row.MemberID).
			WithReservation(row.ID).
			WithInstance(row.ClassInstanceID).
			WithData("requeued", requeued))
	}

	// Every expired hold frees admission; cascade to the next in line
	for instanceID := range touched {
		if _, err := e.PromoteNext(ctx, instanceID); err != nil {
			log.Printf("Warning: cascade promotion failed for instance %s: %v", instanceID, err)
		}
	}

	return expired, nil
}

func (e *engine) releasePledge(ctx context.Context, row *reservations.Reservation) {
	if row.EntitlementKind == nil {
		return
	}
	pledge := &entitlements.Pledge{
		Kind:     entitlements.Kind(*row.EntitlementKind),
		MemberID: row.MemberID,
	}
	if row.EntitlementRef != nil {
		pledge.Ref = *row.EntitlementRef
	}
	e.gate.Release(ctx, pledge)
}

func (e *engine) publish(ctx context.Context, msg *notifications.Message) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, msg); err != nil {
		log.Printf("Warning: failed to publish %s notification: %v", msg.Type, err)
	}
}

func (e *engine) publishBatch(ctx context.Context, msgs []*notifications.Message) {
	if e.publisher == nil || len(msgs) == 0 {
		return
	}
	if err := e.publisher.PublishBatch(ctx, msgs); err != nil {
		log.Printf("Warning: failed to publish %d notifications: %v", len(msgs), err)
	}
}
