package reservations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"classbook/internal/classes"
	"classbook/internal/shared/idempotency"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AdmissionCounts breaks down the live rows of one class instance.
type AdmissionCounts struct {
	Seated     int64 // booked + confirmed + checked_in
	Promoted   int64 // live promotion offers holding a seat
	Waitlisted int64
}

// AdmissionTotal is the seat usage a reserve decision compares against
// max_capacity. Promotion offers hold their seat for the offer window.
func (c AdmissionCounts) AdmissionTotal() int64 {
	return c.Seated + c.Promoted
}

// ClaimParams carries one reserve attempt into the claim transaction.
type ClaimParams struct {
	IdempotencyKey  uuid.UUID
	RequestHash     string
	MemberID        uuid.UUID
	ClassInstanceID uuid.UUID
	EntitlementKind *string
	EntitlementRef  *string
	WaitlistEnabled bool
}

type ClaimResult struct {
	Reservation *Reservation
	Waitlisted  bool
	Replayed    bool
}

// CancelParams carries one cancel attempt. LateCancel is the service's
// policy verdict; the repository picks the final reason from it and the
// row's state inside the transaction.
type CancelParams struct {
	IdempotencyKey uuid.UUID
	RequestHash    string
	ReservationID  uuid.UUID
	ActorID        uuid.UUID
	StaffActor     bool
	LateCancel     bool
}

type CancelResult struct {
	Reservation    *Reservation
	PreviousStatus Status
	SeatFreed      bool
	Replayed       bool
}

// CascadeResult snapshots the rows a class-level cancellation swept up,
// with their statuses as they were before the bulk update.
type CascadeResult struct {
	Seated   []Reservation
	Waitlist []Reservation
}

// CompletionResult snapshots the rows reconciled after a class completed.
type CompletionResult struct {
	NoShows []Reservation
	Expired []Reservation
}

// DuePromotion is a lapsed promotion offer joined with its studio so the
// sweep can apply that studio's requeue policy.
type DuePromotion struct {
	Reservation
	StudioID uuid.UUID `gorm:"column:studio_id"`
}

// AcceptResult reports an accept call. Converted is false when the offer
// was already booked by an earlier accept, so the caller must not consume
// the entitlement a second time.
type AcceptResult struct {
	Reservation *Reservation
	Converted   bool
}

type Repository interface {
	// ClaimSeat books a seat if one is free, otherwise appends to the
	// waitlist. One transaction covers the capacity check, the insert and
	// the idempotency record.
	ClaimSeat(ctx context.Context, params ClaimParams) (*ClaimResult, error)

	// Confirm moves a booked reservation to confirmed.
	Confirm(ctx context.Context, id uuid.UUID, at time.Time) (*Reservation, error)

	// Cancel transitions one reservation to cancelled and compacts the
	// waitlist when the row was queued.
	Cancel(ctx context.Context, params CancelParams) (*CancelResult, error)

	// CompensateClaim undoes a booked claim whose entitlement consumption
	// failed after commit. The row is cancelled with no reason recorded.
	CompensateClaim(ctx context.Context, id uuid.UUID) error

	// AcceptPromotion converts a live promotion offer into a booked seat,
	// re-checking capacity against the seat holders.
	AcceptPromotion(ctx context.Context, id uuid.UUID) (*AcceptResult, error)

	// PromoteEligible offers freed seats to the waitlist head and returns
	// the rows it promoted, deadlines set.
	PromoteEligible(ctx context.Context, instanceID uuid.UUID, deadline time.Duration) ([]Reservation, error)

	// FindDuePromotions lists offers whose acceptance deadline has passed.
	FindDuePromotions(ctx context.Context, now time.Time, limit int) ([]DuePromotion, error)

	// ExpirePromotion lapses one due offer. With requeue the member
	// rejoins the waitlist at the tail, otherwise the row stays expired.
	// Returns nil when the row moved on before the sweep reached it.
	ExpirePromotion(ctx context.Context, id uuid.UUID, requeue bool) (*Reservation, error)

	// CancelAllForInstance cancels the instance and every live
	// reservation under it in one transaction. Waitlist entries are
	// voided, never promoted.
	CancelAllForInstance(ctx context.Context, instanceID uuid.UUID) (*CascadeResult, error)

	// ReconcileCompletedInstance marks remaining seat holders no_show and
	// expires leftover queue entries once the instance is completed.
	ReconcileCompletedInstance(ctx context.Context, instanceID uuid.UUID) (*CompletionResult, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Reservation, error)
	ListByMember(ctx context.Context, memberID uuid.UUID, query MemberReservationsQuery) ([]MemberReservationRow, int64, error)
	AdmissionCounts(ctx context.Context, instanceID uuid.UUID) (*AdmissionCounts, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// lockedInstance is the slice of the class instance row the engine locks.
type lockedInstance struct {
	ID          uuid.UUID `gorm:"column:id"`
	StudioID    uuid.UUID `gorm:"column:studio_id"`
	Status      string    `gorm:"column:status"`
	StartsAt    time.Time `gorm:"column:starts_at"`
	MaxCapacity int       `gorm:"column:max_capacity"`
}

// lockInstanceRow takes the per-instance row lock. Every transaction that
// touches capacity or waitlist structure acquires this lock first, so they
// serialize in a single order.
func lockInstanceRow(tx *gorm.DB, instanceID uuid.UUID) (*lockedInstance, error) {
	var instance lockedInstance
	err := tx.Table("class_instances").
		Select("id, studio_id, status, starts_at, max_capacity").
		Where("id = ?", instanceID).
		Set("gorm:query_option", "FOR UPDATE").
		First(&instance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, classes.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to lock class instance: %w", err)
	}
	return &instance, nil
}

// admissionCountsTx tallies live rows by status inside the caller's
// transaction.
func admissionCountsTx(tx *gorm.DB, instanceID uuid.UUID) (*AdmissionCounts, error) {
	var rows []struct {
		Status Status `gorm:"column:status"`
		Count  int64  `gorm:"column:count"`
	}
	err := tx.Model(&Reservation{}).
		Select("status, COUNT(*) AS count").
		Where("class_instance_id = ? AND status IN ?", instanceID, liveStatuses).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count reservations: %w", err)
	}

	counts := &AdmissionCounts{}
	for _, row := range rows {
		switch {
		case row.Status.HoldsSeat():
			counts.Seated += row.Count
		case row.Status == StatusPromoted:
			counts.Promoted += row.Count
		case row.Status == StatusWaitlisted:
			counts.Waitlisted += row.Count
		}
	}
	return counts, nil
}

// nextWaitlistPosition returns the tail position of the instance's queue.
func nextWaitlistPosition(tx *gorm.DB, instanceID uuid.UUID) (int, error) {
	var next int
	err := tx.Model(&Reservation{}).
		Select("COALESCE(MAX(waitlist_position), -1) + 1").
		Where("class_instance_id = ? AND status = ?", instanceID, StatusWaitlisted).
		Scan(&next).Error
	if err != nil {
		return 0, fmt.Errorf("failed to compute waitlist position: %w", err)
	}
	return next, nil
}

// compactWaitlistTx renumbers the queue to 0..n-1 in arrival order. Rows
// are updated one by one ascending so the uniqueness index on positions
// never sees a transient duplicate.
func compactWaitlistTx(tx *gorm.DB, instanceID uuid.UUID) error {
	var rows []Reservation
	err := tx.
		Where("class_instance_id = ? AND status = ?", instanceID, StatusWaitlisted).
		Order("waitlist_position ASC").
		Find(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to read waitlist for compaction: %w", err)
	}

	for i := range rows {
		if rows[i].WaitlistPosition != nil && *rows[i].WaitlistPosition == i {
			continue
		}
		err := tx.Model(&Reservation{}).
			Where("id = ?", rows[i].ID).
			Updates(map[string]interface{}{
				"waitlist_position": i,
				"updated_at":        time.Now(),
			}).Error
		if err != nil {
			return fmt.Errorf("failed to compact waitlist position: %w", err)
		}
	}
	return nil
}

func (r *repository) ClaimSeat(ctx context.Context, params ClaimParams) (*ClaimResult, error) {
	var result *ClaimResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. Lock the class instance row so concurrent claims serialize
		instance, err := lockInstanceRow(tx, params.ClassInstanceID)
		if err != nil {
			return err
		}

		// 2. Replay check under the lock
		stored, err := idempotency.Check(tx, params.IdempotencyKey, idempotency.OpReserve, params.MemberID, params.RequestHash)
		if err != nil {
			return err
		}
		if stored != nil {
			if stored.ReservationID == nil {
				return fmt.Errorf("idempotency key %s carries no reservation", params.IdempotencyKey)
			}
			var existing Reservation
			if err := tx.First(&existing, "id = ?", *stored.ReservationID).Error; err != nil {
				return fmt.Errorf("failed to load replayed reservation: %w", err)
			}
			result = &ClaimResult{
				Reservation: &existing,
				Waitlisted:  existing.Status == StatusWaitlisted,
				Replayed:    true,
			}
			return nil
		}

		// 3. The instance must be open for booking
		if instance.Status != string(classes.InstanceStatusScheduled) || !instance.StartsAt.After(time.Now()) {
			return ErrInstanceNotBookable
		}

		// 4. One live reservation per member per instance
		var existing int64
		err = tx.Model(&Reservation{}).
			Where("class_instance_id = ? AND member_id = ? AND status IN ?",
				params.ClassInstanceID, params.MemberID, liveStatuses).
			Count(&existing).Error
		if err != nil {
			return fmt.Errorf("failed to check for existing reservation: %w", err)
		}
		if existing > 0 {
			return ErrDuplicateReservation
		}

		// 5. Count seat usage, live promotion offers included
		counts, err := admissionCountsTx(tx, params.ClassInstanceID)
		if err != nil {
			return err
		}

		reservation := &Reservation{
			ClassInstanceID: params.ClassInstanceID,
			MemberID:        params.MemberID,
			EntitlementKind: params.EntitlementKind,
			EntitlementRef:  params.EntitlementRef,
		}

		if counts.AdmissionTotal() < int64(instance.MaxCapacity) {
			// 6. Seat available: book it
			reservation.Status = StatusBooked
			if err := tx.Create(reservation).Error; err != nil {
				return fmt.Errorf("failed to create reservation: %w", err)
			}
			result = &ClaimResult{Reservation: reservation}
		} else {
			// 7. Full: fall through to the waitlist
			if !params.WaitlistEnabled {
				return ErrClassFull
			}
			next, err := nextWaitlistPosition(tx, params.ClassInstanceID)
			if err != nil {
				return err
			}
			reservation.Status = StatusWaitlisted
			reservation.WaitlistPosition = &next
			if err := tx.Create(reservation).Error; err != nil {
				return fmt.Errorf("failed to create waitlist reservation: %w", err)
			}
			result = &ClaimResult{Reservation: reservation, Waitlisted: true}
		}

		// 8. Pin the outcome to the idempotency key
		return idempotency.Save(tx, params.IdempotencyKey, idempotency.OpReserve,
			params.MemberID, params.RequestHash, &reservation.ID)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *repository) Confirm(ctx context.Context, id uuid.UUID, at time.Time) (*Reservation, error) {
	result := r.db.WithContext(ctx).Model(&Reservation{}).
		Where("id = ? AND status = ?", id, StatusBooked).
		Updates(map[string]interface{}{
			"status":       StatusConfirmed,
			"confirmed_at": at,
			"updated_at":   at,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to confirm reservation: %w", result.Error)
	}

	var res Reservation
	if err := r.db.WithContext(ctx).First(&res, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, fmt.Errorf("failed to load reservation: %w", err)
	}

	if result.RowsAffected == 0 && res.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: reservation is %s", ErrConflict, res.Status)
	}
	return &res, nil
}

func (r *repository) Cancel(ctx context.Context, params CancelParams) (*CancelResult, error) {
	var result *CancelResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. Find the reservation to learn its instance
		var probe Reservation
		if err := tx.First(&probe, "id = ?", params.ReservationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReservationNotFound
			}
			return fmt.Errorf("failed to load reservation: %w", err)
		}

		// 2. Lock the instance; cancels serialize with claims and promotions
		if _, err := lockInstanceRow(tx, probe.ClassInstanceID); err != nil {
			return err
		}

		// 3. Replay check under the lock
		stored, err := idempotency.Check(tx, params.IdempotencyKey, idempotency.OpCancel, params.ActorID, params.RequestHash)
		if err != nil {
			return err
		}
		if stored != nil && stored.ReservationID != nil {
			var existing Reservation
			if err := tx.First(&existing, "id = ?", *stored.ReservationID).Error; err != nil {
				return fmt.Errorf("failed to load replayed reservation: %w", err)
			}
			result = &CancelResult{
				Reservation:    &existing,
				PreviousStatus: existing.Status,
				Replayed:       true,
			}
			return nil
		}

		// 4. Re-read the row now that the instance is locked
		var res Reservation
		err = tx.Set("gorm:query_option", "FOR UPDATE").
			First(&res, "id = ?", params.ReservationID).Error
		if err != nil {
			return fmt.Errorf("failed to lock reservation: %w", err)
		}

		prev := res.Status
		if err := res.transition(StatusCancelled); err != nil {
			return fmt.Errorf("%w: reservation is %s", ErrConflict, prev)
		}

		// 5. Pick the reason from the actor and the cutoff verdict
		reason := ReasonMemberInitiated
		switch {
		case params.StaffActor:
			reason = ReasonStaffCancel
		case prev.HoldsSeat() && params.LateCancel:
			reason = ReasonLateCancel
		}

		now := time.Now()
		reasonStr := string(reason)
		res.CancellationReason = &reasonStr
		res.CancelledAt = &now
		res.WaitlistPosition = nil
		res.PromotionExpiresAt = nil
		if err := tx.Save(&res).Error; err != nil {
			return fmt.Errorf("failed to cancel reservation: %w", err)
		}

		// 6. Close the gap the row leaves in the queue
		if prev == StatusWaitlisted {
			if err := compactWaitlistTx(tx, res.ClassInstanceID); err != nil {
				return err
			}
		}

		// 7. Pin the outcome to the idempotency key
		err = idempotency.Save(tx, params.IdempotencyKey, idempotency.OpCancel,
			params.ActorID, params.RequestHash, &res.ID)
		if err != nil {
			return err
		}

		result = &CancelResult{
			Reservation:    &res,
			PreviousStatus: prev,
			SeatFreed:      prev.HoldsSeat() || prev == StatusPromoted,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *repository) CompensateClaim(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var probe Reservation
		if err := tx.First(&probe, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReservationNotFound
			}
			return fmt.Errorf("failed to load reservation: %w", err)
		}

		if _, err := lockInstanceRow(tx, probe.ClassInstanceID); err != nil {
			return err
		}

		// The row stays untouched if it already moved past booked; the
		// reason is left empty because no actor cancelled it.
		now := time.Now()
		err := tx.Model(&Reservation{}).
			Where("id = ? AND status = ?", id, StatusBooked).
			Updates(map[string]interface{}{
				"status":       StatusCancelled,
				"cancelled_at": now,
				"updated_at":   now,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to compensate claim: %w", err)
		}
		return nil
	})
}

func (r *repository) AcceptPromotion(ctx context.Context, id uuid.UUID) (*AcceptResult, error) {
	var accepted *AcceptResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. Find the reservation to learn its instance
		var probe Reservation
		if err := tx.First(&probe, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReservationNotFound
			}
			return fmt.Errorf("failed to load reservation: %w", err)
		}

		// 2. Lock the instance row
		instance, err := lockInstanceRow(tx, probe.ClassInstanceID)
		if err != nil {
			return err
		}

		// 3. Re-read the row under the lock
		var res Reservation
		err = tx.Set("gorm:query_option", "FOR UPDATE").
			First(&res, "id = ?", id).Error
		if err != nil {
			return fmt.Errorf("failed to lock reservation: %w", err)
		}

		// A second accept of an already converted offer is benign
		if res.Status == StatusBooked {
			accepted = &AcceptResult{Reservation: &res}
			return nil
		}
		if res.Status == StatusExpired {
			return ErrPromotionExpired
		}
		if res.Status != StatusPromoted {
			return fmt.Errorf("%w: reservation is %s", ErrConflict, res.Status)
		}
		if res.PromotionExpiresAt != nil && time.Now().After(*res.PromotionExpiresAt) {
			return ErrPromotionExpired
		}

		// 4. The instance must still be open
		if instance.Status != string(classes.InstanceStatusScheduled) {
			return ErrInstanceNotBookable
		}

		// 5. Re-check capacity against the seat holders. Walk-ins and
		// capacity cuts can take a held seat; a lost race leaves the
		// offer live so the member may retry.
		counts, err := admissionCountsTx(tx, res.ClassInstanceID)
		if err != nil {
			return err
		}
		if counts.Seated >= int64(instance.MaxCapacity) {
			return fmt.Errorf("%w: no seat available for this offer", ErrConflict)
		}

		// 6. Claim the seat
		if err := res.transition(StatusBooked); err != nil {
			return fmt.Errorf("%w: reservation is %s", ErrConflict, res.Status)
		}
		res.PromotionExpiresAt = nil
		if err := tx.Save(&res).Error; err != nil {
			return fmt.Errorf("failed to accept promotion: %w", err)
		}
		accepted = &AcceptResult{Reservation: &res, Converted: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accepted, nil
}

func (r *repository) PromoteEligible(ctx context.Context, instanceID uuid.UUID, deadline time.Duration) ([]Reservation, error) {
	var promoted []Reservation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. Lock the instance row
		instance, err := lockInstanceRow(tx, instanceID)
		if err != nil {
			return err
		}

		// Cancelled and completed classes never promote
		if instance.Status != string(classes.InstanceStatusScheduled) {
			return nil
		}

		// 2. Seats free after counting the live offers already out
		counts, err := admissionCountsTx(tx, instanceID)
		if err != nil {
			return err
		}
		free := int64(instance.MaxCapacity) - counts.AdmissionTotal()
		if free <= 0 {
			return nil
		}

		// 3. Take the queue head, lowest positions first
		var heads []Reservation
		err = tx.
			Where("class_instance_id = ? AND status = ?", instanceID, StatusWaitlisted).
			Order("waitlist_position ASC").
			Limit(int(free)).
			Find(&heads).Error
		if err != nil {
			return fmt.Errorf("failed to read waitlist head: %w", err)
		}
		if len(heads) == 0 {
			return nil
		}

		expiresAt := time.Now().Add(deadline)
		for i := range heads {
			if err := heads[i].transition(StatusPromoted); err != nil {
				return fmt.Errorf("%w: reservation is %s", ErrConflict, heads[i].Status)
			}
			heads[i].WaitlistPosition = nil
			heads[i].PromotionExpiresAt = &expiresAt

			err := tx.Model(&Reservation{}).
				Where("id = ?", heads[i].ID).
				Updates(map[string]interface{}{
					"status":               StatusPromoted,
					"waitlist_position":    nil,
					"promotion_expires_at": expiresAt,
					"updated_at":           time.Now(),
				}).Error
			if err != nil {
				return fmt.Errorf("failed to promote waitlist entry: %w", err)
			}
		}

		// 4. Compact the remaining queue
		if err := compactWaitlistTx(tx, instanceID); err != nil {
			return err
		}

		promoted = heads
		return nil
	})
	if err != nil {
		return nil, err
	}
	return promoted, nil
}

func (r *repository) FindDuePromotions(ctx context.Context, now time.Time, limit int) ([]DuePromotion, error) {
	var due []DuePromotion
	err := r.db.WithContext(ctx).
		Table("reservations").
		Select("reservations.*, class_instances.studio_id AS studio_id").
		Joins("JOIN class_instances ON class_instances.id = reservations.class_instance_id").
		Where("reservations.status = ? AND reservations.promotion_expires_at <= ?", StatusPromoted, now).
		Order("reservations.promotion_expires_at ASC").
		Limit(limit).
		Scan(&due).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find due promotions: %w", err)
	}
	return due, nil
}

func (r *repository) ExpirePromotion(ctx context.Context, id uuid.UUID, requeue bool) (*Reservation, error) {
	var expired *Reservation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var probe Reservation
		if err := tx.First(&probe, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReservationNotFound
			}
			return fmt.Errorf("failed to load reservation: %w", err)
		}

		if _, err := lockInstanceRow(tx, probe.ClassInstanceID); err != nil {
			return err
		}

		var res Reservation
		err := tx.Set("gorm:query_option", "FOR UPDATE").
			First(&res, "id = ?", id).Error
		if err != nil {
			return fmt.Errorf("failed to lock reservation: %w", err)
		}

		// The member accepted or cancelled while the sweep was queued
		if res.Status != StatusPromoted {
			return nil
		}
		if res.PromotionExpiresAt != nil && time.Now().Before(*res.PromotionExpiresAt) {
			return nil
		}

		if err := res.transition(StatusExpired); err != nil {
			return fmt.Errorf("%w: reservation is %s", ErrConflict, res.Status)
		}
		res.PromotionExpiresAt = nil

		if requeue {
			// Studio policy sends lapsed offers back to the tail, not to
			// their old position
			if err := res.transition(StatusWaitlisted); err != nil {
				return fmt.Errorf("%w: reservation is %s", ErrConflict, res.Status)
			}
			next, err := nextWaitlistPosition(tx, res.ClassInstanceID)
			if err != nil {
				return err
			}
			res.WaitlistPosition = &next
		}

		if err := tx.Save(&res).Error; err != nil {
			return fmt.Errorf("failed to expire promotion: %w", err)
		}
		expired = &res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

func (r *repository) CancelAllForInstance(ctx context.Context, instanceID uuid.UUID) (*CascadeResult, error) {
	result := &CascadeResult{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. Lock the instance row
		if _, err := lockInstanceRow(tx, instanceID); err != nil {
			return err
		}

		// 2. Flip the instance itself, guarded against a raced cancel
		flip := tx.Model(&classes.ClassInstance{}).
			Where("id = ? AND status = ?", instanceID, classes.InstanceStatusScheduled).
			Updates(map[string]interface{}{
				"status":     classes.InstanceStatusCancelled,
				"updated_at": time.Now(),
			})
		if flip.Error != nil {
			return fmt.Errorf("failed to cancel class instance: %w", flip.Error)
		}
		if flip.RowsAffected == 0 {
			return classes.ErrInstanceNotCancelable
		}

		// 3. Snapshot the live rows before the bulk update
		var affected []Reservation
		cancellable := []Status{StatusBooked, StatusConfirmed, StatusWaitlisted, StatusPromoted}
		err := tx.
			Where("class_instance_id = ? AND status IN ?", instanceID, cancellable).
			Find(&affected).Error
		if err != nil {
			return fmt.Errorf("failed to load reservations for cascade: %w", err)
		}

		// 4. Bulk cancel; the queue is voided, never promoted
		now := time.Now()
		err = tx.Model(&Reservation{}).
			Where("class_instance_id = ? AND status IN ?", instanceID, cancellable).
			Updates(map[string]interface{}{
				"status":               StatusCancelled,
				"cancellation_reason":  string(ReasonClassCancelled),
				"cancelled_at":         now,
				"waitlist_position":    nil,
				"promotion_expires_at": nil,
				"updated_at":           now,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to cancel reservations: %w", err)
		}

		for _, row := range affected {
			if row.Status.HoldsSeat() {
				result.Seated = append(result.Seated, row)
			} else {
				result.Waitlist = append(result.Waitlist, row)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *repository) ReconcileCompletedInstance(ctx context.Context, instanceID uuid.UUID) (*CompletionResult, error) {
	result := &CompletionResult{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		instance, err := lockInstanceRow(tx, instanceID)
		if err != nil {
			return err
		}
		if instance.Status != string(classes.InstanceStatusCompleted) {
			return fmt.Errorf("class instance %s is not completed", instanceID)
		}

		now := time.Now()

		// Seat holders who never checked in are no-shows
		var noShows []Reservation
		err = tx.
			Where("class_instance_id = ? AND status IN ?", instanceID, []Status{StatusBooked, StatusConfirmed}).
			Find(&noShows).Error
		if err != nil {
			return fmt.Errorf("failed to load no-show candidates: %w", err)
		}
		if len(noShows) > 0 {
			err = tx.Model(&Reservation{}).
				Where("class_instance_id = ? AND status IN ?", instanceID, []Status{StatusBooked, StatusConfirmed}).
				Updates(map[string]interface{}{
					"status":     StatusNoShow,
					"updated_at": now,
				}).Error
			if err != nil {
				return fmt.Errorf("failed to mark no-shows: %w", err)
			}
		}

		// Queue entries that never got a seat expire
		var leftovers []Reservation
		err = tx.
			Where("class_instance_id = ? AND status IN ?", instanceID, []Status{StatusWaitlisted, StatusPromoted}).
			Find(&leftovers).Error
		if err != nil {
			return fmt.Errorf("failed to load leftover queue entries: %w", err)
		}
		if len(leftovers) > 0 {
			err = tx.Model(&Reservation{}).
				Where("class_instance_id = ? AND status IN ?", instanceID, []Status{StatusWaitlisted, StatusPromoted}).
				Updates(map[string]interface{}{
					"status":               StatusExpired,
					"waitlist_position":    nil,
					"promotion_expires_at": nil,
					"updated_at":           now,
				}).Error
			if err != nil {
				return fmt.Errorf("failed to expire leftover queue entries: %w", err)
			}
		}

		result.NoShows = noShows
		result.Expired = leftovers
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	var res Reservation
	err := r.db.WithContext(ctx).First(&res, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReservationNotFound
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return &res, nil
}

func (r *repository) ListByMember(ctx context.Context, memberID uuid.UUID, query MemberReservationsQuery) ([]MemberReservationRow, int64, error) {
	baseQuery := r.db.WithContext(ctx).
		Table("reservations").
		Joins("JOIN class_instances ON class_instances.id = reservations.class_instance_id").
		Where("reservations.member_id = ?", memberID)

	if query.Status != "" {
		baseQuery = baseQuery.Where("reservations.status = ?", query.Status)
	}
	if query.Upcoming {
		baseQuery = baseQuery.Where("class_instances.starts_at > ?", time.Now())
	}

	var totalCount int64
	if err := baseQuery.Count(&totalCount).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count reservations: %w", err)
	}

	var rows []MemberReservationRow
	offset := (query.Page - 1) * query.Limit
	err := baseQuery.
		Select("reservations.*, class_instances.title AS class_title, class_instances.starts_at AS class_starts_at, class_instances.ends_at AS class_ends_at").
		Order("reservations.created_at DESC").
		Offset(offset).
		Limit(query.Limit).
		Scan(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reservations: %w", err)
	}

	return rows, totalCount, nil
}

func (r *repository) AdmissionCounts(ctx context.Context, instanceID uuid.UUID) (*AdmissionCounts, error) {
	return admissionCountsTx(r.db.WithContext(ctx), instanceID)
}
