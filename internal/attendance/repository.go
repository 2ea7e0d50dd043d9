package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"classbook/internal/classes"
	"classbook/internal/reservations"
	"classbook/internal/shared/idempotency"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrCheckInNotOpen  = errors.New("class has not started yet")
	ErrClassAtCapacity = errors.New("class instance is at capacity")
	ErrNotCheckinable  = errors.New("reservation cannot be checked in")
)

// CheckInParams carries one check-in attempt. A Nil key skips the
// idempotency record, which the batch path relies on; check-in is still
// idempotent per reservation because a repeat returns the stored record.
type CheckInParams struct {
	IdempotencyKey uuid.UUID
	RequestHash    string
	ReservationID  uuid.UUID
	ActorID        uuid.UUID
	CheckedInBy    string
}

type CheckInResult struct {
	Record      *AttendanceRecord
	Reservation *reservations.Reservation
	Replayed    bool
}

// WalkInParams creates and immediately checks in a reservation at the door.
type WalkInParams struct {
	ClassInstanceID uuid.UUID
	MemberID        uuid.UUID
	StaffID         uuid.UUID
	EntitlementKind *string
	EntitlementRef  *string
}

type WalkInResult struct {
	Record      *AttendanceRecord
	Reservation *reservations.Reservation
}

type Repository interface {
	// CheckIn transitions a booked or confirmed reservation to checked_in
	// and writes the attendance record in one transaction.
	CheckIn(ctx context.Context, params CheckInParams) (*CheckInResult, error)

	// WalkIn creates a checked_in reservation for a member with no prior
	// booking, re-checking the seat count against max_capacity under the
	// instance lock. Walk-ins never fall through to the waitlist.
	WalkIn(ctx context.Context, params WalkInParams) (*WalkInResult, error)

	// Roster reads every live reservation of the instance with attendance
	// joined in.
	Roster(ctx context.Context, instanceID uuid.UUID) ([]RosterEntry, error)

	GetByReservation(ctx context.Context, reservationID uuid.UUID) (*AttendanceRecord, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// lockedInstance is the slice of the class instance row check-ins lock.
type lockedInstance struct {
	ID          uuid.UUID `gorm:"column:id"`
	StudioID    uuid.UUID `gorm:"column:studio_id"`
	Status      string    `gorm:"column:status"`
	StartsAt    time.Time `gorm:"column:starts_at"`
	EndsAt      time.Time `gorm:"column:ends_at"`
	MaxCapacity int       `gorm:"column:max_capacity"`
}

func lockInstanceRow(tx *gorm.DB, instanceID uuid.UUID) (*lockedInstance, error) {
	var instance lockedInstance
	err := tx.Table("class_instances").
		Select("id, studio_id, status, starts_at, ends_at, max_capacity").
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

// seatedCount tallies booked, confirmed and checked_in rows. Walk-ins are
// admitted strictly against this count; live promotion offers do not shield
// a seat from the front desk.
func seatedCount(tx *gorm.DB, instanceID uuid.UUID) (int64, error) {
	var count int64
	err := tx.Model(&reservations.Reservation{}).
		Where("class_instance_id = ? AND status IN ?", instanceID,
			[]reservations.Status{reservations.StatusBooked, reservations.StatusConfirmed, reservations.StatusCheckedIn}).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count seated reservations: %w", err)
	}
	return count, nil
}

func (r *repository) CheckIn(ctx context.Context, params CheckInParams) (*CheckInResult, error) {
	var result *CheckInResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. Find the reservation to learn its instance
		var probe reservations.Reservation
		if err := tx.First(&probe, "id = ?", params.ReservationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return reservations.ErrReservationNotFound
			}
			return fmt.Errorf("failed to load reservation: %w", err)
		}

		// 2. Lock the instance; check-ins serialize with claims and cancels
		instance, err := lockInstanceRow(tx, probe.ClassInstanceID)
		if err != nil {
			return err
		}

		// 3. Replay check under the lock
		if params.IdempotencyKey != uuid.Nil {
			stored, err := idempotency.Check(tx, params.IdempotencyKey, idempotency.OpCheckIn, params.ActorID, params.RequestHash)
			if err != nil {
				return err
			}
			if stored != nil {
				var record AttendanceRecord
				if err := tx.First(&record, "reservation_id = ?", params.ReservationID).Error; err != nil {
					return fmt.Errorf("failed to load replayed attendance record: %w", err)
				}
				result = &CheckInResult{Record: &record, Reservation: &probe, Replayed: true}
				return nil
			}
		}

		// 4. Re-read the row under the lock
		var res reservations.Reservation
		err = tx.Set("gorm:query_option", "FOR UPDATE").
			First(&res, "id = ?", params.ReservationID).Error
		if err != nil {
			return fmt.Errorf("failed to lock reservation: %w", err)
		}

		// A repeat check-in returns the stored record
		if res.Status == reservations.StatusCheckedIn {
			var record AttendanceRecord
			if err := tx.First(&record, "reservation_id = ?", res.ID).Error; err != nil {
				return fmt.Errorf("failed to load attendance record: %w", err)
			}
			result = &CheckInResult{Record: &record, Reservation: &res, Replayed: true}
			return r.saveKey(tx, params, res.ID)
		}

		if res.Status != reservations.StatusBooked && res.Status != reservations.StatusConfirmed {
			return fmt.Errorf("%w: reservation is %s", ErrNotCheckinable, res.Status)
		}

		// 5. The class window must have started
		now := time.Now()
		if instance.Status != string(classes.InstanceStatusScheduled) {
			return reservations.ErrInstanceNotBookable
		}
		if now.Before(instance.StartsAt) {
			return ErrCheckInNotOpen
		}

		// 6. Flip the reservation and write the attendance row
		err = tx.Model(&reservations.Reservation{}).
			Where("id = ?", res.ID).
			Updates(map[string]interface{}{
				"status":     reservations.StatusCheckedIn,
				"updated_at": now,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to check in reservation: %w", err)
		}
		res.Status = reservations.StatusCheckedIn

		record := &AttendanceRecord{
			ReservationID:   res.ID,
			ClassInstanceID: res.ClassInstanceID,
			MemberID:        res.MemberID,
			CheckedIn:       true,
			CheckedInAt:     now,
			CheckedInBy:     params.CheckedInBy,
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("failed to create attendance record: %w", err)
		}

		result = &CheckInResult{Record: record, Reservation: &res}
		return r.saveKey(tx, params, res.ID)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// saveKey pins the outcome to the idempotency key when one was supplied.
func (r *repository) saveKey(tx *gorm.DB, params CheckInParams, reservationID uuid.UUID) error {
	if params.IdempotencyKey == uuid.Nil {
		return nil
	}
	return idempotency.Save(tx, params.IdempotencyKey, idempotency.OpCheckIn,
		params.ActorID, params.RequestHash, &reservationID)
}

func (r *repository) WalkIn(ctx context.Context, params WalkInParams) (*WalkInResult, error) {
	var result *WalkInResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. Lock the instance row
		instance, err := lockInstanceRow(tx, params.ClassInstanceID)
		if err != nil {
			return err
		}

		now := time.Now()
		if instance.Status != string(classes.InstanceStatusScheduled) || now.After(instance.EndsAt) {
			return reservations.ErrInstanceNotBookable
		}

		// 2. One live reservation per member per instance; a member with a
		// booked seat checks in through checkIn, not walkIn
		var existing int64
		err = tx.Model(&reservations.Reservation{}).
			Where("class_instance_id = ? AND member_id = ? AND status IN ?",
				params.ClassInstanceID, params.MemberID,
				[]reservations.Status{
					reservations.StatusBooked, reservations.StatusConfirmed,
					reservations.StatusCheckedIn, reservations.StatusWaitlisted,
					reservations.StatusPromoted,
				}).
			Count(&existing).Error
		if err != nil {
			return fmt.Errorf("failed to check for existing reservation: %w", err)
		}
		if existing > 0 {
			return reservations.ErrDuplicateReservation
		}

		// 3. Strict capacity check against the seat holders; no waitlist
		// fallback at the door
		seated, err := seatedCount(tx, params.ClassInstanceID)
		if err != nil {
			return err
		}
		if seated >= int64(instance.MaxCapacity) {
			return fmt.Errorf("%w: %d of %d seats taken", ErrClassAtCapacity, seated, instance.MaxCapacity)
		}

		// 4. Create the reservation already checked in
		res := &reservations.Reservation{
			ClassInstanceID: params.ClassInstanceID,
			MemberID:        params.MemberID,
			Status:          reservations.StatusCheckedIn,
			EntitlementKind: params.EntitlementKind,
			EntitlementRef:  params.EntitlementRef,
		}
		if err := tx.Create(res).Error; err != nil {
			return fmt.Errorf("failed to create walk-in reservation: %w", err)
		}

		record := &AttendanceRecord{
			ReservationID:   res.ID,
			ClassInstanceID: params.ClassInstanceID,
			MemberID:        params.MemberID,
			CheckedIn:       true,
			CheckedInAt:     now,
			CheckedInBy:     params.StaffID.String(),
			WalkIn:          true,
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("failed to create walk-in attendance record: %w", err)
		}

		result = &WalkInResult{Record: record, Reservation: res}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *repository) Roster(ctx context.Context, instanceID uuid.UUID) ([]RosterEntry, error) {
	var entries []RosterEntry
	err := r.db.WithContext(ctx).
		Table("reservations").
		Select(`reservations.id AS reservation_id,
			reservations.member_id,
			reservations.status,
			reservations.waitlist_position,
			reservations.promotion_expires_at,
			reservations.created_at AS reserved_at,
			attendance_records.checked_in_at,
			attendance_records.checked_in_by,
			COALESCE(attendance_records.walk_in, false) AS walk_in`).
		Joins("LEFT JOIN attendance_records ON attendance_records.reservation_id = reservations.id").
		Where("reservations.class_instance_id = ? AND reservations.status IN ?", instanceID,
			[]reservations.Status{
				reservations.StatusBooked, reservations.StatusConfirmed,
				reservations.StatusCheckedIn, reservations.StatusPromoted,
				reservations.StatusWaitlisted,
			}).
		Order("reservations.created_at ASC").
		Scan(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}
	return entries, nil
}

func (r *repository) GetByReservation(ctx context.Context, reservationID uuid.UUID) (*AttendanceRecord, error) {
	var record AttendanceRecord
	err := r.db.WithContext(ctx).First(&record, "reservation_id = ?", reservationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to load attendance record: %w", err)
	}
	return &record, nil
}
