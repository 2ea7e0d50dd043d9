package database

import (
	"gorm.io/gorm"
)

// MigrateConstraints adds the database constraints the booking engine relies
// on for concurrency control. AutoMigrate cannot express partial unique
// indexes, so they live here as raw SQL.
func MigrateConstraints(db *gorm.DB) error {
	// One live reservation per member per class instance. Covers every
	// non-terminal status plus checked_in so an attended member cannot
	// rebook the same instance.
	err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS ux_reservations_active_member
		ON reservations (class_instance_id, member_id)
		WHERE status IN ('booked','confirmed','checked_in','waitlisted','promoted');
	`).Error
	if err != nil {
		return err
	}

	// Waitlist positions are unique per class instance while held.
	err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS ux_reservations_waitlist_slot
		ON reservations (class_instance_id, waitlist_position)
		WHERE waitlist_position IS NOT NULL;
	`).Error
	if err != nil {
		return err
	}

	// Status and cancellation reason are closed enums at the DB level too.
	err = db.Exec(`
		ALTER TABLE reservations DROP CONSTRAINT IF EXISTS chk_reservations_status;
	`).Error
	if err != nil {
		return err
	}
	err = db.Exec(`
		ALTER TABLE reservations ADD CONSTRAINT chk_reservations_status
		CHECK (status IN ('booked','confirmed','checked_in','cancelled','no_show','waitlisted','promoted','expired'));
	`).Error
	if err != nil {
		return err
	}

	err = db.Exec(`
		ALTER TABLE reservations DROP CONSTRAINT IF EXISTS chk_reservations_cancellation_reason;
	`).Error
	if err != nil {
		return err
	}
	err = db.Exec(`
		ALTER TABLE reservations ADD CONSTRAINT chk_reservations_cancellation_reason
		CHECK (cancellation_reason IS NULL OR cancellation_reason IN ('member_initiated','late_cancel','staff_cancel','class_cancelled'));
	`).Error
	if err != nil {
		return err
	}

	err = db.Exec(`
		ALTER TABLE reservations DROP CONSTRAINT IF EXISTS chk_reservations_waitlist_position;
	`).Error
	if err != nil {
		return err
	}
	err = db.Exec(`
		ALTER TABLE reservations ADD CONSTRAINT chk_reservations_waitlist_position
		CHECK (waitlist_position IS NULL OR waitlist_position >= 0);
	`).Error
	if err != nil {
		return err
	}

	// Capacity may be reduced below the seated count but never below zero.
	err = db.Exec(`
		ALTER TABLE class_instances DROP CONSTRAINT IF EXISTS chk_class_instances_max_capacity;
	`).Error
	if err != nil {
		return err
	}
	err = db.Exec(`
		ALTER TABLE class_instances ADD CONSTRAINT chk_class_instances_max_capacity
		CHECK (max_capacity >= 0);
	`).Error
	if err != nil {
		return err
	}

	// Seat-count and roster queries filter by instance and status.
	err = db.Exec(`
		CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_reservations_instance_status
		ON reservations (class_instance_id, status);
	`).Error
	if err != nil {
		return err
	}

	// Promotion deadline sweep scans only promoted rows.
	err = db.Exec(`
		CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_reservations_promotion_deadline
		ON reservations (promotion_expires_at)
		WHERE status = 'promoted';
	`).Error
	if err != nil {
		return err
	}

	// Completion sweep scans scheduled instances whose end time passed.
	err = db.Exec(`
		CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_class_instances_status_ends_at
		ON class_instances (status, ends_at);
	`).Error
	if err != nil {
		return err
	}

	// Fee charge sweep picks up pending rows in order.
	err = db.Exec(`
		CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_fee_charges_status_created
		ON fee_charges (status, created_at);
	`).Error
	if err != nil {
		return err
	}

	return nil
}
