package database

import (
	"classbook/internal/attendance"
	"classbook/internal/classes"
	"classbook/internal/entitlements"
	"classbook/internal/fees"
	"classbook/internal/reservations"
	"classbook/internal/shared/idempotency"
	"classbook/internal/studios"

	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&studios.Studio{},
		&classes.ClassInstance{},
		&reservations.Reservation{},
		&attendance.AttendanceRecord{},
		&idempotency.Key{},
		&entitlements.CompCreditBalance{},
		&entitlements.ClassPackBalance{},
		&entitlements.Subscription{},
		&fees.FeeCharge{},
	)
}
