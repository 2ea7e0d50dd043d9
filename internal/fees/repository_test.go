package fees

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupFeesMock(t *testing.T) (Repository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 db,
		PreferSimpleProtocol: true,
	}), &gorm.Config{SkipDefaultTransaction: false})
	require.NoError(t, err)

	repo := NewRepository(gormDB)
	closer := func() { db.Close() }
	return repo, mock, closer
}

func TestCreateInsertsPendingCharge(t *testing.T) {
	repo, mock, close := setupFeesMock(t)
	defer close()

	charge := &FeeCharge{
		ReservationID: uuid.New(),
		MemberID:      uuid.New(),
		AmountCents:   1500,
		Status:        StatusPending,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "fee_charges"`).
		WillReturnRows(sqlmock.NewRows([]string{"attempts", "id"}).AddRow(0, uuid.New()))
	mock.ExpectCommit()

	err := repo.Create(context.Background(), charge)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkChargedOnlyTouchesPendingRows(t *testing.T) {
	repo, mock, close := setupFeesMock(t)
	defer close()

	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "fee_charges" SET`).
		WithArgs("ch_123", nil, StatusCharged, sqlmock.AnyArg(), id, StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.MarkCharged(context.Background(), id, "ch_123")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedRetryableKeepsStatusPending(t *testing.T) {
	repo, mock, close := setupFeesMock(t)
	defer close()

	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "fee_charges" SET`).
		WithArgs("card declined", sqlmock.AnyArg(), id, StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.MarkFailed(context.Background(), id, "card declined", false)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedTerminalFlipsStatus(t *testing.T) {
	repo, mock, close := setupFeesMock(t)
	defer close()

	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "fee_charges" SET`).
		WithArgs("card declined", StatusFailed, sqlmock.AnyArg(), id, StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.MarkFailed(context.Background(), id, "card declined", true)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByReservationReadsInChargeOrder(t *testing.T) {
	repo, mock, close := setupFeesMock(t)
	defer close()

	reservationID := uuid.New()
	chargeID := uuid.New()
	memberID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT * FROM "fee_charges" WHERE reservation_id = $1 ORDER BY created_at ASC`)).
		WithArgs(reservationID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "reservation_id", "member_id", "amount_cents", "status", "attempts", "created_at", "updated_at"}).
			AddRow(chargeID, reservationID, memberID, int64(1500), string(StatusCharged), 1, time.Now(), time.Now()))

	charges, err := repo.GetByReservation(context.Background(), reservationID)
	require.NoError(t, err)
	require.Len(t, charges, 1)
	require.Equal(t, chargeID, charges[0].ID)
	require.Equal(t, StatusCharged, charges[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
