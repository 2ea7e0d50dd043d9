package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"classbook/internal/classes"
	"classbook/internal/entitlements"
	"classbook/internal/notifications"
	"classbook/internal/reservations"
	"classbook/internal/studios"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CheckIn(ctx context.Context, params CheckInParams) (*CheckInResult, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CheckInResult), args.Error(1)
}

func (m *MockRepository) WalkIn(ctx context.Context, params WalkInParams) (*WalkInResult, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*WalkInResult), args.Error(1)
}

func (m *MockRepository) Roster(ctx context.Context, instanceID uuid.UUID) ([]RosterEntry, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]RosterEntry), args.Error(1)
}

func (m *MockRepository) GetByReservation(ctx context.Context, reservationID uuid.UUID) (*AttendanceRecord, error) {
	args := m.Called(ctx, reservationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AttendanceRecord), args.Error(1)
}

type MockGate struct {
	mock.Mock
}

func (m *MockGate) Prepare(ctx context.Context, memberID uuid.UUID, req entitlements.PrepareRequest) (*entitlements.Pledge, error) {
	args := m.Called(ctx, memberID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entitlements.Pledge), args.Error(1)
}

func (m *MockGate) TryConsume(ctx context.Context, pledge *entitlements.Pledge) error {
	args := m.Called(ctx, pledge)
	return args.Error(0)
}

func (m *MockGate) Refund(ctx context.Context, pledge *entitlements.Pledge) error {
	args := m.Called(ctx, pledge)
	return args.Error(0)
}

func (m *MockGate) Release(ctx context.Context, pledge *entitlements.Pledge) error {
	args := m.Called(ctx, pledge)
	return args.Error(0)
}

type fakeReservationReader struct {
	byID map[uuid.UUID]*reservations.Reservation
}

func (f *fakeReservationReader) GetByID(ctx context.Context, id uuid.UUID) (*reservations.Reservation, error) {
	res, ok := f.byID[id]
	if !ok {
		return nil, reservations.ErrReservationNotFound
	}
	return res, nil
}

type fakeReconciler struct {
	noShows int
	expired int
	err     error
	calls   []uuid.UUID
}

func (f *fakeReconciler) ReconcileCompletedInstance(ctx context.Context, instanceID uuid.UUID) (int, int, error) {
	f.calls = append(f.calls, instanceID)
	return f.noShows, f.expired, f.err
}

type stubClassService struct {
	classes.Service
	instance     *classes.ClassInstance
	ended        []classes.ClassInstance
	completeErrs map[uuid.UUID]error
	completedIDs []uuid.UUID
}

func (s *stubClassService) GetInstance(ctx context.Context, id uuid.UUID) (*classes.ClassInstance, error) {
	if s.instance == nil {
		return nil, classes.ErrInstanceNotFound
	}
	return s.instance, nil
}

func (s *stubClassService) ListEndedScheduled(ctx context.Context, limit int) ([]classes.ClassInstance, error) {
	return s.ended, nil
}

func (s *stubClassService) CompleteInstance(ctx context.Context, id uuid.UUID) error {
	if err := s.completeErrs[id]; err != nil {
		return err
	}
	s.completedIDs = append(s.completedIDs, id)
	return nil
}

type stubStudioService struct {
	studios.Service
	policy studios.Policy
}

func (s *stubStudioService) GetPolicy(ctx context.Context, studioID uuid.UUID) (studios.Policy, error) {
	return s.policy, nil
}

type capturingPublisher struct {
	messages []*notifications.Message
}

func (p *capturingPublisher) Publish(ctx context.Context, message *notifications.Message) error {
	p.messages = append(p.messages, message)
	return nil
}

func (p *capturingPublisher) PublishBatch(ctx context.Context, messages []*notifications.Message) error {
	p.messages = append(p.messages, messages...)
	return nil
}

func (p *capturingPublisher) Close() error                          { return nil }
func (p *capturingPublisher) HealthCheck(ctx context.Context) error { return nil }

type fixture struct {
	svc       Service
	repo      *MockRepository
	gate      *MockGate
	reader    *fakeReservationReader
	classes   *stubClassService
	publisher *capturingPublisher
}

func newFixture(instance *classes.ClassInstance, policy studios.Policy) *fixture {
	repo := new(MockRepository)
	gate := new(MockGate)
	reader := &fakeReservationReader{byID: make(map[uuid.UUID]*reservations.Reservation)}
	classService := &stubClassService{instance: instance}
	publisher := &capturingPublisher{}

	svc := NewService(repo, reader, &fakeReconciler{}, classService,
		&stubStudioService{policy: policy}, gate)
	svc.SetPublisher(publisher)

	return &fixture{svc: svc, repo: repo, gate: gate, reader: reader, classes: classService, publisher: publisher}
}

func startedInstance() *classes.ClassInstance {
	return &classes.ClassInstance{
		ID:          uuid.New(),
		StudioID:    uuid.New(),
		StartsAt:    time.Now().Add(-10 * time.Minute),
		EndsAt:      time.Now().Add(50 * time.Minute),
		MaxCapacity: 10,
		Status:      classes.InstanceStatusScheduled,
	}
}

func TestCheckInRejectsNonOwner(t *testing.T) {
	instance := startedInstance()
	f := newFixture(instance, studios.Policy{})

	resID := uuid.New()
	f.reader.byID[resID] = &reservations.Reservation{
		ID:              resID,
		ClassInstanceID: instance.ID,
		MemberID:        uuid.New(),
		Status:          reservations.StatusBooked,
	}

	record, err := f.svc.CheckIn(context.Background(), resID, Actor{ID: uuid.New()}, uuid.New())

	assert.Nil(t, record)
	assert.ErrorIs(t, err, ErrNotOwner)
	f.repo.AssertNotCalled(t, "CheckIn", mock.Anything, mock.Anything)
}

func TestCheckInSelfServiceRecordsSelf(t *testing.T) {
	instance := startedInstance()
	f := newFixture(instance, studios.Policy{})

	memberID := uuid.New()
	resID := uuid.New()
	key := uuid.New()
	res := &reservations.Reservation{
		ID:              resID,
		ClassInstanceID: instance.ID,
		MemberID:        memberID,
		Status:          reservations.StatusBooked,
	}
	f.reader.byID[resID] = res

	f.repo.On("CheckIn", mock.Anything, mock.MatchedBy(func(p CheckInParams) bool {
		return p.ReservationID == resID &&
			p.IdempotencyKey == key &&
			p.CheckedInBy == CheckedInBySelf
	})).Return(&CheckInResult{
		Record:      &AttendanceRecord{ReservationID: resID, MemberID: memberID, CheckedInBy: CheckedInBySelf},
		Reservation: res,
	}, nil)

	record, err := f.svc.CheckIn(context.Background(), resID, Actor{ID: memberID}, key)

	require.NoError(t, err)
	assert.Equal(t, CheckedInBySelf, record.CheckedInBy)
	require.Len(t, f.publisher.messages, 1)
	assert.Equal(t, notifications.TypeReservationCheckedIn, f.publisher.messages[0].Type)
}

func TestCheckInStaffActsForAnyMember(t *testing.T) {
	instance := startedInstance()
	f := newFixture(instance, studios.Policy{})

	staffID := uuid.New()
	resID := uuid.New()
	res := &reservations.Reservation{
		ID:              resID,
		ClassInstanceID: instance.ID,
		MemberID:        uuid.New(),
		Status:          reservations.StatusConfirmed,
	}
	f.reader.byID[resID] = res

	f.repo.On("CheckIn", mock.Anything, mock.MatchedBy(func(p CheckInParams) bool {
		return p.CheckedInBy == staffID.String() && p.ActorID == staffID
	})).Return(&CheckInResult{
		Record:      &AttendanceRecord{ReservationID: resID, CheckedInBy: staffID.String()},
		Reservation: res,
	}, nil)

	record, err := f.svc.CheckIn(context.Background(), resID, Actor{ID: staffID, Staff: true}, uuid.New())

	require.NoError(t, err)
	assert.Equal(t, staffID.String(), record.CheckedInBy)
}

func TestCheckInReplayStaysQuiet(t *testing.T) {
	instance := startedInstance()
	f := newFixture(instance, studios.Policy{})

	memberID := uuid.New()
	resID := uuid.New()
	res := &reservations.Reservation{
		ID:              resID,
		ClassInstanceID: instance.ID,
		MemberID:        memberID,
		Status:          reservations.StatusCheckedIn,
	}
	f.reader.byID[resID] = res

	f.repo.On("CheckIn", mock.Anything, mock.Anything).Return(&CheckInResult{
		Record:      &AttendanceRecord{ReservationID: resID, MemberID: memberID},
		Reservation: res,
		Replayed:    true,
	}, nil)

	record, err := f.svc.CheckIn(context.Background(), resID, Actor{ID: memberID}, uuid.New())

	require.NoError(t, err)
	assert.NotNil(t, record)
	assert.Empty(t, f.publisher.messages, "a replay does not notify again")
}

func TestWalkInDisabledByPolicy(t *testing.T) {
	instance := startedInstance()
	f := newFixture(instance, studios.Policy{WalkInsEnabled: false})

	record, err := f.svc.WalkIn(context.Background(), instance.ID, uuid.New(),
		WalkInRequest{MemberID: uuid.New().String()})

	assert.Nil(t, record)
	assert.ErrorIs(t, err, ErrWalkInsDisabled)
	f.gate.AssertNotCalled(t, "Prepare", mock.Anything, mock.Anything, mock.Anything)
}

func TestWalkInConsumesEntitlementUpFront(t *testing.T) {
	instance := startedInstance()
	f := newFixture(instance, studios.Policy{WalkInsEnabled: true})

	memberID := uuid.New()
	staffID := uuid.New()
	pledge := &entitlements.Pledge{Kind: entitlements.KindClassPack, Ref: "pack-1", MemberID: memberID}

	f.gate.On("Prepare", mock.Anything, memberID, mock.Anything).Return(pledge, nil)
	f.gate.On("TryConsume", mock.Anything, pledge).Return(nil)

	resID := uuid.New()
	f.repo.On("WalkIn", mock.Anything, mock.MatchedBy(func(p WalkInParams) bool {
		return p.ClassInstanceID == instance.ID &&
			p.MemberID == memberID &&
			p.StaffID == staffID &&
			p.EntitlementKind != nil && *p.EntitlementKind == string(entitlements.KindClassPack)
	})).Return(&WalkInResult{
		Record:      &AttendanceRecord{ReservationID: resID, MemberID: memberID, WalkIn: true},
		Reservation: &reservations.Reservation{ID: resID, ClassInstanceID: instance.ID, MemberID: memberID},
	}, nil)

	record, err := f.svc.WalkIn(context.Background(), instance.ID, staffID,
		WalkInRequest{MemberID: memberID.String()})

	require.NoError(t, err)
	assert.True(t, record.WalkIn)
	f.gate.AssertExpectations(t)
	f.repo.AssertExpectations(t)
}

func TestWalkInRefundsWhenClassIsFull(t *testing.T) {
	instance := startedInstance()
	f := newFixture(instance, studios.Policy{WalkInsEnabled: true})

	memberID := uuid.New()
	pledge := &entitlements.Pledge{Kind: entitlements.KindCompCredit, MemberID: memberID}

	f.gate.On("Prepare", mock.Anything, memberID, mock.Anything).Return(pledge, nil)
	f.gate.On("TryConsume", mock.Anything, pledge).Return(nil)
	f.gate.On("Refund", mock.Anything, pledge).Return(nil)
	f.repo.On("WalkIn", mock.Anything, mock.Anything).Return(nil, ErrClassAtCapacity)

	record, err := f.svc.WalkIn(context.Background(), instance.ID, uuid.New(),
		WalkInRequest{MemberID: memberID.String()})

	assert.Nil(t, record)
	assert.ErrorIs(t, err, ErrClassAtCapacity)
	f.gate.AssertExpectations(t)
}

func TestWalkInReleasesWhenConsumeFails(t *testing.T) {
	instance := startedInstance()
	f := newFixture(instance, studios.Policy{WalkInsEnabled: true})

	memberID := uuid.New()
	pledge := &entitlements.Pledge{Kind: entitlements.KindDropIn, Ref: "auth-1", MemberID: memberID}

	f.gate.On("Prepare", mock.Anything, memberID, mock.Anything).Return(pledge, nil)
	f.gate.On("TryConsume", mock.Anything, pledge).Return(entitlements.ErrPaymentDeclined)
	f.gate.On("Release", mock.Anything, pledge).Return(nil)

	record, err := f.svc.WalkIn(context.Background(), instance.ID, uuid.New(),
		WalkInRequest{MemberID: memberID.String(), PaymentMethodID: "pm_1"})

	assert.Nil(t, record)
	assert.ErrorIs(t, err, entitlements.ErrPaymentDeclined)
	f.repo.AssertNotCalled(t, "WalkIn", mock.Anything, mock.Anything)
}

func TestBatchCheckInItemsFailIndependently(t *testing.T) {
	instance := startedInstance()
	f := newFixture(instance, studios.Policy{})

	goodID := uuid.New()
	strayID := uuid.New()
	f.reader.byID[goodID] = &reservations.Reservation{
		ID: goodID, ClassInstanceID: instance.ID, MemberID: uuid.New(), Status: reservations.StatusBooked,
	}
	f.reader.byID[strayID] = &reservations.Reservation{
		ID: strayID, ClassInstanceID: uuid.New(), MemberID: uuid.New(), Status: reservations.StatusBooked,
	}

	f.repo.On("CheckIn", mock.Anything, mock.MatchedBy(func(p CheckInParams) bool {
		return p.ReservationID == goodID && p.IdempotencyKey == uuid.Nil
	})).Return(&CheckInResult{
		Record:      &AttendanceRecord{ReservationID: goodID},
		Reservation: f.reader.byID[goodID],
	}, nil)

	results, err := f.svc.BatchCheckIn(context.Background(), instance.ID,
		[]string{"not-a-uuid", strayID.String(), goodID.String()},
		Actor{ID: uuid.New(), Staff: true})

	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.False(t, results[0].Success)
	assert.Equal(t, "invalid reservation ID", results[0].Error)

	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "another class instance")

	assert.True(t, results[2].Success)
	require.NotNil(t, results[2].Record)
	assert.Equal(t, goodID, results[2].Record.ReservationID)
}

func TestGetRosterBucketsAndOrders(t *testing.T) {
	instance := startedInstance()
	f := newFixture(instance, studios.Policy{})

	soon := time.Now().Add(30 * time.Minute)
	later := time.Now().Add(90 * time.Minute)
	posZero, posOne := 0, 1

	f.repo.On("Roster", mock.Anything, instance.ID).Return([]RosterEntry{
		{ReservationID: uuid.New(), Status: string(reservations.StatusBooked)},
		{ReservationID: uuid.New(), Status: string(reservations.StatusWaitlisted), WaitlistPosition: &posOne},
		{ReservationID: uuid.New(), Status: string(reservations.StatusPromoted), PromotionExpiresAt: &later},
		{ReservationID: uuid.New(), Status: string(reservations.StatusCheckedIn)},
		{ReservationID: uuid.New(), Status: string(reservations.StatusPromoted), PromotionExpiresAt: &soon},
		{ReservationID: uuid.New(), Status: string(reservations.StatusWaitlisted), WaitlistPosition: &posZero},
	}, nil)

	roster, err := f.svc.GetRoster(context.Background(), instance.ID)

	require.NoError(t, err)
	assert.Len(t, roster.Seated, 2)
	require.Len(t, roster.Promoted, 2)
	require.Len(t, roster.Waitlisted, 2)

	assert.Equal(t, soon, *roster.Promoted[0].PromotionExpiresAt, "soonest offer first")
	assert.Equal(t, 0, *roster.Waitlisted[0].WaitlistPosition, "queue head first")
}

func TestSweepCompletedInstancesContinuesPastFailures(t *testing.T) {
	broken := classes.ClassInstance{ID: uuid.New(), Status: classes.InstanceStatusScheduled}
	healthy := classes.ClassInstance{ID: uuid.New(), Status: classes.InstanceStatusScheduled}

	repo := new(MockRepository)
	gate := new(MockGate)
	reconciler := &fakeReconciler{noShows: 2, expired: 1}
	classService := &stubClassService{
		ended:        []classes.ClassInstance{broken, healthy},
		completeErrs: map[uuid.UUID]error{broken.ID: errors.New("lock timeout")},
	}

	svc := NewService(repo, &fakeReservationReader{}, reconciler, classService,
		&stubStudioService{}, gate)

	completed, err := svc.SweepCompletedInstances(context.Background(), 50)

	require.NoError(t, err)
	assert.Equal(t, 1, completed)
	assert.Equal(t, []uuid.UUID{healthy.ID}, classService.completedIDs)
	assert.Equal(t, []uuid.UUID{healthy.ID}, reconciler.calls)
}
