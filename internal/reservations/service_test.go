package reservations

import (
	"context"
	"testing"
	"time"

	"classbook/internal/classes"
	"classbook/internal/entitlements"
	"classbook/internal/studios"
	"classbook/pkg/cache"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRepository mocks the reservations repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) ClaimSeat(ctx context.Context, params ClaimParams) (*ClaimResult, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ClaimResult), args.Error(1)
}

func (m *MockRepository) Confirm(ctx context.Context, id uuid.UUID, at time.Time) (*Reservation, error) {
	args := m.Called(ctx, id, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Reservation), args.Error(1)
}

func (m *MockRepository) Cancel(ctx context.Context, params CancelParams) (*CancelResult, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CancelResult), args.Error(1)
}

func (m *MockRepository) CompensateClaim(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) AcceptPromotion(ctx context.Context, id uuid.UUID) (*AcceptResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AcceptResult), args.Error(1)
}

func (m *MockRepository) PromoteEligible(ctx context.Context, instanceID uuid.UUID, deadline time.Duration) ([]Reservation, error) {
	args := m.Called(ctx, instanceID, deadline)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Reservation), args.Error(1)
}

func (m *MockRepository) FindDuePromotions(ctx context.Context, now time.Time, limit int) ([]DuePromotion, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]DuePromotion), args.Error(1)
}

func (m *MockRepository) ExpirePromotion(ctx context.Context, id uuid.UUID, requeue bool) (*Reservation, error) {
	args := m.Called(ctx, id, requeue)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Reservation), args.Error(1)
}

func (m *MockRepository) CancelAllForInstance(ctx context.Context, instanceID uuid.UUID) (*CascadeResult, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CascadeResult), args.Error(1)
}

func (m *MockRepository) ReconcileCompletedInstance(ctx context.Context, instanceID uuid.UUID) (*CompletionResult, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CompletionResult), args.Error(1)
}

func (m *MockRepository) GetByID(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Reservation), args.Error(1)
}

func (m *MockRepository) ListByMember(ctx context.Context, memberID uuid.UUID, query MemberReservationsQuery) ([]MemberReservationRow, int64, error) {
	args := m.Called(ctx, memberID, query)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]MemberReservationRow), args.Get(1).(int64), args.Error(2)
}

func (m *MockRepository) AdmissionCounts(ctx context.Context, instanceID uuid.UUID) (*AdmissionCounts, error) {
	args := m.Called(ctx, instanceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*AdmissionCounts), args.Error(1)
}

// MockClassService mocks the class registry
type MockClassService struct {
	mock.Mock
}

func (m *MockClassService) SetCacheService(cacheService cache.Service) {}

func (m *MockClassService) SetReservationEngine(engine classes.ReservationEngine) {}

func (m *MockClassService) CreateInstance(ctx context.Context, req classes.CreateInstanceRequest) (*classes.ClassInstanceResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*classes.ClassInstanceResponse), args.Error(1)
}

func (m *MockClassService) GetInstanceByID(ctx context.Context, id uuid.UUID) (*classes.ClassInstanceResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*classes.ClassInstanceResponse), args.Error(1)
}

func (m *MockClassService) ListInstances(ctx context.Context, query classes.InstanceListQuery) (*classes.PaginatedInstances, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*classes.PaginatedInstances), args.Error(1)
}

func (m *MockClassService) AdjustCapacity(ctx context.Context, id uuid.UUID, req classes.AdjustCapacityRequest) (*classes.ClassInstanceResponse, error) {
	args := m.Called(ctx, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*classes.ClassInstanceResponse), args.Error(1)
}

func (m *MockClassService) CancelInstance(ctx context.Context, id uuid.UUID) (*classes.InstanceCancelSummary, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*classes.InstanceCancelSummary), args.Error(1)
}

func (m *MockClassService) CompleteInstance(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockClassService) GetInstance(ctx context.Context, id uuid.UUID) (*classes.ClassInstance, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*classes.ClassInstance), args.Error(1)
}

func (m *MockClassService) ListEndedScheduled(ctx context.Context, limit int) ([]classes.ClassInstance, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]classes.ClassInstance), args.Error(1)
}

// MockStudioService mocks the studio registry
type MockStudioService struct {
	mock.Mock
}

func (m *MockStudioService) CreateStudio(ctx context.Context, req studios.CreateStudioRequest) (*studios.Studio, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*studios.Studio), args.Error(1)
}

func (m *MockStudioService) GetStudio(ctx context.Context, id string) (*studios.Studio, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*studios.Studio), args.Error(1)
}

func (m *MockStudioService) ListStudios(ctx context.Context) ([]studios.Studio, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]studios.Studio), args.Error(1)
}

func (m *MockStudioService) UpdateStudio(ctx context.Context, id string, req studios.UpdateStudioRequest) (*studios.Studio, error) {
	args := m.Called(ctx, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*studios.Studio), args.Error(1)
}

func (m *MockStudioService) GetPolicy(ctx context.Context, studioID uuid.UUID) (studios.Policy, error) {
	args := m.Called(ctx, studioID)
	return args.Get(0).(studios.Policy), args.Error(1)
}

// MockGate mocks the entitlement gate
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

// MockFeeQueue mocks the late fee pipeline
type MockFeeQueue struct {
	mock.Mock
}

func (m *MockFeeQueue) QueueLateFee(ctx context.Context, reservationID uuid.UUID, memberID uuid.UUID, amountCents int64) error {
	args := m.Called(ctx, reservationID, memberID, amountCents)
	return args.Error(0)
}

// MockPromotionEngine mocks the waitlist promotion hook
type MockPromotionEngine struct {
	mock.Mock
}

func (m *MockPromotionEngine) PromoteNext(ctx context.Context, instanceID uuid.UUID) (int, error) {
	args := m.Called(ctx, instanceID)
	return args.Int(0), args.Error(1)
}

type serviceFixture struct {
	repo    *MockRepository
	class   *MockClassService
	studio  *MockStudioService
	gate    *MockGate
	fees    *MockFeeQueue
	engine  *MockPromotionEngine
	service Service
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		repo:   new(MockRepository),
		class:  new(MockClassService),
		studio: new(MockStudioService),
		gate:   new(MockGate),
		fees:   new(MockFeeQueue),
		engine: new(MockPromotionEngine),
	}
	f.service = NewService(f.repo, f.class, f.studio, f.gate, f.fees)
	f.service.SetPromotionEngine(f.engine)
	return f
}

func scheduledInstance(studioID uuid.UUID) *classes.ClassInstance {
	return &classes.ClassInstance{
		ID:          uuid.New(),
		StudioID:    studioID,
		Title:       "Vinyasa Flow",
		StartsAt:    time.Now().Add(24 * time.Hour),
		EndsAt:      time.Now().Add(25 * time.Hour),
		MaxCapacity: 10,
		Status:      classes.InstanceStatusScheduled,
	}
}

func defaultPolicy(studioID uuid.UUID) studios.Policy {
	return studios.Policy{
		StudioID:           studioID,
		CancellationWindow: 12 * time.Hour,
		ConfirmationWindow: 24 * time.Hour,
		PromotionDeadline:  2 * time.Hour,
		LateFeeCents:       1500,
		WaitlistEnabled:    true,
	}
}

func packPledge(memberID uuid.UUID) *entitlements.Pledge {
	return &entitlements.Pledge{
		Kind:     entitlements.KindClassPack,
		Ref:      "pack-1",
		MemberID: memberID,
	}
}

func TestReserveBooksSeatAndConsumesEntitlement(t *testing.T) {
	f := newServiceFixture()
	memberID := uuid.New()
	studioID := uuid.New()
	instance := scheduledInstance(studioID)
	key := uuid.New()
	pledge := packPledge(memberID)

	f.class.On("GetInstance", mock.Anything, instance.ID).Return(instance, nil)
	f.studio.On("GetPolicy", mock.Anything, studioID).Return(defaultPolicy(studioID), nil)
	f.gate.On("Prepare", mock.Anything, memberID, mock.Anything).Return(pledge, nil)

	booked := &Reservation{
		ID:              uuid.New(),
		ClassInstanceID: instance.ID,
		MemberID:        memberID,
		Status:          StatusBooked,
	}
	f.repo.On("ClaimSeat", mock.Anything, mock.MatchedBy(func(p ClaimParams) bool {
		return p.MemberID == memberID && p.ClassInstanceID == instance.ID &&
			p.IdempotencyKey == key && p.WaitlistEnabled
	})).Return(&ClaimResult{Reservation: booked}, nil)
	f.gate.On("TryConsume", mock.Anything, pledge).Return(nil)

	resp, err := f.service.Reserve(context.Background(), memberID, key, CreateReservationRequest{
		ClassInstanceID: instance.ID.String(),
	})

	require.NoError(t, err)
	assert.Equal(t, StatusBooked, resp.Status)
	f.gate.AssertCalled(t, "TryConsume", mock.Anything, pledge)
	f.gate.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "CompensateClaim", mock.Anything, mock.Anything)
}

func TestReserveFullClassJoinsWaitlistWithoutConsuming(t *testing.T) {
	f := newServiceFixture()
	memberID := uuid.New()
	studioID := uuid.New()
	instance := scheduledInstance(studioID)
	pledge := packPledge(memberID)

	f.class.On("GetInstance", mock.Anything, instance.ID).Return(instance, nil)
	f.studio.On("GetPolicy", mock.Anything, studioID).Return(defaultPolicy(studioID), nil)
	f.gate.On("Prepare", mock.Anything, memberID, mock.Anything).Return(pledge, nil)

	pos := 0
	queued := &Reservation{
		ID:               uuid.New(),
		ClassInstanceID:  instance.ID,
		MemberID:         memberID,
		Status:           StatusWaitlisted,
		WaitlistPosition: &pos,
	}
	f.repo.On("ClaimSeat", mock.Anything, mock.Anything).
		Return(&ClaimResult{Reservation: queued, Waitlisted: true}, nil)

	resp, err := f.service.Reserve(context.Background(), memberID, uuid.New(), CreateReservationRequest{
		ClassInstanceID: instance.ID.String(),
	})

	require.NoError(t, err)
	assert.Equal(t, StatusWaitlisted, resp.Status)
	require.NotNil(t, resp.WaitlistPosition)
	assert.Equal(t, 0, *resp.WaitlistPosition)
	// Queued members hold a pledge, nothing more
	f.gate.AssertNotCalled(t, "TryConsume", mock.Anything, mock.Anything)
}

func TestReserveReplayReleasesFreshPledge(t *testing.T) {
	f := newServiceFixture()
	memberID := uuid.New()
	studioID := uuid.New()
	instance := scheduledInstance(studioID)
	pledge := packPledge(memberID)

	f.class.On("GetInstance", mock.Anything, instance.ID).Return(instance, nil)
	f.studio.On("GetPolicy", mock.Anything, studioID).Return(defaultPolicy(studioID), nil)
	f.gate.On("Prepare", mock.Anything, memberID, mock.Anything).Return(pledge, nil)

	stored := &Reservation{
		ID:              uuid.New(),
		ClassInstanceID: instance.ID,
		MemberID:        memberID,
		Status:          StatusBooked,
	}
	f.repo.On("ClaimSeat", mock.Anything, mock.Anything).
		Return(&ClaimResult{Reservation: stored, Replayed: true}, nil)
	f.gate.On("Release", mock.Anything, pledge).Return(nil)

	resp, err := f.service.Reserve(context.Background(), memberID, uuid.New(), CreateReservationRequest{
		ClassInstanceID: instance.ID.String(),
	})

	require.NoError(t, err)
	assert.Equal(t, stored.ID, resp.ID)
	// The retry must not double-spend: the fresh pledge is dropped and the
	// stored outcome returned as-is
	f.gate.AssertCalled(t, "Release", mock.Anything, pledge)
	f.gate.AssertNotCalled(t, "TryConsume", mock.Anything, mock.Anything)
}

func TestReserveConsumeFailureCompensatesClaim(t *testing.T) {
	f := newServiceFixture()
	memberID := uuid.New()
	studioID := uuid.New()
	instance := scheduledInstance(studioID)
	pledge := packPledge(memberID)

	f.class.On("GetInstance", mock.Anything, instance.ID).Return(instance, nil)
	f.studio.On("GetPolicy", mock.Anything, studioID).Return(defaultPolicy(studioID), nil)
	f.gate.On("Prepare", mock.Anything, memberID, mock.Anything).Return(pledge, nil)

	booked := &Reservation{
		ID:              uuid.New(),
		ClassInstanceID: instance.ID,
		MemberID:        memberID,
		Status:          StatusBooked,
	}
	f.repo.On("ClaimSeat", mock.Anything, mock.Anything).Return(&ClaimResult{Reservation: booked}, nil)
	f.gate.On("TryConsume", mock.Anything, pledge).Return(entitlements.ErrEntitlementRequired)
	f.repo.On("CompensateClaim", mock.Anything, booked.ID).Return(nil)
	f.engine.On("PromoteNext", mock.Anything, instance.ID).Return(0, nil)

	_, err := f.service.Reserve(context.Background(), memberID, uuid.New(), CreateReservationRequest{
		ClassInstanceID: instance.ID.String(),
	})

	assert.ErrorIs(t, err, entitlements.ErrEntitlementRequired)
	f.repo.AssertCalled(t, "CompensateClaim", mock.Anything, booked.ID)
	// The compensated seat is free again; the waitlist gets a shot at it
	f.engine.AssertCalled(t, "PromoteNext", mock.Anything, instance.ID)
}

func TestReservePaymentDeclinedNeverClaims(t *testing.T) {
	f := newServiceFixture()
	memberID := uuid.New()
	studioID := uuid.New()
	instance := scheduledInstance(studioID)

	f.class.On("GetInstance", mock.Anything, instance.ID).Return(instance, nil)
	f.studio.On("GetPolicy", mock.Anything, studioID).Return(defaultPolicy(studioID), nil)
	f.gate.On("Prepare", mock.Anything, memberID, mock.Anything).
		Return(nil, entitlements.ErrPaymentDeclined)

	_, err := f.service.Reserve(context.Background(), memberID, uuid.New(), CreateReservationRequest{
		ClassInstanceID: instance.ID.String(),
		PaymentMethodID: "pm_card",
	})

	assert.ErrorIs(t, err, entitlements.ErrPaymentDeclined)
	f.repo.AssertNotCalled(t, "ClaimSeat", mock.Anything, mock.Anything)
}

func TestReserveRejectsStartedInstance(t *testing.T) {
	f := newServiceFixture()
	memberID := uuid.New()
	instance := scheduledInstance(uuid.New())
	instance.StartsAt = time.Now().Add(-time.Minute)

	f.class.On("GetInstance", mock.Anything, instance.ID).Return(instance, nil)

	_, err := f.service.Reserve(context.Background(), memberID, uuid.New(), CreateReservationRequest{
		ClassInstanceID: instance.ID.String(),
	})

	assert.ErrorIs(t, err, ErrInstanceNotBookable)
	f.gate.AssertNotCalled(t, "Prepare", mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelBeforeCutoffRefundsAndPromotes(t *testing.T) {
	f := newServiceFixture()
	memberID := uuid.New()
	studioID := uuid.New()
	instance := scheduledInstance(studioID)

	kind := string(entitlements.KindClassPack)
	ref := "pack-1"
	row := &Reservation{
		ID:              uuid.New(),
		ClassInstanceID: instance.ID,
		MemberID:        memberID,
		Status:          StatusBooked,
		EntitlementKind: &kind,
		EntitlementRef:  &ref,
	}

	f.repo.On("GetByID", mock.Anything, row.ID).Return(row, nil)
	f.class.On("GetInstance", mock.Anything, instance.ID).Return(instance, nil)
	f.studio.On("GetPolicy", mock.Anything, studioID).Return(defaultPolicy(studioID), nil)

	reason := string(ReasonMemberInitiated)
	cancelled := &Reservation{
		ID:                 row.ID,
		ClassInstanceID:    instance.ID,
		MemberID:           memberID,
		Status:             StatusCancelled,
		EntitlementKind:    &kind,
		EntitlementRef:     &ref,
		CancellationReason: &reason,
	}
	f.repo.On("Cancel", mock.Anything, mock.MatchedBy(func(p CancelParams) bool {
		return p.ReservationID == row.ID && !p.LateCancel
	})).Return(&CancelResult{
		Reservation:    cancelled,
		PreviousStatus: StatusBooked,
		SeatFreed:      true,
	}, nil)
	f.gate.On("Refund", mock.Anything, mock.MatchedBy(func(p *entitlements.Pledge) bool {
		return p.Kind == entitlements.KindClassPack && p.Consumed
	})).Return(nil)
	f.engine.On("PromoteNext", mock.Anything, instance.ID).Return(1, nil)

	resp, err := f.service.Cancel(context.Background(), row.ID, Actor{ID: memberID}, uuid.New())

	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, resp.Status)
	f.gate.AssertExpectations(t)
	f.engine.AssertCalled(t, "PromoteNext", mock.Anything, instance.ID)
	f.fees.AssertNotCalled(t, "QueueLateFee", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelInsideWindowKeepsEntitlementAndQueuesFee(t *testing.T) {
	f := newServiceFixture()
	memberID := uuid.New()
	studioID := uuid.New()
	instance := scheduledInstance(studioID)
	instance.StartsAt = time.Now().Add(time.Hour) // inside the 12h window

	kind := string(entitlements.KindClassPack)
	row := &Reservation{
		ID:              uuid.New(),
		ClassInstanceID: instance.ID,
		MemberID:        memberID,
		Status:          StatusConfirmed,
		EntitlementKind: &kind,
	}

	f.repo.On("GetByID", mock.Anything, row.ID).Return(row, nil)
	f.class.On("GetInstance", mock.Anything, instance.ID).Return(instance, nil)
	f.studio.On("GetPolicy", mock.Anything, studioID).Return(defaultPolicy(studioID), nil)

	reason := string(ReasonLateCancel)
	cancelled := &Reservation{
		ID:                 row.ID,
		ClassInstanceID:    instance.ID,
		MemberID:           memberID,
		Status:             StatusCancelled,
		EntitlementKind:    &kind,
		CancellationReason: &reason,
	}
	f.repo.On("Cancel", mock.Anything, mock.MatchedBy(func(p CancelParams) bool {
		return p.LateCancel
	})).Return(&CancelResult{
		Reservation:    cancelled,
		PreviousStatus: StatusConfirmed,
		SeatFreed:      true,
	}, nil)
	f.fees.On("QueueLateFee", mock.Anything, row.ID, memberID, int64(1500)).Return(nil)
	f.engine.On("PromoteNext", mock.Anything, instance.ID).Return(0, nil)

	resp, err := f.service.Cancel(context.Background(), row.ID, Actor{ID: memberID}, uuid.New())

	require.NoError(t, err)
	require.NotNil(t, resp.CancellationReason)
	assert.Equal(t, string(ReasonLateCancel), *resp.CancellationReason)
	// Late cancel forfeits the entitlement and bills the fee
	f.gate.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
	f.fees.AssertExpectations(t)
}

func TestCancelWaitlistedReleasesPledgeWithoutPromotion(t *testing.T) {
	f := newServiceFixture()
	memberID := uuid.New()
	studioID := uuid.New()
	instance := scheduledInstance(studioID)

	kind := string(entitlements.KindSubscription)
	pos := 2
	row := &Reservation{
		ID:               uuid.New(),
		ClassInstanceID:  instance.ID,
		MemberID:         memberID,
		Status:           StatusWaitlisted,
		WaitlistPosition: &pos,
		EntitlementKind:  &kind,
	}

	f.repo.On("GetByID", mock.Anything, row.ID).Return(row, nil)
	f.class.On("GetInstance", mock.Anything, instance.ID).Return(instance, nil)
	f.studio.On("GetPolicy", mock.Anything, studioID).Return(defaultPolicy(studioID), nil)

	reason := string(ReasonMemberInitiated)
	cancelled := &Reservation{
		ID:                 row.ID,
		ClassInstanceID:    instance.ID,
		MemberID:           memberID,
		Status:             StatusCancelled,
		EntitlementKind:    &kind,
		CancellationReason: &reason,
	}
	f.repo.On("Cancel", mock.Anything, mock.Anything).Return(&CancelResult{
		Reservation:    cancelled,
		PreviousStatus: StatusWaitlisted,
		SeatFreed:      false,
	}, nil)
	f.gate.On("Release", mock.Anything, mock.MatchedBy(func(p *entitlements.Pledge) bool {
		return !p.Consumed
	})).Return(nil)

	_, err := f.service.Cancel(context.Background(), row.ID, Actor{ID: memberID}, uuid.New())

	require.NoError(t, err)
	// Leaving the queue frees no seat and owes no fee
	f.engine.AssertNotCalled(t, "PromoteNext", mock.Anything, mock.Anything)
	f.fees.AssertNotCalled(t, "QueueLateFee", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.gate.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
}

func TestCancelRejectsNonOwner(t *testing.T) {
	f := newServiceFixture()
	row := &Reservation{
		ID:              uuid.New(),
		ClassInstanceID: uuid.New(),
		MemberID:        uuid.New(),
		Status:          StatusBooked,
	}
	f.repo.On("GetByID", mock.Anything, row.ID).Return(row, nil)

	_, err := f.service.Cancel(context.Background(), row.ID, Actor{ID: uuid.New()}, uuid.New())

	assert.ErrorIs(t, err, ErrNotReservationOwner)
	f.repo.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything)
}

func TestAcceptPromotionConsumesPledgeOnce(t *testing.T) {
	f := newServiceFixture()
	memberID := uuid.New()
	instanceID := uuid.New()
	kind := string(entitlements.KindCompCredit)

	offer := &Reservation{
		ID:              uuid.New(),
		ClassInstanceID: instanceID,
		MemberID:        memberID,
		Status:          StatusPromoted,
		EntitlementKind: &kind,
	}
	booked := &Reservation{
		ID:              offer.ID,
		ClassInstanceID: instanceID,
		MemberID:        memberID,
		Status:          StatusBooked,
		EntitlementKind: &kind,
	}

	f.repo.On("GetByID", mock.Anything, offer.ID).Return(offer, nil)
	f.repo.On("AcceptPromotion", mock.Anything, offer.ID).
		Return(&AcceptResult{Reservation: booked, Converted: true}, nil).Once()
	f.gate.On("TryConsume", mock.Anything, mock.MatchedBy(func(p *entitlements.Pledge) bool {
		return p.Kind == entitlements.KindCompCredit && !p.Consumed
	})).Return(nil)

	resp, err := f.service.AcceptPromotion(context.Background(), offer.ID, Actor{ID: memberID})
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, resp.Status)

	// A second accept replays the booked row without a second consumption
	f.repo.On("AcceptPromotion", mock.Anything, offer.ID).
		Return(&AcceptResult{Reservation: booked, Converted: false}, nil).Once()

	resp, err = f.service.AcceptPromotion(context.Background(), offer.ID, Actor{ID: memberID})
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, resp.Status)
	f.gate.AssertNumberOfCalls(t, "TryConsume", 1)
}

func TestAcceptPromotionExpired(t *testing.T) {
	f := newServiceFixture()
	memberID := uuid.New()
	offer := &Reservation{
		ID:              uuid.New(),
		ClassInstanceID: uuid.New(),
		MemberID:        memberID,
		Status:          StatusExpired,
	}

	f.repo.On("GetByID", mock.Anything, offer.ID).Return(offer, nil)
	f.repo.On("AcceptPromotion", mock.Anything, offer.ID).Return(nil, ErrPromotionExpired)

	_, err := f.service.AcceptPromotion(context.Background(), offer.ID, Actor{ID: memberID})
	assert.ErrorIs(t, err, ErrPromotionExpired)
}

func TestConfirmOutsideWindow(t *testing.T) {
	f := newServiceFixture()
	memberID := uuid.New()
	studioID := uuid.New()

	// Starts in 48h; the 24h confirmation window has not opened
	instance := scheduledInstance(studioID)
	instance.StartsAt = time.Now().Add(48 * time.Hour)

	row := &Reservation{
		ID:              uuid.New(),
		ClassInstanceID: instance.ID,
		MemberID:        memberID,
		Status:          StatusBooked,
	}

	f.repo.On("GetByID", mock.Anything, row.ID).Return(row, nil)
	f.class.On("GetInstance", mock.Anything, instance.ID).Return(instance, nil)
	f.studio.On("GetPolicy", mock.Anything, studioID).Return(defaultPolicy(studioID), nil)

	_, err := f.service.Confirm(context.Background(), row.ID, Actor{ID: memberID})

	assert.ErrorIs(t, err, ErrConfirmationNotOpen)
	f.repo.AssertNotCalled(t, "Confirm", mock.Anything, mock.Anything, mock.Anything)
}

func TestConfirmInsideWindow(t *testing.T) {
	f := newServiceFixture()
	memberID := uuid.New()
	studioID := uuid.New()

	instance := scheduledInstance(studioID)
	instance.StartsAt = time.Now().Add(2 * time.Hour)

	row := &Reservation{
		ID:              uuid.New(),
		ClassInstanceID: instance.ID,
		MemberID:        memberID,
		Status:          StatusBooked,
	}
	confirmedAt := time.Now()
	confirmed := &Reservation{
		ID:              row.ID,
		ClassInstanceID: instance.ID,
		MemberID:        memberID,
		Status:          StatusConfirmed,
		ConfirmedAt:     &confirmedAt,
	}

	f.repo.On("GetByID", mock.Anything, row.ID).Return(row, nil)
	f.class.On("GetInstance", mock.Anything, instance.ID).Return(instance, nil)
	f.studio.On("GetPolicy", mock.Anything, studioID).Return(defaultPolicy(studioID), nil)
	f.repo.On("Confirm", mock.Anything, row.ID, mock.Anything).Return(confirmed, nil)

	resp, err := f.service.Confirm(context.Background(), row.ID, Actor{ID: memberID})

	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, resp.Status)
	assert.NotNil(t, resp.ConfirmedAt)
}

func TestCancelAllForInstanceSettlesEntitlements(t *testing.T) {
	f := newServiceFixture()
	instanceID := uuid.New()
	kind := string(entitlements.KindClassPack)

	cascade := &CascadeResult{
		Seated: []Reservation{
			{ID: uuid.New(), ClassInstanceID: instanceID, MemberID: uuid.New(), Status: StatusCancelled, EntitlementKind: &kind},
		},
		Waitlist: []Reservation{
			{ID: uuid.New(), ClassInstanceID: instanceID, MemberID: uuid.New(), Status: StatusCancelled, EntitlementKind: &kind},
		},
	}

	f.repo.On("CancelAllForInstance", mock.Anything, instanceID).Return(cascade, nil)
	f.gate.On("Refund", mock.Anything, mock.MatchedBy(func(p *entitlements.Pledge) bool {
		return p.Consumed
	})).Return(nil).Once()
	f.gate.On("Release", mock.Anything, mock.MatchedBy(func(p *entitlements.Pledge) bool {
		return !p.Consumed
	})).Return(nil).Once()

	seated, waitlisted, err := f.service.CancelAllForInstance(context.Background(), instanceID)

	require.NoError(t, err)
	assert.Equal(t, 1, seated)
	assert.Equal(t, 1, waitlisted)
	f.gate.AssertExpectations(t)
}

func TestReconcileCompletedInstance(t *testing.T) {
	f := newServiceFixture()
	instanceID := uuid.New()
	kind := string(entitlements.KindSubscription)

	result := &CompletionResult{
		NoShows: []Reservation{
			{ID: uuid.New(), ClassInstanceID: instanceID, MemberID: uuid.New(), Status: StatusNoShow},
		},
		Expired: []Reservation{
			{ID: uuid.New(), ClassInstanceID: instanceID, MemberID: uuid.New(), Status: StatusExpired, EntitlementKind: &kind},
		},
	}

	f.repo.On("ReconcileCompletedInstance", mock.Anything, instanceID).Return(result, nil)
	f.gate.On("Release", mock.Anything, mock.Anything).Return(nil).Once()

	noShows, expired, err := f.service.ReconcileCompletedInstance(context.Background(), instanceID)

	require.NoError(t, err)
	assert.Equal(t, 1, noShows)
	assert.Equal(t, 1, expired)
	f.gate.AssertExpectations(t)
}
