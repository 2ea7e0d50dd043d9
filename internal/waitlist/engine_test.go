package waitlist

import (
	"context"
	"sync"
	"testing"
	"time"

	"classbook/internal/classes"
	"classbook/internal/entitlements"
	"classbook/internal/notifications"
	"classbook/internal/reservations"
	"classbook/internal/studios"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReservationRepo overrides only the ledger calls the engine makes.
type fakeReservationRepo struct {
	reservations.Repository

	promoteEligible func(ctx context.Context, instanceID uuid.UUID, deadline time.Duration) ([]reservations.Reservation, error)
	findDue         func(ctx context.Context, now time.Time, limit int) ([]reservations.DuePromotion, error)
	expire          func(ctx context.Context, id uuid.UUID, requeue bool) (*reservations.Reservation, error)
}

func (f *fakeReservationRepo) PromoteEligible(ctx context.Context, instanceID uuid.UUID, deadline time.Duration) ([]reservations.Reservation, error) {
	return f.promoteEligible(ctx, instanceID, deadline)
}

func (f *fakeReservationRepo) FindDuePromotions(ctx context.Context, now time.Time, limit int) ([]reservations.DuePromotion, error) {
	return f.findDue(ctx, now, limit)
}

func (f *fakeReservationRepo) ExpirePromotion(ctx context.Context, id uuid.UUID, requeue bool) (*reservations.Reservation, error) {
	return f.expire(ctx, id, requeue)
}

type fakeClassService struct {
	classes.Service
	instance *classes.ClassInstance
}

func (f *fakeClassService) GetInstance(ctx context.Context, id uuid.UUID) (*classes.ClassInstance, error) {
	return f.instance, nil
}

type fakeStudioService struct {
	studios.Service
	policies map[uuid.UUID]studios.Policy
}

func (f *fakeStudioService) GetPolicy(ctx context.Context, studioID uuid.UUID) (studios.Policy, error) {
	return f.policies[studioID], nil
}

type releaseRecorder struct {
	entitlements.Gate
	mu       sync.Mutex
	released []*entitlements.Pledge
}

func (r *releaseRecorder) Release(ctx context.Context, pledge *entitlements.Pledge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, pledge)
	return nil
}

type capturingPublisher struct {
	mu       sync.Mutex
	messages []*notifications.Message
}

func (p *capturingPublisher) Publish(ctx context.Context, message *notifications.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return nil
}

func (p *capturingPublisher) PublishBatch(ctx context.Context, messages []*notifications.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, messages...)
	return nil
}

func (p *capturingPublisher) Close() error                          { return nil }
func (p *capturingPublisher) HealthCheck(ctx context.Context) error { return nil }

func (p *capturingPublisher) ofType(t notifications.MessageType) []*notifications.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*notifications.Message
	for _, m := range p.messages {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func testInstance(studioID uuid.UUID) *classes.ClassInstance {
	return &classes.ClassInstance{
		ID:          uuid.New(),
		StudioID:    studioID,
		StartsAt:    time.Now().Add(12 * time.Hour),
		EndsAt:      time.Now().Add(13 * time.Hour),
		MaxCapacity: 5,
		Status:      classes.InstanceStatusScheduled,
	}
}

func TestPromoteNextSendsOfferPerFreedSeat(t *testing.T) {
	studioID := uuid.New()
	instance := testInstance(studioID)
	deadline := 90 * time.Minute

	expires := time.Now().Add(deadline)
	promoted := []reservations.Reservation{
		{ID: uuid.New(), ClassInstanceID: instance.ID, MemberID: uuid.New(), Status: reservations.StatusPromoted, PromotionExpiresAt: &expires},
		{ID: uuid.New(), ClassInstanceID: instance.ID, MemberID: uuid.New(), Status: reservations.StatusPromoted, PromotionExpiresAt: &expires},
	}

	var gotDeadline time.Duration
	repo := &fakeReservationRepo{
		promoteEligible: func(ctx context.Context, instanceID uuid.UUID, d time.Duration) ([]reservations.Reservation, error) {
			gotDeadline = d
			return promoted, nil
		},
	}
	publisher := &capturingPublisher{}

	engine := NewEngine(repo,
		&fakeClassService{instance: instance},
		&fakeStudioService{policies: map[uuid.UUID]studios.Policy{
			studioID: {StudioID: studioID, PromotionDeadline: deadline},
		}},
		&releaseRecorder{})
	engine.SetPublisher(publisher)

	count, err := engine.PromoteNext(context.Background(), instance.ID)

	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, deadline, gotDeadline, "the studio's deadline reaches the ledger")

	offers := publisher.ofType(notifications.TypePromotionOffer)
	require.Len(t, offers, 2)
	for _, msg := range offers {
		assert.NotNil(t, msg.ExpiresAt, "offers carry the acceptance deadline")
	}
}

func TestPromoteNextEmptyQueueIsQuiet(t *testing.T) {
	studioID := uuid.New()
	instance := testInstance(studioID)

	repo := &fakeReservationRepo{
		promoteEligible: func(ctx context.Context, instanceID uuid.UUID, d time.Duration) ([]reservations.Reservation, error) {
			return nil, nil
		},
	}
	publisher := &capturingPublisher{}

	engine := NewEngine(repo,
		&fakeClassService{instance: instance},
		&fakeStudioService{policies: map[uuid.UUID]studios.Policy{studioID: {}}},
		&releaseRecorder{})
	engine.SetPublisher(publisher)

	count, err := engine.PromoteNext(context.Background(), instance.ID)

	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, publisher.messages)
}

func TestSweepExpiresReleasesAndCascades(t *testing.T) {
	requeueStudio := uuid.New()
	dropStudio := uuid.New()
	instance := testInstance(dropStudio)

	kind := string(entitlements.KindClassPack)
	requeuedRow := reservations.Reservation{
		ID:              uuid.New(),
		ClassInstanceID: instance.ID,
		MemberID:        uuid.New(),
		Status:          reservations.StatusPromoted,
	}
	droppedRow := reservations.Reservation{
		ID:              uuid.New(),
		ClassInstanceID: instance.ID,
		MemberID:        uuid.New(),
		Status:          reservations.StatusPromoted,
		EntitlementKind: &kind,
	}

	due := []reservations.DuePromotion{
		{Reservation: requeuedRow, StudioID: requeueStudio},
		{Reservation: droppedRow, StudioID: dropStudio},
	}

	var cascades []uuid.UUID
	pos := 3
	repo := &fakeReservationRepo{
		findDue: func(ctx context.Context, now time.Time, limit int) ([]reservations.DuePromotion, error) {
			return due, nil
		},
		expire: func(ctx context.Context, id uuid.UUID, requeue bool) (*reservations.Reservation, error) {
			switch id {
			case requeuedRow.ID:
				require.True(t, requeue, "requeue policy must reach the ledger")
				row := requeuedRow
				row.Status = reservations.StatusWaitlisted
				row.WaitlistPosition = &pos
				return &row, nil
			case droppedRow.ID:
				require.False(t, requeue)
				row := droppedRow
				row.Status = reservations.StatusExpired
				return &row, nil
			}
			t.Fatalf("unexpected expire for %s", id)
			return nil, nil
		},
		promoteEligible: func(ctx context.Context, instanceID uuid.UUID, d time.Duration) ([]reservations.Reservation, error) {
			cascades = append(cascades, instanceID)
			return nil, nil
		},
	}

	gate := &releaseRecorder{}
	publisher := &capturingPublisher{}

	engine := NewEngine(repo,
		&fakeClassService{instance: instance},
		&fakeStudioService{policies: map[uuid.UUID]studios.Policy{
			requeueStudio: {StudioID: requeueStudio, RequeueExpiredPromotions: true},
			dropStudio:    {StudioID: dropStudio},
		}},
		gate)
	engine.SetPublisher(publisher)

	expired, err := engine.SweepDuePromotions(context.Background(), 100)

	require.NoError(t, err)
	assert.Equal(t, 2, expired)

	// Only the terminal expiry abandons its pledge; the requeued member
	// keeps theirs for the next offer
	require.Len(t, gate.released, 1)
	assert.Equal(t, entitlements.KindClassPack, gate.released[0].Kind)
	assert.Equal(t, droppedRow.MemberID, gate.released[0].MemberID)

	// Both rows freed admission on the same instance; one cascade suffices
	require.Len(t, cascades, 1)
	assert.Equal(t, instance.ID, cascades[0])

	notices := publisher.ofType(notifications.TypePromotionExpired)
	require.Len(t, notices, 2)
}

func TestSweepSkipsRowsThatMovedOn(t *testing.T) {
	studioID := uuid.New()
	instance := testInstance(studioID)

	row := reservations.Reservation{
		ID:              uuid.New(),
		ClassInstanceID: instance.ID,
		MemberID:        uuid.New(),
		Status:          reservations.StatusPromoted,
	}

	promotions := 0
	repo := &fakeReservationRepo{
		findDue: func(ctx context.Context, now time.Time, limit int) ([]reservations.DuePromotion, error) {
			return []reservations.DuePromotion{{Reservation: row, StudioID: studioID}}, nil
		},
		expire: func(ctx context.Context, id uuid.UUID, requeue bool) (*reservations.Reservation, error) {
			// Accepted between the scan and the lock
			return nil, nil
		},
		promoteEligible: func(ctx context.Context, instanceID uuid.UUID, d time.Duration) ([]reservations.Reservation, error) {
			promotions++
			return nil, nil
		},
	}

	engine := NewEngine(repo,
		&fakeClassService{instance: instance},
		&fakeStudioService{policies: map[uuid.UUID]studios.Policy{studioID: {}}},
		&releaseRecorder{})

	expired, err := engine.SweepDuePromotions(context.Background(), 100)

	require.NoError(t, err)
	assert.Zero(t, expired)
	assert.Zero(t, promotions, "a raced row frees nothing")
}
