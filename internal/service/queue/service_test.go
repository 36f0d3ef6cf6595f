package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/queue-api/internal/model"
	"github.com/clinicore/queue-api/internal/repository/memory"
	apperrors "github.com/clinicore/queue-api/pkg/errors"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.QueueEventType
}

func (p *recordingPublisher) PublishEntryEvent(ctx context.Context, eventType model.QueueEventType, entry *model.QueueEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
}

func (p *recordingPublisher) PublishQueueUpdated(ctx context.Context, doctorID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, model.EventQueueUpdated)
}

func (p *recordingPublisher) PublishStats(ctx context.Context, doctorID uuid.UUID, stats *model.QueueStats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, model.EventStatsUpdated)
}

func (p *recordingPublisher) recorded() []model.QueueEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.QueueEventType, len(p.events))
	copy(out, p.events)
	return out
}

func newTestService(t *testing.T) (*Service, *fakeClock, *recordingPublisher) {
	t.Helper()
	clock := newFakeClock(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	publisher := &recordingPublisher{}
	repo := memory.NewQueueRepositoryWithClock(clock.Now)
	return NewService(repo, publisher, clock, nil), clock, publisher
}

func checkIn(t *testing.T, svc *Service, doctorID uuid.UUID, name string, scheduled *time.Time) *model.QueueEntry {
	t.Helper()
	entry, err := svc.CheckIn(context.Background(), &model.CheckInRequest{
		PatientID:     uuid.New(),
		PatientName:   name,
		DoctorID:      doctorID,
		ScheduledTime: scheduled,
	})
	require.NoError(t, err)
	return entry
}

func timePtr(t time.Time) *time.Time { return &t }

func TestCheckIn(t *testing.T) {
	svc, clock, publisher := newTestService(t)
	doctorID := uuid.New()

	entry := checkIn(t, svc, doctorID, "Ana Souza", nil)

	assert.Equal(t, model.QueueStatusWaiting, entry.Status)
	assert.Equal(t, clock.Now(), entry.CheckInTime)
	assert.Zero(t, entry.RecallCount)
	assert.Nil(t, entry.CalledAt)
	assert.Equal(t, []model.QueueEventType{
		model.EventPatientCheckedIn,
		model.EventQueueUpdated,
		model.EventStatsUpdated,
	}, publisher.recorded())
}

func TestCheckInDuplicateActiveVisit(t *testing.T) {
	svc, _, _ := newTestService(t)
	doctorID := uuid.New()
	patientID := uuid.New()

	req := &model.CheckInRequest{
		PatientID:   patientID,
		PatientName: "Ana Souza",
		DoctorID:    doctorID,
	}
	_, err := svc.CheckIn(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.CheckIn(context.Background(), req)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
}

func TestCallNextOrdering(t *testing.T) {
	svc, clock, _ := newTestService(t)
	doctorID := uuid.New()
	base := clock.Now()

	// A checked in first but is scheduled later than B. Walk-in C has no
	// scheduled time and must go last.
	a := checkIn(t, svc, doctorID, "Patient A", timePtr(base.Add(2*time.Hour)))
	clock.Advance(time.Minute)
	b := checkIn(t, svc, doctorID, "Patient B", timePtr(base.Add(1*time.Hour)))
	clock.Advance(time.Minute)
	c := checkIn(t, svc, doctorID, "Patient C", nil)

	for _, want := range []uuid.UUID{b.ID, a.ID, c.ID} {
		called, err := svc.CallNext(context.Background(), doctorID, "room-1")
		require.NoError(t, err)
		assert.Equal(t, want, called.ID)
		assert.Equal(t, model.QueueStatusCalled, called.Status)
		require.NotNil(t, called.CalledAt)
		require.NotNil(t, called.ServicePoint)
		assert.Equal(t, "room-1", *called.ServicePoint)
	}

	_, err := svc.CallNext(context.Background(), doctorID, "room-1")
	assert.True(t, apperrors.Is(err, apperrors.ErrEmptyQueue))
}

func TestCallNextTiebreakByCheckIn(t *testing.T) {
	svc, clock, _ := newTestService(t)
	doctorID := uuid.New()
	scheduled := clock.Now().Add(time.Hour)

	first := checkIn(t, svc, doctorID, "First In", timePtr(scheduled))
	clock.Advance(time.Second)
	checkIn(t, svc, doctorID, "Second In", timePtr(scheduled))

	called, err := svc.CallNext(context.Background(), doctorID, "room-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, called.ID)
}

func TestCallNextEmptyQueue(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CallNext(context.Background(), uuid.New(), "room-1")
	assert.True(t, apperrors.Is(err, apperrors.ErrEmptyQueue))
}

func TestCallNextConcurrentSingleWinner(t *testing.T) {
	svc, _, _ := newTestService(t)
	doctorID := uuid.New()
	checkIn(t, svc, doctorID, "Only Patient", nil)

	const stations = 4
	results := make(chan error, stations)
	var wg sync.WaitGroup
	for i := 0; i < stations; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CallNext(context.Background(), doctorID, "room-1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, empties int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case apperrors.Is(err, apperrors.ErrEmptyQueue):
			empties++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, stations-1, empties)
}

func TestRecall(t *testing.T) {
	svc, clock, _ := newTestService(t)
	doctorID := uuid.New()
	checkIn(t, svc, doctorID, "Ana Souza", nil)

	called, err := svc.CallNext(context.Background(), doctorID, "room-1")
	require.NoError(t, err)
	firstCall := *called.CalledAt

	clock.Advance(2 * time.Minute)
	recalled, err := svc.Recall(context.Background(), called.ID)
	require.NoError(t, err)

	assert.Equal(t, model.QueueStatusCalled, recalled.Status)
	assert.Equal(t, 1, recalled.RecallCount)
	assert.True(t, recalled.CalledAt.After(firstCall))

	clock.Advance(time.Minute)
	recalled, err = svc.Recall(context.Background(), called.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, recalled.RecallCount)
}

func TestRecallRequiresCalled(t *testing.T) {
	svc, _, _ := newTestService(t)
	doctorID := uuid.New()
	entry := checkIn(t, svc, doctorID, "Ana Souza", nil)

	_, err := svc.Recall(context.Background(), entry.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func TestVisitLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t)
	doctorID := uuid.New()
	checkIn(t, svc, doctorID, "Ana Souza", nil)

	called, err := svc.CallNext(context.Background(), doctorID, "room-1")
	require.NoError(t, err)

	attending, err := svc.MarkAttending(context.Background(), called.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusAttending, attending.Status)
	require.NotNil(t, attending.AttendingAt)

	completed, err := svc.MarkCompleted(context.Background(), called.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	// Completing again is an operator acting on stale state.
	_, err = svc.MarkCompleted(context.Background(), called.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func TestMarkAttendingRequiresCalled(t *testing.T) {
	svc, _, _ := newTestService(t)
	doctorID := uuid.New()
	entry := checkIn(t, svc, doctorID, "Ana Souza", nil)

	_, err := svc.MarkAttending(context.Background(), entry.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func TestCallSpecificOnFinishedVisit(t *testing.T) {
	svc, _, _ := newTestService(t)
	doctorID := uuid.New()
	checkIn(t, svc, doctorID, "Ana Souza", nil)

	called, err := svc.CallNext(context.Background(), doctorID, "room-1")
	require.NoError(t, err)
	_, err = svc.MarkAttending(context.Background(), called.ID)
	require.NoError(t, err)
	_, err = svc.MarkCompleted(context.Background(), called.ID)
	require.NoError(t, err)

	_, err = svc.CallSpecific(context.Background(), called.ID, "room-2")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func TestMarkNoShow(t *testing.T) {
	svc, _, _ := newTestService(t)
	doctorID := uuid.New()

	waiting := checkIn(t, svc, doctorID, "Never Showed", nil)
	entry, err := svc.MarkNoShow(context.Background(), waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusNoShow, entry.Status)

	checkIn(t, svc, doctorID, "Called Then Left", nil)
	called, err := svc.CallNext(context.Background(), doctorID, "room-1")
	require.NoError(t, err)
	entry, err = svc.MarkNoShow(context.Background(), called.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusNoShow, entry.Status)
}

func TestMarkNoShowWhileAttending(t *testing.T) {
	svc, _, _ := newTestService(t)
	doctorID := uuid.New()
	checkIn(t, svc, doctorID, "Ana Souza", nil)

	called, err := svc.CallNext(context.Background(), doctorID, "room-1")
	require.NoError(t, err)
	_, err = svc.MarkAttending(context.Background(), called.ID)
	require.NoError(t, err)

	_, err = svc.MarkNoShow(context.Background(), called.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func TestChangeStatus(t *testing.T) {
	svc, _, _ := newTestService(t)
	doctorID := uuid.New()
	entry := checkIn(t, svc, doctorID, "Ana Souza", nil)

	// Calling through the generic endpoint needs a service point.
	_, err := svc.ChangeStatus(context.Background(), entry.ID, &model.ChangeStatusRequest{
		Status: model.QueueStatusCalled,
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrBadRequest))

	sp := "room-3"
	called, err := svc.ChangeStatus(context.Background(), entry.ID, &model.ChangeStatusRequest{
		Status:       model.QueueStatusCalled,
		ServicePoint: &sp,
	})
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusCalled, called.Status)

	// CALLED -> CALLED through the generic endpoint is a recall.
	recalled, err := svc.ChangeStatus(context.Background(), entry.ID, &model.ChangeStatusRequest{
		Status: model.QueueStatusCalled,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, recalled.RecallCount)

	// The generic endpoint grants no edges beyond the matrix.
	_, err = svc.ChangeStatus(context.Background(), entry.ID, &model.ChangeStatusRequest{
		Status: model.QueueStatusCompleted,
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func TestGetDerivesWaitingMinutes(t *testing.T) {
	svc, clock, _ := newTestService(t)
	doctorID := uuid.New()
	entry := checkIn(t, svc, doctorID, "Ana Souza", nil)

	clock.Advance(30 * time.Minute)
	got, err := svc.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.InDelta(t, 30, got.WaitingMinutes, 0.01)

	// Once called, waiting minutes are no longer derived.
	called, err := svc.CallNext(context.Background(), doctorID, "room-1")
	require.NoError(t, err)
	got, err = svc.Get(context.Background(), called.ID)
	require.NoError(t, err)
	assert.Zero(t, got.WaitingMinutes)
}

func TestGetNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Get(context.Background(), uuid.New())
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestListActive(t *testing.T) {
	svc, _, _ := newTestService(t)
	doctorID := uuid.New()

	checkIn(t, svc, doctorID, "Still Waiting", nil)
	checkIn(t, svc, doctorID, "Being Called", nil)

	called, err := svc.CallNext(context.Background(), doctorID, "room-1")
	require.NoError(t, err)

	active, err := svc.ListActive(context.Background(), &doctorID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, called.ID, active[0].ID)

	_, err = svc.MarkAttending(context.Background(), called.ID)
	require.NoError(t, err)
	_, err = svc.MarkCompleted(context.Background(), called.ID)
	require.NoError(t, err)

	active, err = svc.ListActive(context.Background(), &doctorID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestListDisplayLimit(t *testing.T) {
	svc, clock, _ := newTestService(t)
	doctorID := uuid.New()

	for i := 0; i < 5; i++ {
		checkIn(t, svc, doctorID, "Patient", nil)
		clock.Advance(time.Second)
	}

	entries, err := svc.ListDisplay(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
