package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/queue-api/internal/model"
	"github.com/clinicore/queue-api/pkg/logger"
	"github.com/clinicore/queue-api/pkg/metrics"
)

var testMetrics = metrics.NewMetrics("outbox_test")

type fakeOutboxRepo struct {
	mu        sync.Mutex
	pending   []*model.OutboxEvent
	processed []uuid.UUID
	retried   []uuid.UUID
	failed    []uuid.UUID
	pruned    bool
}

func (r *fakeOutboxRepo) Create(ctx context.Context, event *model.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, event)
	return nil
}

func (r *fakeOutboxRepo) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) > limit {
		return r.pending[:limit], nil
	}
	return r.pending, nil
}

func (r *fakeOutboxRepo) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed = append(r.processed, id)
	return nil
}

func (r *fakeOutboxRepo) IncrementRetry(ctx context.Context, id uuid.UUID, errMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retried = append(r.retried, id)
	return nil
}

func (r *fakeOutboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, errMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, id)
	return nil
}

func (r *fakeOutboxRepo) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruned = true
	return 0, nil
}

type fakeBroker struct {
	mu        sync.Mutex
	fail      bool
	published []interface{}
}

func (b *fakeBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return fmt.Errorf("broker down")
	}
	b.published = append(b.published, message)
	return nil
}

func (b *fakeBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, nil
}

func (b *fakeBroker) Close() error { return nil }

func pendingEvent(retryCount int) *model.OutboxEvent {
	return &model.OutboxEvent{
		ID:         uuid.New(),
		EventType:  string(model.EventPatientCalled),
		Payload:    json.RawMessage(`{"type":"PATIENT_CALLED"}`),
		Status:     model.OutboxStatusPending,
		RetryCount: retryCount,
		CreatedAt:  time.Now(),
	}
}

func newTestProcessor(repo *fakeOutboxRepo, broker *fakeBroker, cfg OutboxProcessorConfig) *OutboxProcessor {
	return NewOutboxProcessor(repo, broker, cfg, logger.NewLogger(nil), testMetrics)
}

func TestProcessEventsPublishesAndMarksProcessed(t *testing.T) {
	repo := &fakeOutboxRepo{}
	broker := &fakeBroker{}
	evt := pendingEvent(0)
	repo.pending = append(repo.pending, evt)

	p := newTestProcessor(repo, broker, OutboxProcessorConfig{RetainFor: time.Hour})

	require.NoError(t, p.processEvents(context.Background()))

	assert.Len(t, broker.published, 1)
	assert.Equal(t, []uuid.UUID{evt.ID}, repo.processed)
	assert.Empty(t, repo.retried)
	assert.Empty(t, repo.failed)
	assert.True(t, repo.pruned)
}

func TestProcessEventsIncrementsRetryOnFailure(t *testing.T) {
	repo := &fakeOutboxRepo{}
	broker := &fakeBroker{fail: true}
	evt := pendingEvent(0)
	repo.pending = append(repo.pending, evt)

	p := newTestProcessor(repo, broker, OutboxProcessorConfig{MaxRetries: 3})

	require.NoError(t, p.processEvents(context.Background()))

	assert.Empty(t, repo.processed)
	assert.Equal(t, []uuid.UUID{evt.ID}, repo.retried)
	assert.Empty(t, repo.failed)
}

func TestProcessEventsMarksFailedAfterMaxRetries(t *testing.T) {
	repo := &fakeOutboxRepo{}
	broker := &fakeBroker{fail: true}
	evt := pendingEvent(2)
	repo.pending = append(repo.pending, evt)

	p := newTestProcessor(repo, broker, OutboxProcessorConfig{MaxRetries: 3})

	require.NoError(t, p.processEvents(context.Background()))

	assert.Empty(t, repo.retried)
	assert.Equal(t, []uuid.UUID{evt.ID}, repo.failed)
}

func TestProcessEventsRespectsBatchSize(t *testing.T) {
	repo := &fakeOutboxRepo{}
	broker := &fakeBroker{}
	for i := 0; i < 5; i++ {
		repo.pending = append(repo.pending, pendingEvent(0))
	}

	p := newTestProcessor(repo, broker, OutboxProcessorConfig{BatchSize: 2})

	require.NoError(t, p.processEvents(context.Background()))
	assert.Len(t, broker.published, 2)
}

func TestStartStopsOnContextCancel(t *testing.T) {
	repo := &fakeOutboxRepo{}
	broker := &fakeBroker{}
	p := newTestProcessor(repo, broker, OutboxProcessorConfig{PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("processor did not stop on cancel")
	}
}
