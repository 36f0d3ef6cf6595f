package event

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinicore/queue-api/internal/model"
	"github.com/clinicore/queue-api/internal/repository"
	"github.com/clinicore/queue-api/pkg/logger"
	"github.com/clinicore/queue-api/pkg/messaging"
	"github.com/clinicore/queue-api/pkg/metrics"
)

// Channel is the broker channel carrying all committed queue events; hubs
// subscribe to it and route to rooms.
const Channel = "queue.events"

// Service is the fan-out gateway. It publishes committed transitions to the
// broker; when the broker is unreachable the event is parked in the outbox
// for the retry worker and live delivery degrades to pull-only. Delivery to
// subscribers is at-most-once, best-effort: nothing is replayed to clients
// that were disconnected when an event fired.
type Service struct {
	broker  messaging.Broker
	outbox  repository.OutboxRepository
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewService(broker messaging.Broker, outbox repository.OutboxRepository, logger *logger.Logger, metrics *metrics.Metrics) *Service {
	return &Service{
		broker:  broker,
		outbox:  outbox,
		logger:  logger,
		metrics: metrics,
	}
}

// PublishEntryEvent broadcasts a patient-specific event to the doctor's room
// and the shared display room.
func (s *Service) PublishEntryEvent(ctx context.Context, eventType model.QueueEventType, entry *model.QueueEntry) {
	s.publish(ctx, &model.QueueEvent{
		Type:       eventType,
		Rooms:      roomsFor(entry.DoctorID),
		Entry:      entry,
		OccurredAt: entry.UpdatedAt,
	})
}

// PublishQueueUpdated hints subscribers that ordering for a doctor's queue
// may have changed and position-sensitive views should re-read.
func (s *Service) PublishQueueUpdated(ctx context.Context, doctorID uuid.UUID) {
	s.publish(ctx, &model.QueueEvent{
		Type:  model.EventQueueUpdated,
		Rooms: roomsFor(doctorID),
	})
}

// PublishStats broadcasts refreshed aggregates.
func (s *Service) PublishStats(ctx context.Context, doctorID uuid.UUID, stats *model.QueueStats) {
	s.publish(ctx, &model.QueueEvent{
		Type:  model.EventStatsUpdated,
		Rooms: roomsFor(doctorID),
		Stats: stats,
	})
}

func (s *Service) publish(ctx context.Context, evt *model.QueueEvent) {
	if err := s.broker.Publish(ctx, Channel, evt); err != nil {
		s.metrics.PublishFailures.Inc()
		s.logger.Error(err, "broker publish failed, parking event in outbox",
			"event_type", string(evt.Type))
		s.parkInOutbox(ctx, evt)
		return
	}
	s.metrics.EventsPublished.WithLabelValues(string(evt.Type)).Inc()
}

func (s *Service) parkInOutbox(ctx context.Context, evt *model.QueueEvent) {
	if s.outbox == nil {
		return
	}
	payload, err := evt.Marshal()
	if err != nil {
		s.logger.Error(err, "failed to marshal event for outbox")
		return
	}
	outboxEvent := &model.OutboxEvent{
		EventType: string(evt.Type),
		Payload:   payload,
	}
	if err := s.outbox.Create(ctx, outboxEvent); err != nil {
		s.logger.Error(err, "failed to park event in outbox",
			"event_type", string(evt.Type))
	}
}

func roomsFor(doctorID uuid.UUID) []string {
	return []string{model.DoctorRoom(doctorID.String()), model.RoomDisplay}
}
