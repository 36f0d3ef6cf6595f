package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/clinicore/queue-api/internal/model"
	"github.com/clinicore/queue-api/internal/repository"
	apperrors "github.com/clinicore/queue-api/pkg/errors"
	"github.com/clinicore/queue-api/pkg/metrics"
)

// maxCallAttempts bounds the re-select loop in CallNext so two stations
// hammering the same doctor's queue cannot livelock each other.
const maxCallAttempts = 3

// EventPublisher receives committed transitions for fan-out. Publishing is
// best-effort and must never fail a dispatch.
type EventPublisher interface {
	PublishEntryEvent(ctx context.Context, eventType model.QueueEventType, entry *model.QueueEntry)
	PublishQueueUpdated(ctx context.Context, doctorID uuid.UUID)
	PublishStats(ctx context.Context, doctorID uuid.UUID, stats *model.QueueStats)
}

// Service is the dispatcher: the only component allowed to request state
// transitions on the queue store.
type Service struct {
	repo      repository.QueueRepository
	publisher EventPublisher
	clock     Clock
	metrics   *metrics.Metrics
}

func NewService(repo repository.QueueRepository, publisher EventPublisher, clock Clock, m *metrics.Metrics) *Service {
	if clock == nil {
		clock = NewClock()
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		clock:     clock,
		metrics:   m,
	}
}

// CheckIn creates a WAITING entry from a confirmed appointment or overturn.
func (s *Service) CheckIn(ctx context.Context, req *model.CheckInRequest) (*model.QueueEntry, error) {
	entry := &model.QueueEntry{
		ID:            uuid.New(),
		PatientID:     req.PatientID,
		PatientName:   req.PatientName,
		DoctorID:      req.DoctorID,
		ScheduledTime: req.ScheduledTime,
		OverturnID:    req.OverturnID,
		CheckInTime:   s.clock.Now(),
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, err
	}

	s.afterTransition(ctx, model.EventPatientCheckedIn, entry)
	return entry, nil
}

// CallNext claims the next WAITING entry for the doctor: smallest scheduled
// time first, earliest check-in as tiebreak. Losing the compare-and-set to a
// concurrent caller triggers a re-select from a fresh snapshot, bounded by
// maxCallAttempts. An empty waiting queue is a normal state reported as
// EMPTY_QUEUE, not a failure.
func (s *Service) CallNext(ctx context.Context, doctorID uuid.UUID, servicePoint string) (*model.QueueEntry, error) {
	if s.metrics != nil {
		timer := prometheus.NewTimer(s.metrics.DispatchLatency.WithLabelValues("call_next"))
		defer timer.ObserveDuration()
	}

	for attempt := 0; attempt < maxCallAttempts; attempt++ {
		waiting, err := s.repo.ListByDoctor(ctx, doctorID, []model.QueueStatus{model.QueueStatusWaiting})
		if err != nil {
			return nil, fmt.Errorf("failed to list waiting entries: %w", err)
		}
		if len(waiting) == 0 {
			return nil, apperrors.NewEmptyQueue(doctorID.String())
		}

		candidate := waiting[0]
		now := s.clock.Now()
		entry, err := s.repo.TryTransition(ctx, candidate.ID,
			model.QueueStatusWaiting, model.QueueStatusCalled,
			model.TransitionUpdate{
				ServicePoint: &servicePoint,
				CalledAt:     &now,
			})
		if err != nil {
			if apperrors.Is(err, apperrors.ErrConflict) {
				// Lost the claim to another station; re-select.
				if s.metrics != nil {
					s.metrics.CASConflicts.Inc()
					s.metrics.CallNextRetries.Inc()
				}
				continue
			}
			return nil, err
		}

		s.afterTransition(ctx, model.EventPatientCalled, entry)
		return entry, nil
	}

	return nil, apperrors.NewEmptyQueue(doctorID.String())
}

// CallSpecific calls a particular patient out of turn. The entry must
// currently be WAITING; anything else means the operator acted on stale
// information.
func (s *Service) CallSpecific(ctx context.Context, id uuid.UUID, servicePoint string) (*model.QueueEntry, error) {
	now := s.clock.Now()
	entry, err := s.repo.TryTransition(ctx, id,
		model.QueueStatusWaiting, model.QueueStatusCalled,
		model.TransitionUpdate{
			ServicePoint: &servicePoint,
			CalledAt:     &now,
		})
	if err != nil {
		return nil, s.conflictAsInvalidTransition(ctx, id, err, model.QueueStatusCalled)
	}

	s.afterTransition(ctx, model.EventPatientCalled, entry)
	return entry, nil
}

// Recall re-announces a CALLED patient: status is unchanged, only called_at
// moves and recall_count increments.
func (s *Service) Recall(ctx context.Context, id uuid.UUID) (*model.QueueEntry, error) {
	now := s.clock.Now()
	entry, err := s.repo.TryTransition(ctx, id,
		model.QueueStatusCalled, model.QueueStatusCalled,
		model.TransitionUpdate{
			CalledAt:   &now,
			BumpRecall: true,
		})
	if err != nil {
		return nil, s.conflictAsInvalidTransition(ctx, id, err, model.QueueStatusCalled)
	}

	s.afterTransition(ctx, model.EventPatientCalled, entry)
	return entry, nil
}

func (s *Service) MarkAttending(ctx context.Context, id uuid.UUID) (*model.QueueEntry, error) {
	now := s.clock.Now()
	entry, err := s.repo.TryTransition(ctx, id,
		model.QueueStatusCalled, model.QueueStatusAttending,
		model.TransitionUpdate{AttendingAt: &now})
	if err != nil {
		return nil, s.conflictAsInvalidTransition(ctx, id, err, model.QueueStatusAttending)
	}

	s.afterTransition(ctx, model.EventPatientAttending, entry)
	return entry, nil
}

func (s *Service) MarkCompleted(ctx context.Context, id uuid.UUID) (*model.QueueEntry, error) {
	now := s.clock.Now()
	entry, err := s.repo.TryTransition(ctx, id,
		model.QueueStatusAttending, model.QueueStatusCompleted,
		model.TransitionUpdate{CompletedAt: &now})
	if err != nil {
		return nil, s.conflictAsInvalidTransition(ctx, id, err, model.QueueStatusCompleted)
	}

	s.afterTransition(ctx, model.EventPatientCompleted, entry)
	return entry, nil
}

// MarkNoShow moves a WAITING or CALLED entry to the terminal NO_SHOW status.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID) (*model.QueueEntry, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(current.Status, model.QueueStatusNoShow) {
		return nil, s.rejected(apperrors.NewInvalidTransition(string(current.Status), string(model.QueueStatusNoShow)))
	}

	entry, err := s.repo.TryTransition(ctx, id,
		current.Status, model.QueueStatusNoShow,
		model.TransitionUpdate{})
	if err != nil {
		return nil, s.conflictAsInvalidTransition(ctx, id, err, model.QueueStatusNoShow)
	}

	s.afterTransition(ctx, model.EventPatientNoShow, entry)
	return entry, nil
}

// ChangeStatus is the generic operator override. It grants no extra edges:
// the request is validated against the same transition matrix, then routed
// through the matching operation so timestamps and events stay uniform.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, req *model.ChangeStatusRequest) (*model.QueueEntry, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(current.Status, req.Status) {
		return nil, s.rejected(apperrors.NewInvalidTransition(string(current.Status), string(req.Status)))
	}

	switch req.Status {
	case model.QueueStatusCalled:
		if current.Status == model.QueueStatusCalled {
			return s.Recall(ctx, id)
		}
		if req.ServicePoint == nil || *req.ServicePoint == "" {
			return nil, apperrors.NewBadRequest("service_point is required to call a patient", nil)
		}
		return s.CallSpecific(ctx, id, *req.ServicePoint)
	case model.QueueStatusAttending:
		return s.MarkAttending(ctx, id)
	case model.QueueStatusCompleted:
		return s.MarkCompleted(ctx, id)
	case model.QueueStatusNoShow:
		return s.MarkNoShow(ctx, id)
	default:
		return nil, s.rejected(apperrors.NewInvalidTransition(string(current.Status), string(req.Status)))
	}
}

// Get returns a single entry with waiting minutes derived at read time.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.QueueEntry, error) {
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.deriveWaitingMinutes(entry)
	return entry, nil
}

// ListToday returns today's entries, optionally filtered by doctor and
// status set.
func (s *Service) ListToday(ctx context.Context, filters model.QueueFilters) ([]*model.QueueEntry, error) {
	entries, err := s.repo.ListToday(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list today's entries: %w", err)
	}
	for _, entry := range entries {
		s.deriveWaitingMinutes(entry)
	}
	return entries, nil
}

// ListActive returns the CALLED and ATTENDING entries. The active-subset
// invariant lives here, server-side, so clients never re-derive it.
func (s *Service) ListActive(ctx context.Context, doctorID *uuid.UUID) ([]*model.QueueEntry, error) {
	return s.ListToday(ctx, model.QueueFilters{
		DoctorID: doctorID,
		Statuses: []model.QueueStatus{model.QueueStatusCalled, model.QueueStatusAttending},
	})
}

// ListDisplay returns the bounded list shown on waiting-room screens.
func (s *Service) ListDisplay(ctx context.Context, limit int) ([]*model.QueueEntry, error) {
	entries, err := s.ListToday(ctx, model.QueueFilters{
		Statuses: []model.QueueStatus{
			model.QueueStatusWaiting,
			model.QueueStatusCalled,
			model.QueueStatusAttending,
		},
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Service) deriveWaitingMinutes(entry *model.QueueEntry) {
	if entry.Status == model.QueueStatusWaiting {
		entry.WaitingMinutes = s.clock.Now().Sub(entry.CheckInTime).Minutes()
	}
}

// conflictAsInvalidTransition turns a lost compare-and-set into the
// INVALID_TRANSITION the operator can act on, naming the actual current
// status. NOT_FOUND and other errors pass through unchanged.
func (s *Service) conflictAsInvalidTransition(ctx context.Context, id uuid.UUID, err error, requested model.QueueStatus) error {
	if !apperrors.Is(err, apperrors.ErrConflict) {
		return err
	}
	if s.metrics != nil {
		s.metrics.CASConflicts.Inc()
	}
	current, getErr := s.repo.Get(ctx, id)
	if getErr != nil {
		return getErr
	}
	return s.rejected(apperrors.NewInvalidTransition(string(current.Status), string(requested)))
}

// rejected counts a refused transition attempt and passes the error through.
func (s *Service) rejected(err *apperrors.AppError) error {
	if s.metrics != nil {
		s.metrics.TransitionErrors.WithLabelValues(string(err.Code)).Inc()
	}
	return err
}

// afterTransition publishes the specific event plus the QUEUE_UPDATED and
// STATS_UPDATED companions. A failed transition never reaches here.
func (s *Service) afterTransition(ctx context.Context, eventType model.QueueEventType, entry *model.QueueEntry) {
	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(entry.Status)).Inc()
	}
	if s.publisher == nil {
		return
	}
	s.publisher.PublishEntryEvent(ctx, eventType, entry)
	s.publisher.PublishQueueUpdated(ctx, entry.DoctorID)

	stats, err := s.Stats(ctx)
	if err == nil {
		s.publisher.PublishStats(ctx, entry.DoctorID, stats)
	}
}
