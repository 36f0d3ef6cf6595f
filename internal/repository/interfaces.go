package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/queue-api/internal/model"
)

// QueueRepository is the canonical home of queue entries. TryTransition is
// the only primitive capable of mutating status; everything else is reads
// plus check-in creation.
type QueueRepository interface {
	// Create inserts a new WAITING entry. Returns CONFLICT when the patient
	// already has an active entry for the same doctor today.
	Create(ctx context.Context, entry *model.QueueEntry) error

	Get(ctx context.Context, id uuid.UUID) (*model.QueueEntry, error)

	// TryTransition succeeds only if the entry's status equals expected at
	// the moment of the attempt; otherwise it fails atomically with CONFLICT
	// and no partial writes.
	TryTransition(ctx context.Context, id uuid.UUID, expected, target model.QueueStatus, upd model.TransitionUpdate) (*model.QueueEntry, error)

	// ListByDoctor returns today's entries for a doctor filtered by status,
	// ordered by scheduled_time ascending (nulls last), check_in_time
	// ascending as tiebreak.
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, statuses []model.QueueStatus) ([]*model.QueueEntry, error)

	// ListToday returns today's entries across all doctors, optionally
	// filtered.
	ListToday(ctx context.Context, filters model.QueueFilters) ([]*model.QueueEntry, error)
}

// OutboxRepository parks events that could not be published at commit time.
type OutboxRepository interface {
	Create(ctx context.Context, event *model.OutboxEvent) error
	GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	// IncrementRetry keeps the event pending and bumps its retry counter.
	IncrementRetry(ctx context.Context, id uuid.UUID, errMessage string) error
	// MarkFailed is terminal; the event will not be retried again.
	MarkFailed(ctx context.Context, id uuid.UUID, errMessage string) error
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}
