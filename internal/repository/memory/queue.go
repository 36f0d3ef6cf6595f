package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/queue-api/internal/model"
	"github.com/clinicore/queue-api/internal/repository"
	apperrors "github.com/clinicore/queue-api/pkg/errors"
)

// queueRepository is an in-memory QueueRepository with the same semantics as
// the postgres one. Used in tests and in single-node mode where restart
// durability is not required.
type queueRepository struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*model.QueueEntry
	now     func() time.Time
}

func NewQueueRepository() repository.QueueRepository {
	return NewQueueRepositoryWithClock(time.Now)
}

func NewQueueRepositoryWithClock(now func() time.Time) repository.QueueRepository {
	return &queueRepository{
		entries: make(map[uuid.UUID]*model.QueueEntry),
		now:     now,
	}
}

func (r *queueRepository) Create(ctx context.Context, entry *model.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if entry.CheckInTime.IsZero() {
		entry.CheckInTime = now
	}

	for _, existing := range r.entries {
		if existing.PatientID == entry.PatientID &&
			existing.DoctorID == entry.DoctorID &&
			existing.Status.Active() &&
			sameDay(existing.CheckInTime, entry.CheckInTime) {
			return apperrors.NewConflict("patient already has an active visit for this doctor today", nil)
		}
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.Status = model.QueueStatusWaiting
	entry.CreatedAt = now
	entry.UpdatedAt = now

	stored := *entry
	r.entries[entry.ID] = &stored
	return nil
}

func (r *queueRepository) Get(ctx context.Context, id uuid.UUID) (*model.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, apperrors.NewNotFound("queue entry", nil)
	}
	copied := *entry
	return &copied, nil
}

func (r *queueRepository) TryTransition(ctx context.Context, id uuid.UUID, expected, target model.QueueStatus, upd model.TransitionUpdate) (*model.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, apperrors.NewNotFound("queue entry", nil)
	}
	if entry.Status != expected {
		return nil, apperrors.NewConflict(
			fmt.Sprintf("entry is %s, expected %s", entry.Status, expected), nil)
	}

	entry.Status = target
	if upd.ServicePoint != nil {
		sp := *upd.ServicePoint
		entry.ServicePoint = &sp
	}
	if upd.CalledAt != nil {
		t := *upd.CalledAt
		entry.CalledAt = &t
	}
	if upd.AttendingAt != nil {
		t := *upd.AttendingAt
		entry.AttendingAt = &t
	}
	if upd.CompletedAt != nil {
		t := *upd.CompletedAt
		entry.CompletedAt = &t
	}
	if upd.BumpRecall {
		entry.RecallCount++
	}
	entry.UpdatedAt = r.now()

	copied := *entry
	return &copied, nil
}

func (r *queueRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, statuses []model.QueueStatus) ([]*model.QueueEntry, error) {
	filters := model.QueueFilters{DoctorID: &doctorID, Statuses: statuses}
	return r.ListToday(ctx, filters)
}

func (r *queueRepository) ListToday(ctx context.Context, filters model.QueueFilters) ([]*model.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	today := r.now()
	result := []*model.QueueEntry{}
	for _, entry := range r.entries {
		if !sameDay(entry.CheckInTime, today) {
			continue
		}
		if filters.DoctorID != nil && entry.DoctorID != *filters.DoctorID {
			continue
		}
		if len(filters.Statuses) > 0 && !statusIn(entry.Status, filters.Statuses) {
			continue
		}
		copied := *entry
		result = append(result, &copied)
	}

	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		switch {
		case a.ScheduledTime == nil && b.ScheduledTime == nil:
			return a.CheckInTime.Before(b.CheckInTime)
		case a.ScheduledTime == nil:
			return false
		case b.ScheduledTime == nil:
			return true
		case a.ScheduledTime.Equal(*b.ScheduledTime):
			return a.CheckInTime.Before(b.CheckInTime)
		default:
			return a.ScheduledTime.Before(*b.ScheduledTime)
		}
	})

	return result, nil
}

func statusIn(s model.QueueStatus, statuses []model.QueueStatus) bool {
	for _, candidate := range statuses {
		if s == candidate {
			return true
		}
	}
	return false
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
