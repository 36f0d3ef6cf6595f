package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/clinicore/queue-api/internal/model"
	"github.com/clinicore/queue-api/internal/repository"
	apperrors "github.com/clinicore/queue-api/pkg/errors"
)

const queueColumns = `id, patient_id, patient_name, doctor_id, service_point, overturn_id,
	scheduled_time, check_in_time, called_at, attending_at, completed_at,
	recall_count, status, created_at, updated_at`

// Stable call ordering: earliest planned time first, entries without a
// planned time (overturns) last, earliest check-in as tiebreak.
const queueOrdering = ` ORDER BY scheduled_time ASC NULLS LAST, check_in_time ASC`

type queueRepository struct {
	db *sqlx.DB
}

func NewQueueRepository(db *sqlx.DB) repository.QueueRepository {
	return &queueRepository{db: db}
}

func (r *queueRepository) Create(ctx context.Context, entry *model.QueueEntry) error {
	query := `
		INSERT INTO queue_entries (
			id, patient_id, patient_name, doctor_id, overturn_id,
			scheduled_time, check_in_time, recall_count, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	now := time.Now()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CheckInTime.IsZero() {
		entry.CheckInTime = now
	}
	entry.Status = model.QueueStatusWaiting
	entry.CreatedAt = now
	entry.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.PatientID,
		entry.PatientName,
		entry.DoctorID,
		entry.OverturnID,
		entry.ScheduledTime,
		entry.CheckInTime,
		entry.RecallCount,
		entry.Status,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		// unique_violation on the one-active-visit partial index
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return apperrors.NewConflict("patient already has an active visit for this doctor today", err)
		}
		return fmt.Errorf("failed to create queue entry: %w", err)
	}
	return nil
}

func (r *queueRepository) Get(ctx context.Context, id uuid.UUID) (*model.QueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_entries WHERE id = $1`

	var entry model.QueueEntry
	err := r.db.GetContext(ctx, &entry, query, id)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("queue entry", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return &entry, nil
}

func (r *queueRepository) TryTransition(ctx context.Context, id uuid.UUID, expected, target model.QueueStatus, upd model.TransitionUpdate) (*model.QueueEntry, error) {
	recallDelta := 0
	if upd.BumpRecall {
		recallDelta = 1
	}

	query := `
		UPDATE queue_entries SET
			status = $3,
			service_point = COALESCE($4, service_point),
			called_at = COALESCE($5, called_at),
			attending_at = COALESCE($6, attending_at),
			completed_at = COALESCE($7, completed_at),
			recall_count = recall_count + $8,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + queueColumns

	var entry model.QueueEntry
	err := r.db.GetContext(ctx, &entry, query,
		id,
		expected,
		target,
		upd.ServicePoint,
		upd.CalledAt,
		upd.AttendingAt,
		upd.CompletedAt,
		recallDelta,
	)
	if err == sql.ErrNoRows {
		// Distinguish a lost race from an unknown id.
		var current model.QueueStatus
		checkErr := r.db.GetContext(ctx, &current, `SELECT status FROM queue_entries WHERE id = $1`, id)
		if checkErr == sql.ErrNoRows {
			return nil, apperrors.NewNotFound("queue entry", checkErr)
		}
		if checkErr != nil {
			return nil, fmt.Errorf("failed to check queue entry status: %w", checkErr)
		}
		return nil, apperrors.NewConflict(
			fmt.Sprintf("entry is %s, expected %s", current, expected), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition queue entry: %w", err)
	}
	return &entry, nil
}

func (r *queueRepository) ListByDoctor(ctx context.Context, doctorID uuid.UUID, statuses []model.QueueStatus) ([]*model.QueueEntry, error) {
	query := `SELECT ` + queueColumns + `
		FROM queue_entries
		WHERE doctor_id = $1
		AND check_in_time::date = CURRENT_DATE`
	args := []interface{}{doctorID}

	if len(statuses) > 0 {
		query += " AND status = ANY($2)"
		args = append(args, pq.Array(statusStrings(statuses)))
	}
	query += queueOrdering

	entries := []*model.QueueEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}
	return entries, nil
}

func (r *queueRepository) ListToday(ctx context.Context, filters model.QueueFilters) ([]*model.QueueEntry, error) {
	query := `SELECT ` + queueColumns + `
		FROM queue_entries
		WHERE check_in_time::date = CURRENT_DATE`
	args := []interface{}{}
	argCount := 1

	if filters.DoctorID != nil {
		query += fmt.Sprintf(" AND doctor_id = $%d", argCount)
		args = append(args, *filters.DoctorID)
		argCount++
	}
	if len(filters.Statuses) > 0 {
		query += fmt.Sprintf(" AND status = ANY($%d)", argCount)
		args = append(args, pq.Array(statusStrings(filters.Statuses)))
	}
	query += queueOrdering

	entries := []*model.QueueEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list today's queue entries: %w", err)
	}
	return entries, nil
}

func statusStrings(statuses []model.QueueStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
