package model

import (
	"time"

	"github.com/google/uuid"
)

type QueueStatus string

const (
	QueueStatusWaiting   QueueStatus = "WAITING"
	QueueStatusCalled    QueueStatus = "CALLED"
	QueueStatusAttending QueueStatus = "ATTENDING"
	QueueStatusCompleted QueueStatus = "COMPLETED"
	QueueStatusNoShow    QueueStatus = "NO_SHOW"
)

// Terminal reports whether no further transitions are accepted from s.
func (s QueueStatus) Terminal() bool {
	return s == QueueStatusCompleted || s == QueueStatusNoShow
}

// Active reports whether the entry still occupies a live slot in the queue.
func (s QueueStatus) Active() bool {
	return s == QueueStatusWaiting || s == QueueStatusCalled || s == QueueStatusAttending
}

func ValidQueueStatus(s QueueStatus) bool {
	switch s {
	case QueueStatusWaiting, QueueStatusCalled, QueueStatusAttending,
		QueueStatusCompleted, QueueStatusNoShow:
		return true
	}
	return false
}

// QueueEntry is one patient's visit-in-progress. Entries are created at
// check-in and only ever transitioned, never deleted; terminal entries are
// retained for the day's stats and audit.
type QueueEntry struct {
	ID            uuid.UUID   `db:"id" json:"id"`
	PatientID     uuid.UUID   `db:"patient_id" json:"patient_id"`
	PatientName   string      `db:"patient_name" json:"patient_name"`
	DoctorID      uuid.UUID   `db:"doctor_id" json:"doctor_id"`
	ServicePoint  *string     `db:"service_point" json:"service_point,omitempty"`
	OverturnID    *uuid.UUID  `db:"overturn_id" json:"overturn_id,omitempty"`
	ScheduledTime *time.Time  `db:"scheduled_time" json:"scheduled_time,omitempty"`
	CheckInTime   time.Time   `db:"check_in_time" json:"check_in_time"`
	CalledAt      *time.Time  `db:"called_at" json:"called_at,omitempty"`
	AttendingAt   *time.Time  `db:"attending_at" json:"attending_at,omitempty"`
	CompletedAt   *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
	RecallCount   int         `db:"recall_count" json:"recall_count"`
	Status        QueueStatus `db:"status" json:"status"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`

	// WaitingMinutes is derived at the read boundary (now - CheckInTime for
	// WAITING entries), never stored.
	WaitingMinutes float64 `db:"-" json:"waiting_minutes,omitempty"`
}

// TransitionUpdate carries the field changes that accompany a status
// transition. Only the fields relevant to the target status are set; the
// store applies them together with the compare-and-set.
type TransitionUpdate struct {
	ServicePoint *string
	CalledAt     *time.Time
	AttendingAt  *time.Time
	CompletedAt  *time.Time
	BumpRecall   bool
}

// QueueStats is derived from the day's entries on demand and never persisted.
type QueueStats struct {
	WaitingCount      int     `json:"waiting_count"`
	CalledCount       int     `json:"called_count"`
	AttendingCount    int     `json:"attending_count"`
	CompletedToday    int     `json:"completed_today"`
	NoShowToday       int     `json:"no_show_today"`
	AvgWaitMinsToday  float64 `json:"avg_wait_minutes_today"`
}

type CheckInRequest struct {
	PatientID     uuid.UUID  `json:"patient_id" binding:"required"`
	PatientName   string     `json:"patient_name" binding:"required,max=200"`
	DoctorID      uuid.UUID  `json:"doctor_id" binding:"required"`
	ScheduledTime *time.Time `json:"scheduled_time"`
	OverturnID    *uuid.UUID `json:"overturn_id"`
}

type CallNextRequest struct {
	DoctorID     uuid.UUID `json:"doctor_id" binding:"required"`
	ServicePoint string    `json:"service_point" binding:"required,max=100"`
}

type CallSpecificRequest struct {
	ServicePoint string `json:"service_point" binding:"required,max=100"`
}

type ChangeStatusRequest struct {
	Status       QueueStatus `json:"status" binding:"required,queuestatus"`
	ServicePoint *string     `json:"service_point"`
}

type QueueFilters struct {
	DoctorID *uuid.UUID
	Statuses []QueueStatus
}
