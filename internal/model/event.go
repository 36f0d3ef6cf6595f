package model

import (
	"encoding/json"
	"time"
)

type QueueEventType string

const (
	EventPatientCheckedIn QueueEventType = "PATIENT_CHECKED_IN"
	EventPatientCalled    QueueEventType = "PATIENT_CALLED"
	EventPatientAttending QueueEventType = "PATIENT_ATTENDING"
	EventPatientCompleted QueueEventType = "PATIENT_COMPLETED"
	EventPatientNoShow    QueueEventType = "PATIENT_NO_SHOW"
	EventQueueUpdated     QueueEventType = "QUEUE_UPDATED"
	EventStatsUpdated     QueueEventType = "STATS_UPDATED"
)

// RoomDisplay is the shared room for public waiting-room screens. Doctor
// consoles and reception desks join DoctorRoom(id) instead.
const RoomDisplay = "display"

func DoctorRoom(doctorID string) string {
	return "doctor:" + doctorID
}

// QueueEvent is the wire format pushed to subscribed rooms. Entry is set for
// patient-specific events, Stats for STATS_UPDATED; QUEUE_UPDATED carries
// neither and is a hint to re-read ordering-sensitive views.
type QueueEvent struct {
	Type       QueueEventType `json:"type"`
	Rooms      []string       `json:"rooms"`
	Entry      *QueueEntry    `json:"entry,omitempty"`
	Stats      *QueueStats    `json:"stats,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func (e *QueueEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
