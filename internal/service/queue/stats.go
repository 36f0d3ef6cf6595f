package queue

import (
	"context"
	"fmt"

	"github.com/clinicore/queue-api/internal/model"
)

// Stats derives the day's aggregates from a fresh snapshot. Purely a
// read-side view; recomputed on every call rather than incrementally
// maintained, since entry volume per day is small.
func (s *Service) Stats(ctx context.Context) (*model.QueueStats, error) {
	entries, err := s.repo.ListToday(ctx, model.QueueFilters{})
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot today's entries: %w", err)
	}
	return ComputeStats(entries), nil
}

// ComputeStats is the pure aggregation over a snapshot. avg_wait_minutes
// covers entries called today (called_at - check_in_time); entries never
// called are excluded from the mean.
func ComputeStats(entries []*model.QueueEntry) *model.QueueStats {
	stats := &model.QueueStats{}
	var waitSum float64
	var waitCount int

	for _, entry := range entries {
		switch entry.Status {
		case model.QueueStatusWaiting:
			stats.WaitingCount++
		case model.QueueStatusCalled:
			stats.CalledCount++
		case model.QueueStatusAttending:
			stats.AttendingCount++
		case model.QueueStatusCompleted:
			stats.CompletedToday++
		case model.QueueStatusNoShow:
			stats.NoShowToday++
		}

		if entry.CalledAt != nil {
			waitSum += entry.CalledAt.Sub(entry.CheckInTime).Minutes()
			waitCount++
		}
	}

	if waitCount > 0 {
		stats.AvgWaitMinsToday = waitSum / float64(waitCount)
	}
	return stats
}
