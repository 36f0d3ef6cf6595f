package queue

import "github.com/clinicore/queue-api/internal/model"

// transitionMap is the full set of allowed status edges. CALLED -> CALLED is
// the recall edge: same target status, only called_at and recall_count move.
// COMPLETED and NO_SHOW are terminal and have no outgoing edges.
var transitionMap = map[model.QueueStatus][]model.QueueStatus{
	model.QueueStatusWaiting: {
		model.QueueStatusCalled,
		model.QueueStatusNoShow,
	},
	model.QueueStatusCalled: {
		model.QueueStatusAttending,
		model.QueueStatusNoShow,
		model.QueueStatusCalled,
	},
	model.QueueStatusAttending: {
		model.QueueStatusCompleted,
	},
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to model.QueueStatus) bool {
	for _, allowed := range transitionMap[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
