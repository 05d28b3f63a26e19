// Package schedules persists schedule entries and owns their state machine.
package schedules

import (
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
)

var transitions = map[enums.ScheduleState][]enums.ScheduleState{
	enums.ScheduleStateUnscheduled: {
		enums.ScheduleStateScheduled,
		enums.ScheduleStateDueNow,
		enums.ScheduleStatePublishing,
		enums.ScheduleStateCanceled,
	},
	enums.ScheduleStateScheduled: {
		enums.ScheduleStateDueNow,
		enums.ScheduleStateCanceled,
	},
	enums.ScheduleStateDueNow: {
		enums.ScheduleStatePublishing,
		enums.ScheduleStateCanceled,
	},
	enums.ScheduleStatePublishing: {
		enums.ScheduleStateCompleted,
		enums.ScheduleStatePartiallyFailed,
		enums.ScheduleStateFailed,
	},
}

// CanTransition reports whether an entry may move from one state to another.
// Terminal states have no outgoing edges.
func CanTransition(from, to enums.ScheduleState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Predecessors lists every state that may move into to.
func Predecessors(to enums.ScheduleState) []enums.ScheduleState {
	var out []enums.ScheduleState
	for _, from := range enums.ScheduleStates() {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Cancelable reports whether a user may still cancel an entry in state.
func Cancelable(state enums.ScheduleState) bool {
	return CanTransition(state, enums.ScheduleStateCanceled)
}

// ResolveOutcome maps the per-target statuses of one publish attempt to the entry's
// final state: all published is completed, none published is failed, otherwise
// partially_failed. An empty set is failed.
func ResolveOutcome(statuses []enums.PublishStatus) enums.ScheduleState {
	published := 0
	for _, status := range statuses {
		if status == enums.PublishStatusPublished {
			published++
		}
	}
	switch {
	case len(statuses) > 0 && published == len(statuses):
		return enums.ScheduleStateCompleted
	case published == 0:
		return enums.ScheduleStateFailed
	default:
		return enums.ScheduleStatePartiallyFailed
	}
}
