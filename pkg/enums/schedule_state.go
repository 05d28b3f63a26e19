package enums

import "fmt"

// ScheduleState maps to the schedule_state enum in Postgres.
type ScheduleState string

const (
	ScheduleStateUnscheduled     ScheduleState = "unscheduled"
	ScheduleStateScheduled       ScheduleState = "scheduled"
	ScheduleStateDueNow          ScheduleState = "due_now"
	ScheduleStatePublishing      ScheduleState = "publishing"
	ScheduleStateCompleted       ScheduleState = "completed"
	ScheduleStatePartiallyFailed ScheduleState = "partially_failed"
	ScheduleStateFailed          ScheduleState = "failed"
	ScheduleStateCanceled        ScheduleState = "canceled"
)

var validScheduleStates = []ScheduleState{
	ScheduleStateUnscheduled,
	ScheduleStateScheduled,
	ScheduleStateDueNow,
	ScheduleStatePublishing,
	ScheduleStateCompleted,
	ScheduleStatePartiallyFailed,
	ScheduleStateFailed,
	ScheduleStateCanceled,
}

// ScheduleStates returns every state in declaration order.
func ScheduleStates() []ScheduleState {
	out := make([]ScheduleState, len(validScheduleStates))
	copy(out, validScheduleStates)
	return out
}

func (s ScheduleState) String() string {
	return string(s)
}

// IsValid reports whether the value matches the canonical schedule_state enum.
func (s ScheduleState) IsValid() bool {
	for _, candidate := range validScheduleStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition may leave the state.
func (s ScheduleState) IsTerminal() bool {
	switch s {
	case ScheduleStateCompleted, ScheduleStatePartiallyFailed, ScheduleStateFailed, ScheduleStateCanceled:
		return true
	default:
		return false
	}
}

// ParseScheduleState converts raw input into ScheduleState.
func ParseScheduleState(value string) (ScheduleState, error) {
	for _, candidate := range validScheduleStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid schedule state %q", value)
}
