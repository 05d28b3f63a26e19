package schedules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/reelcast-backend/pkg/enums"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to enums.ScheduleState
		want     bool
	}{
		{enums.ScheduleStateScheduled, enums.ScheduleStateDueNow, true},
		{enums.ScheduleStateDueNow, enums.ScheduleStatePublishing, true},
		{enums.ScheduleStatePublishing, enums.ScheduleStateCompleted, true},
		{enums.ScheduleStatePublishing, enums.ScheduleStatePartiallyFailed, true},
		{enums.ScheduleStatePublishing, enums.ScheduleStateFailed, true},
		{enums.ScheduleStateScheduled, enums.ScheduleStateCanceled, true},
		{enums.ScheduleStateDueNow, enums.ScheduleStateCanceled, true},
		{enums.ScheduleStateUnscheduled, enums.ScheduleStatePublishing, true},
		{enums.ScheduleStateScheduled, enums.ScheduleStatePublishing, false},
		{enums.ScheduleStatePublishing, enums.ScheduleStateCanceled, false},
		{enums.ScheduleStatePublishing, enums.ScheduleStateScheduled, false},
		{enums.ScheduleStateFailed, enums.ScheduleStateScheduled, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, from := range enums.ScheduleStates() {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range enums.ScheduleStates() {
			assert.False(t, CanTransition(from, to), "%s must not leave to %s", from, to)
		}
	}
}

func TestResolveOutcome(t *testing.T) {
	pub, fail := enums.PublishStatusPublished, enums.PublishStatusFailed
	assert.Equal(t, enums.ScheduleStateCompleted, ResolveOutcome([]enums.PublishStatus{pub, pub, pub}))
	assert.Equal(t, enums.ScheduleStatePartiallyFailed, ResolveOutcome([]enums.PublishStatus{pub, fail, pub}))
	assert.Equal(t, enums.ScheduleStateFailed, ResolveOutcome([]enums.PublishStatus{fail, fail}))
	assert.Equal(t, enums.ScheduleStateFailed, ResolveOutcome(nil))
	assert.Equal(t, enums.ScheduleStateCompleted, ResolveOutcome([]enums.PublishStatus{pub}))
}

func TestPredecessors(t *testing.T) {
	assert.ElementsMatch(t,
		[]enums.ScheduleState{enums.ScheduleStateUnscheduled, enums.ScheduleStateDueNow},
		Predecessors(enums.ScheduleStatePublishing))
	assert.True(t, Cancelable(enums.ScheduleStateScheduled))
	assert.False(t, Cancelable(enums.ScheduleStatePublishing))
}
