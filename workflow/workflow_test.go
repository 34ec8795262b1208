package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_NewDraftVersion(t *testing.T) {
	d := validApproval()
	d.Status = StatusActive
	d.Schedule = &ScheduleSpec{CronExpression: "0 9 * * *"}

	draft := d.NewDraftVersion()

	require.Equal(t, d.ID, draft.ID)
	require.Equal(t, d.Version+1, draft.Version)
	require.Equal(t, StatusDraft, draft.Status)

	// The clone must not share mutable state with the activated original.
	draft.Steps[0].TimeoutDuration = 99
	draft.Schedule.CronExpression = "changed"

	require.Equal(t, 24, d.Steps[0].TimeoutDuration)
	require.Equal(t, "0 9 * * *", d.Schedule.CronExpression)
}

func Test_BindingsFor_Ordering(t *testing.T) {
	d := &Definition{
		Actions: []ActionBinding{
			{TriggerPoint: OnApproval, Order: 2, Type: ActionSendNotification},
			{TriggerPoint: OnRejection, Order: 1, Type: ActionCreateActivity},
			{TriggerPoint: OnApproval, Order: 1, Type: ActionUpdateField},
			{TriggerPoint: OnApproval, Order: 3, Type: ActionTriggerWebhook},
		},
	}

	bound := d.BindingsFor(OnApproval)

	require.Len(t, bound, 3)
	require.Equal(t, ActionUpdateField, bound[0].Type)
	require.Equal(t, ActionSendNotification, bound[1].Type)
	require.Equal(t, ActionTriggerWebhook, bound[2].Type)

	require.Empty(t, d.BindingsFor(OnTimeout))
}

func Test_RunStatus_Terminal(t *testing.T) {
	require.False(t, RunRunning.Terminal())

	for _, s := range []RunStatus{RunApproved, RunRejected, RunCancelled, RunCompleted, RunFailed} {
		require.True(t, s.Terminal(), string(s))
	}
}

func Test_Run_DecidedStep(t *testing.T) {
	r := &Run{
		Outcomes: []StepOutcome{
			{StepIndex: 0, Result: StepApproved},
		},
	}

	require.True(t, r.DecidedStep(0))
	require.False(t, r.DecidedStep(1))
}
