package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/crmflow/crmflow/actions"
	"github.com/crmflow/crmflow/approver"
	"github.com/crmflow/crmflow/backend"
	"github.com/crmflow/crmflow/backend/memory"
	"github.com/crmflow/crmflow/core"
	"github.com/crmflow/crmflow/timer"
	"github.com/crmflow/crmflow/workflow"
)

type fakeRecordStore struct {
	records map[string]core.Record
	catalog core.FieldCatalog
}

func (s *fakeRecordStore) GetRecord(ctx context.Context, ref core.RecordRef) (core.Record, error) {
	r, ok := s.records[ref.ID]
	if !ok {
		return nil, errors.New("record not found")
	}
	return r, nil
}

func (s *fakeRecordStore) GetFieldCatalog(ctx context.Context, entityType string) (core.FieldCatalog, error) {
	return s.catalog, nil
}

func (s *fakeRecordStore) UpdateField(ctx context.Context, ref core.RecordRef, field string, value any) error {
	s.records[ref.ID][field] = value
	return nil
}

type fakeDirectory struct {
	owners map[string]string
}

func (d *fakeDirectory) OwnerOf(ctx context.Context, ref core.RecordRef) (string, error) {
	return d.owners[ref.ID], nil
}

func (d *fakeDirectory) ManagerOf(ctx context.Context, userID string) (string, error) {
	return "", nil
}

func (d *fakeDirectory) PodManagerOf(ctx context.Context, ref core.RecordRef) (string, error) {
	return "", nil
}

func (d *fakeDirectory) UsersInRole(ctx context.Context, role string) ([]string, error) {
	return nil, nil
}

// fakeSender records each notification it is asked to deliver.
type fakeSender struct {
	sent []actions.Notification
	err  error
}

func (f *fakeSender) SendNotification(ctx context.Context, n actions.Notification) error {
	f.sent = append(f.sent, n)
	return f.err
}

func (f *fakeSender) recipients() []string {
	var out []string
	for _, n := range f.sent {
		out = append(out, n.Recipient)
	}
	return out
}

type testEnv struct {
	engine     *Engine
	backend    backend.Backend
	clock      *clock.Mock
	store      *fakeRecordStore
	dispatched *fakeSender
	reminders  *fakeSender
}

var testRef = core.RecordRef{EntityType: "deal", ID: "deal-1"}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mc := clock.NewMock()

	store := &fakeRecordStore{
		records: map[string]core.Record{
			"deal-1": {"amount": 5000.0, "stage": "negotiation"},
		},
		catalog: core.FieldCatalog{
			"amount": {Name: "amount", Type: core.FieldTypeNumber},
			"stage":  {Name: "stage", Type: core.FieldTypeSelect},
		},
	}

	dispatched := &fakeSender{}
	reminders := &fakeSender{}

	b := memory.NewMemoryBackend()

	resolver := approver.NewResolver(&fakeDirectory{owners: map[string]string{"deal-1": "owner-1"}}, nil, nil)
	dispatcher := actions.NewDispatcher(actions.Executors{
		Records:       store,
		Notifications: dispatched,
	})

	e := New(b, store, resolver, dispatcher,
		WithClock(mc),
		WithReminderSender(reminders))

	return &testEnv{
		engine:     e,
		backend:    b,
		clock:      mc,
		store:      store,
		dispatched: dispatched,
		reminders:  reminders,
	}
}

// notifyAt binds a notification action whose recipient names the trigger
// point, so tests can observe dispatch order through the fake sender.
func notifyAt(tp workflow.TriggerPoint) workflow.ActionBinding {
	return workflow.ActionBinding{
		TriggerPoint: tp,
		Order:        1,
		Type:         workflow.ActionSendNotification,
		Recipient:    string(tp),
	}
}

func approvalDefinition(steps ...workflow.ApprovalStep) *workflow.Definition {
	return &workflow.Definition{
		ID:           "wf-approval",
		Version:      1,
		Name:         "Large deal approval",
		EntityType:   "deal",
		Type:         workflow.TypeApproval,
		TriggerEvent: workflow.TriggerRecordUpdated,
		TriggerConditions: workflow.ConditionTree{
			Logic: workflow.LogicAnd,
			Conditions: []workflow.Condition{
				{Field: "amount", Operator: workflow.OpGt, Value: 1000},
			},
		},
		Steps:  steps,
		Status: workflow.StatusDraft,
		Actions: []workflow.ActionBinding{
			notifyAt(workflow.OnStart),
			notifyAt(workflow.OnApproval),
			notifyAt(workflow.OnRejection),
			notifyAt(workflow.OnCancellation),
			notifyAt(workflow.OnTimeout),
			notifyAt(workflow.OnEachStep),
		},
	}
}

func step(order int, action workflow.TimeoutAction) workflow.ApprovalStep {
	return workflow.ApprovalStep{
		Order:           order,
		Approver:        workflow.ApproverSpec{Type: workflow.ApproverSpecificUser, UserID: fmt.Sprintf("approver-%d", order)},
		TimeoutDuration: 24,
		TimeoutUnit:     workflow.UnitHours,
		TimeoutAction:   action,
	}
}

func (env *testEnv) activate(t *testing.T, def *workflow.Definition) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, env.backend.CreateDefinition(ctx, def))
	require.NoError(t, env.backend.SetDefinitionStatus(ctx, def.ID, def.Version, workflow.StatusActive))
}

// startRun triggers the definition through ProcessEvent and returns the
// created run id.
func (env *testEnv) startRun(t *testing.T, def *workflow.Definition) string {
	t.Helper()

	env.activate(t, def)

	outcomes, err := env.engine.ProcessEvent(context.Background(), workflow.TriggerRecordUpdated, testRef)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.True(t, outcomes[0].Triggered)
	require.NotEmpty(t, outcomes[0].RunID)

	return outcomes[0].RunID
}

func (env *testEnv) getRun(t *testing.T, runID string) *workflow.Run {
	t.Helper()

	run, err := env.backend.GetRun(context.Background(), runID)
	require.NoError(t, err)

	return run
}

func Test_ProcessEvent_StartsApprovalRun(t *testing.T) {
	env := newTestEnv(t)

	runID := env.startRun(t, approvalDefinition(step(1, workflow.TimeoutEscalate), step(2, workflow.TimeoutEscalate)))

	run := env.getRun(t, runID)
	require.Equal(t, workflow.RunRunning, run.Status)
	require.Equal(t, 0, run.CurrentStep)
	require.Equal(t, "approver-1", run.CurrentApprover)
	require.Equal(t, testRef, run.Record)

	require.Equal(t, []string{string(workflow.OnStart)}, env.dispatched.recipients())
}

func Test_ProcessEvent_ConditionsNotMet(t *testing.T) {
	env := newTestEnv(t)
	env.store.records["deal-1"]["amount"] = 500.0

	env.activate(t, approvalDefinition(step(1, workflow.TimeoutEscalate)))

	outcomes, err := env.engine.ProcessEvent(context.Background(), workflow.TriggerRecordUpdated, testRef)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.False(t, outcomes[0].Triggered)
	require.Empty(t, outcomes[0].RunID)

	runs, err := env.backend.RunsForRecord(context.Background(), testRef)
	require.NoError(t, err)
	require.Empty(t, runs)
}

func Test_Approve_AdvancesThroughSteps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	runID := env.startRun(t, approvalDefinition(
		step(1, workflow.TimeoutEscalate),
		step(2, workflow.TimeoutEscalate),
		step(3, workflow.TimeoutEscalate),
	))

	require.NoError(t, env.engine.Approve(ctx, runID, "approver-1", "lgtm"))

	run := env.getRun(t, runID)
	require.Equal(t, workflow.RunRunning, run.Status)
	require.Equal(t, 1, run.CurrentStep)
	require.Equal(t, "approver-2", run.CurrentApprover)

	require.NoError(t, env.engine.Approve(ctx, runID, "approver-2", ""))
	require.NoError(t, env.engine.Approve(ctx, runID, "approver-3", ""))

	run = env.getRun(t, runID)
	require.Equal(t, workflow.RunApproved, run.Status)
	require.Empty(t, run.CurrentApprover)
	require.NotNil(t, run.CompletedAt)

	require.Len(t, run.Outcomes, 3)
	for i, o := range run.Outcomes {
		require.Equal(t, i, o.StepIndex)
		require.Equal(t, workflow.StepApproved, o.Result)
	}
	require.Equal(t, "approver-1", run.Outcomes[0].Actor)
	require.Equal(t, "lgtm", run.Outcomes[0].Comment)

	require.Equal(t, []string{
		string(workflow.OnStart),
		string(workflow.OnEachStep),
		string(workflow.OnEachStep),
		string(workflow.OnApproval),
	}, env.dispatched.recipients())
}

func Test_Reject_TerminatesRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	runID := env.startRun(t, approvalDefinition(
		step(1, workflow.TimeoutEscalate),
		step(2, workflow.TimeoutEscalate),
	))

	require.NoError(t, env.engine.Reject(ctx, runID, "approver-1", "too expensive"))

	run := env.getRun(t, runID)
	require.Equal(t, workflow.RunRejected, run.Status)
	require.Len(t, run.Outcomes, 1)
	require.Equal(t, workflow.StepRejected, run.Outcomes[0].Result)

	require.Equal(t, []string{
		string(workflow.OnStart),
		string(workflow.OnRejection),
	}, env.dispatched.recipients())

	// Decisions against a finished run are rejected.
	require.ErrorIs(t, env.engine.Approve(ctx, runID, "approver-2", ""), ErrRunFinished)
	require.ErrorIs(t, env.engine.Reject(ctx, runID, "approver-2", ""), ErrRunFinished)
}

func Test_Cancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	runID := env.startRun(t, approvalDefinition(step(1, workflow.TimeoutEscalate)))

	require.NoError(t, env.engine.Cancel(ctx, runID, "admin-1", "record deleted"))

	run := env.getRun(t, runID)
	require.Equal(t, workflow.RunCancelled, run.Status)
	require.Len(t, run.Outcomes, 1)
	require.Equal(t, workflow.StepSkipped, run.Outcomes[0].Result)

	require.Equal(t, []string{
		string(workflow.OnStart),
		string(workflow.OnCancellation),
	}, env.dispatched.recipients())

	require.ErrorIs(t, env.engine.Cancel(ctx, runID, "admin-1", "again"), ErrRunFinished)
}

func Test_Timeout_Escalate(t *testing.T) {
	env := newTestEnv(t)

	runID := env.startRun(t, approvalDefinition(
		step(1, workflow.TimeoutEscalate),
		step(2, workflow.TimeoutEscalate),
	))

	env.clock.Add(24 * time.Hour)

	run := env.getRun(t, runID)
	require.Equal(t, workflow.RunRunning, run.Status)
	require.Equal(t, 1, run.CurrentStep)
	require.Equal(t, "approver-2", run.CurrentApprover)

	require.Len(t, run.Outcomes, 1)
	require.Equal(t, workflow.StepEscalated, run.Outcomes[0].Result)
	require.Equal(t, "system", run.Outcomes[0].Actor)

	require.Equal(t, []string{
		string(workflow.OnStart),
		string(workflow.OnTimeout),
		string(workflow.OnEachStep),
	}, env.dispatched.recipients())
}

func Test_Timeout_AutoApprove(t *testing.T) {
	env := newTestEnv(t)

	runID := env.startRun(t, approvalDefinition(
		step(1, workflow.TimeoutAutoApprove),
		step(2, workflow.TimeoutEscalate),
	))

	env.clock.Add(24 * time.Hour)

	run := env.getRun(t, runID)
	require.Equal(t, workflow.RunRunning, run.Status)
	require.Equal(t, 1, run.CurrentStep)
	require.Equal(t, workflow.StepApproved, run.Outcomes[0].Result)
}

func Test_Timeout_AutoApprove_LastStepFinishesRun(t *testing.T) {
	env := newTestEnv(t)

	runID := env.startRun(t, approvalDefinition(step(1, workflow.TimeoutAutoApprove)))

	env.clock.Add(24 * time.Hour)

	run := env.getRun(t, runID)
	require.Equal(t, workflow.RunApproved, run.Status)

	require.Equal(t, []string{
		string(workflow.OnStart),
		string(workflow.OnTimeout),
		string(workflow.OnApproval),
	}, env.dispatched.recipients())
}

func Test_Timeout_AutoReject(t *testing.T) {
	env := newTestEnv(t)

	runID := env.startRun(t, approvalDefinition(
		step(1, workflow.TimeoutAutoReject),
		step(2, workflow.TimeoutEscalate),
	))

	env.clock.Add(24 * time.Hour)

	run := env.getRun(t, runID)
	require.Equal(t, workflow.RunRejected, run.Status)
	require.Equal(t, workflow.StepRejected, run.Outcomes[0].Result)

	require.Equal(t, []string{
		string(workflow.OnStart),
		string(workflow.OnTimeout),
		string(workflow.OnRejection),
	}, env.dispatched.recipients())
}

func Test_Timeout_ReminderAction(t *testing.T) {
	env := newTestEnv(t)

	runID := env.startRun(t, approvalDefinition(
		step(1, workflow.TimeoutReminder),
		step(2, workflow.TimeoutEscalate),
	))

	env.clock.Add(24 * time.Hour)

	// The step stays pending and a reminder goes to the approver.
	run := env.getRun(t, runID)
	require.Equal(t, workflow.RunRunning, run.Status)
	require.Equal(t, 0, run.CurrentStep)
	require.Empty(t, run.Outcomes)

	require.Equal(t, []string{"approver-1"}, env.reminders.recipients())
	require.Equal(t, []string{
		string(workflow.OnStart),
		string(workflow.OnTimeout),
	}, env.dispatched.recipients())

	// The deadline is not re-armed; nothing more fires.
	env.clock.Add(48 * time.Hour)
	require.Len(t, env.reminders.sent, 1)
}

func Test_Timeout_Nothing(t *testing.T) {
	env := newTestEnv(t)

	runID := env.startRun(t, approvalDefinition(
		step(1, workflow.TimeoutNothing),
		step(2, workflow.TimeoutEscalate),
	))

	env.clock.Add(48 * time.Hour)

	run := env.getRun(t, runID)
	require.Equal(t, workflow.RunRunning, run.Status)
	require.Equal(t, 0, run.CurrentStep)
	require.Empty(t, run.Outcomes)

	// No on_timeout actions fire for the nothing policy.
	require.Equal(t, []string{string(workflow.OnStart)}, env.dispatched.recipients())
}

func Test_Reminder_PrecedesTimeout(t *testing.T) {
	env := newTestEnv(t)

	s := step(1, workflow.TimeoutEscalate)
	s.ReminderEnabled = true
	s.ReminderPercent = 50

	runID := env.startRun(t, approvalDefinition(s, step(2, workflow.TimeoutEscalate)))

	// Half the 24 hour timeout in, the reminder fires; the step is still
	// pending.
	env.clock.Add(12 * time.Hour)

	run := env.getRun(t, runID)
	require.Equal(t, 0, run.CurrentStep)
	require.Equal(t, []string{"approver-1"}, env.reminders.recipients())

	env.clock.Add(12 * time.Hour)

	run = env.getRun(t, runID)
	require.Equal(t, 1, run.CurrentStep)
	require.Len(t, env.reminders.sent, 1)
}

func Test_Reminder_SkippedAtFullPercent(t *testing.T) {
	env := newTestEnv(t)

	s := step(1, workflow.TimeoutEscalate)
	s.ReminderEnabled = true
	s.ReminderPercent = 100

	env.startRun(t, approvalDefinition(s, step(2, workflow.TimeoutEscalate)))

	env.clock.Add(24 * time.Hour)

	require.Empty(t, env.reminders.sent)
}

func Test_Reminder_CancelledByDecision(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	s := step(1, workflow.TimeoutEscalate)
	s.ReminderEnabled = true
	s.ReminderPercent = 50

	runID := env.startRun(t, approvalDefinition(s, step(2, workflow.TimeoutEscalate)))

	require.NoError(t, env.engine.Approve(ctx, runID, "approver-1", ""))

	env.clock.Add(12 * time.Hour)

	require.Empty(t, env.reminders.sent)
}

func Test_HandleTimer_StaleWakeupIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	runID := env.startRun(t, approvalDefinition(
		step(1, workflow.TimeoutAutoReject),
		step(2, workflow.TimeoutEscalate),
	))

	require.NoError(t, env.engine.Approve(ctx, runID, "approver-1", ""))

	before := env.getRun(t, runID)

	// A duplicate delivery of the step-0 timeout arrives after the step was
	// already decided.
	env.engine.HandleTimer(ctx, timer.Timer{RunID: runID, StepIndex: 0, Kind: timer.KindTimeout})

	after := env.getRun(t, runID)
	require.Equal(t, before, after)
}

func Test_HandleTimer_FinishedRunIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	runID := env.startRun(t, approvalDefinition(step(1, workflow.TimeoutAutoApprove)))

	require.NoError(t, env.engine.Reject(ctx, runID, "approver-1", ""))

	env.engine.HandleTimer(ctx, timer.Timer{RunID: runID, StepIndex: 0, Kind: timer.KindTimeout})

	run := env.getRun(t, runID)
	require.Equal(t, workflow.RunRejected, run.Status)
}

func Test_ImmediateType_DispatchesOnCompletion(t *testing.T) {
	env := newTestEnv(t)

	def := &workflow.Definition{
		ID:           "wf-field",
		Version:      1,
		Name:         "Stamp stage",
		EntityType:   "deal",
		Type:         workflow.TypeFieldAuto,
		TriggerEvent: workflow.TriggerRecordUpdated,
		Status:       workflow.StatusDraft,
		Actions: []workflow.ActionBinding{
			{TriggerPoint: workflow.OnCompletion, Order: 1, Type: workflow.ActionUpdateField, Field: "stage", Value: "review"},
		},
	}

	env.activate(t, def)

	outcomes, err := env.engine.ProcessEvent(context.Background(), workflow.TriggerRecordUpdated, testRef)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	require.True(t, outcomes[0].Triggered)
	require.Empty(t, outcomes[0].RunID)
	require.Equal(t, workflow.RunCompleted, outcomes[0].Status)
	require.Len(t, outcomes[0].ActionOutcomes, 1)

	require.Equal(t, "review", env.store.records["deal-1"]["stage"])
}

func Test_ImmediateType_FailurePolicy(t *testing.T) {
	env := newTestEnv(t)

	// A webhook workflow whose single action fails is itself failed; no
	// webhook caller is configured, so the action always errors.
	webhookDef := &workflow.Definition{
		ID:           "wf-hook",
		Version:      1,
		EntityType:   "deal",
		Type:         workflow.TypeWebhook,
		TriggerEvent: workflow.TriggerRecordUpdated,
		Status:       workflow.StatusDraft,
		Actions: []workflow.ActionBinding{
			{TriggerPoint: workflow.OnCompletion, Order: 1, Type: workflow.ActionTriggerWebhook, URL: "https://example.com"},
		},
	}

	env.activate(t, webhookDef)

	outcomes, err := env.engine.ProcessEvent(context.Background(), workflow.TriggerRecordUpdated, testRef)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.Equal(t, workflow.RunFailed, outcomes[0].Status)
}

func Test_ImmediateType_MixedActionsStayCompleted(t *testing.T) {
	env := newTestEnv(t)

	// For non-webhook, non-notification types a failing action is a warning,
	// not a run failure.
	def := &workflow.Definition{
		ID:           "wf-field-2",
		Version:      1,
		EntityType:   "deal",
		Type:         workflow.TypeFieldAuto,
		TriggerEvent: workflow.TriggerRecordUpdated,
		Status:       workflow.StatusDraft,
		Actions: []workflow.ActionBinding{
			{TriggerPoint: workflow.OnCompletion, Order: 1, Type: workflow.ActionTriggerWebhook, URL: "https://example.com"},
			{TriggerPoint: workflow.OnCompletion, Order: 2, Type: workflow.ActionUpdateField, Field: "stage", Value: "review"},
		},
	}

	env.activate(t, def)

	outcomes, err := env.engine.ProcessEvent(context.Background(), workflow.TriggerRecordUpdated, testRef)
	require.NoError(t, err)
	require.Equal(t, workflow.RunCompleted, outcomes[0].Status)
	require.True(t, actions.Failed(outcomes[0].ActionOutcomes))
}

func Test_DryRun_MatchesLiveEvaluation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := approvalDefinition(step(1, workflow.TimeoutEscalate))
	env.activate(t, def)

	record, err := env.store.GetRecord(ctx, testRef)
	require.NoError(t, err)

	dry := env.engine.DryRun(ctx, def, record, env.store.catalog)

	outcomes, err := env.engine.ProcessEvent(ctx, workflow.TriggerRecordUpdated, testRef)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	// The dry-run trace is identical to the live one for the same inputs.
	require.Equal(t, dry.Evaluation, outcomes[0].Evaluation)
	require.Equal(t, []string{"User approver-1"}, dry.StepApprovers)
}

func Test_MultipleDefinitions_IndependentOutcomes(t *testing.T) {
	env := newTestEnv(t)

	matching := approvalDefinition(step(1, workflow.TimeoutEscalate))

	nonMatching := approvalDefinition(step(1, workflow.TimeoutEscalate))
	nonMatching.ID = "wf-approval-high"
	nonMatching.TriggerConditions = workflow.ConditionTree{
		Logic: workflow.LogicAnd,
		Conditions: []workflow.Condition{
			{Field: "amount", Operator: workflow.OpGt, Value: 100000},
		},
	}

	env.activate(t, matching)
	env.activate(t, nonMatching)

	outcomes, err := env.engine.ProcessEvent(context.Background(), workflow.TriggerRecordUpdated, testRef)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	byID := map[string]RunOutcome{}
	for _, o := range outcomes {
		byID[o.DefinitionID] = o
	}

	require.True(t, byID["wf-approval"].Triggered)
	require.NotEmpty(t, byID["wf-approval"].RunID)
	require.False(t, byID["wf-approval-high"].Triggered)
}
