// Package test provides a reusable conformance suite run against every
// backend implementation.
package test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/crmflow/crmflow/backend"
	"github.com/crmflow/crmflow/core"
	"github.com/crmflow/crmflow/workflow"
)

var testTime = time.Date(2024, time.March, 4, 12, 0, 0, 0, time.UTC)

// testDefinition builds a definition with a fresh id. Field values stay
// JSON-stable so document-storing backends round-trip them unchanged.
func testDefinition() *workflow.Definition {
	return &workflow.Definition{
		ID:           uuid.NewString(),
		Version:      1,
		OrgID:        "org-1",
		Name:         "Large deal approval",
		Type:         workflow.TypeApproval,
		EntityType:   "deal",
		TriggerEvent: workflow.TriggerRecordUpdated,
		TriggerConditions: workflow.ConditionTree{
			Logic: workflow.LogicAnd,
			Conditions: []workflow.Condition{
				{Field: "amount", Operator: workflow.OpGt, Value: 1000.0},
			},
		},
		Steps: []workflow.ApprovalStep{
			{
				Order:           1,
				Approver:        workflow.ApproverSpec{Type: workflow.ApproverRecordOwner},
				TimeoutDuration: 24,
				TimeoutUnit:     workflow.UnitHours,
				TimeoutAction:   workflow.TimeoutEscalate,
				ReminderEnabled: true,
				ReminderPercent: 50,
			},
		},
		Actions: []workflow.ActionBinding{
			{
				TriggerPoint: workflow.OnApproval,
				Order:        1,
				Type:         workflow.ActionTriggerWebhook,
				URL:          "https://example.com/hook",
				Method:       "POST",
				Headers:      map[string]string{"Authorization": "Bearer token"},
				Body:         `{"deal":"{{name}}"}`,
			},
		},
		Status:    workflow.StatusDraft,
		CreatedAt: testTime,
		UpdatedAt: testTime,
	}
}

func testRun(def *workflow.Definition, recordID string) *workflow.Run {
	return &workflow.Run{
		ID:                uuid.NewString(),
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		Record:            core.RecordRef{EntityType: "deal", ID: recordID},
		Status:            workflow.RunRunning,
		CurrentStep:       0,
		CurrentApprover:   "user-1",
		StartedAt:         testTime,
	}
}

// BackendTest runs the backend conformance suite. setup must return a fresh
// or at least isolated backend; teardown may be nil to just Close it.
func BackendTest(t *testing.T, setup func() backend.Backend, teardown func(b backend.Backend)) {
	tests := []struct {
		name string
		f    func(t *testing.T, ctx context.Context, b backend.Backend)
	}{
		{"GetDefinition_NotFound", func(t *testing.T, ctx context.Context, b backend.Backend) {
			_, err := b.GetDefinition(ctx, uuid.NewString(), 1)
			require.ErrorIs(t, err, backend.ErrDefinitionNotFound)
		}},

		{"CreateDefinition_RoundTrip", func(t *testing.T, ctx context.Context, b backend.Backend) {
			def := testDefinition()
			require.NoError(t, b.CreateDefinition(ctx, def))

			got, err := b.GetDefinition(ctx, def.ID, def.Version)
			require.NoError(t, err)
			require.Equal(t, def, got)
		}},

		{"CreateDefinition_RejectsNonDraft", func(t *testing.T, ctx context.Context, b backend.Backend) {
			def := testDefinition()
			def.Status = workflow.StatusActive

			require.ErrorIs(t, b.CreateDefinition(ctx, def), workflow.ErrNotDraft)
		}},

		{"CreateDefinition_Duplicate", func(t *testing.T, ctx context.Context, b backend.Backend) {
			def := testDefinition()
			require.NoError(t, b.CreateDefinition(ctx, def))
			require.ErrorIs(t, b.CreateDefinition(ctx, def), backend.ErrDefinitionAlreadyExists)
		}},

		{"CreateDefinition_VersionsAreDistinct", func(t *testing.T, ctx context.Context, b backend.Backend) {
			def := testDefinition()
			require.NoError(t, b.CreateDefinition(ctx, def))

			v2 := def.NewDraftVersion()
			require.NoError(t, b.CreateDefinition(ctx, v2))

			got, err := b.GetDefinition(ctx, def.ID, 2)
			require.NoError(t, err)
			require.Equal(t, 2, got.Version)
		}},

		{"SetDefinitionStatus", func(t *testing.T, ctx context.Context, b backend.Backend) {
			def := testDefinition()
			require.NoError(t, b.CreateDefinition(ctx, def))

			require.NoError(t, b.SetDefinitionStatus(ctx, def.ID, def.Version, workflow.StatusActive))

			got, err := b.GetDefinition(ctx, def.ID, def.Version)
			require.NoError(t, err)
			require.Equal(t, workflow.StatusActive, got.Status)
		}},

		{"SetDefinitionStatus_NotFound", func(t *testing.T, ctx context.Context, b backend.Backend) {
			err := b.SetDefinitionStatus(ctx, uuid.NewString(), 1, workflow.StatusActive)
			require.ErrorIs(t, err, backend.ErrDefinitionNotFound)
		}},

		{"ActiveDefinitions", func(t *testing.T, ctx context.Context, b backend.Backend) {
			active := testDefinition()
			require.NoError(t, b.CreateDefinition(ctx, active))
			require.NoError(t, b.SetDefinitionStatus(ctx, active.ID, active.Version, workflow.StatusActive))

			v2 := active.NewDraftVersion()
			require.NoError(t, b.CreateDefinition(ctx, v2))
			require.NoError(t, b.SetDefinitionStatus(ctx, v2.ID, v2.Version, workflow.StatusActive))

			// Still a draft; must not appear.
			draft := testDefinition()
			require.NoError(t, b.CreateDefinition(ctx, draft))

			// Different entity type; must not appear.
			other := testDefinition()
			other.EntityType = "contact"
			require.NoError(t, b.CreateDefinition(ctx, other))
			require.NoError(t, b.SetDefinitionStatus(ctx, other.ID, other.Version, workflow.StatusActive))

			defs, err := b.ActiveDefinitions(ctx, "deal", workflow.TriggerRecordUpdated)
			require.NoError(t, err)

			var found []int
			for _, d := range defs {
				require.Equal(t, "deal", d.EntityType)
				require.Equal(t, workflow.StatusActive, d.Status)
				require.NotEqual(t, draft.ID, d.ID)

				if d.ID == active.ID {
					found = append(found, d.Version)
				}
			}

			// Both active versions, in version order.
			require.Equal(t, []int{1, 2}, found)
		}},

		{"Run_RoundTrip", func(t *testing.T, ctx context.Context, b backend.Backend) {
			def := testDefinition()
			run := testRun(def, uuid.NewString())

			require.NoError(t, b.CreateRun(ctx, run))

			got, err := b.GetRun(ctx, run.ID)
			require.NoError(t, err)
			require.Equal(t, run, got)
		}},

		{"CreateRun_Duplicate", func(t *testing.T, ctx context.Context, b backend.Backend) {
			run := testRun(testDefinition(), uuid.NewString())

			require.NoError(t, b.CreateRun(ctx, run))
			require.ErrorIs(t, b.CreateRun(ctx, run), backend.ErrRunAlreadyExists)
		}},

		{"GetRun_NotFound", func(t *testing.T, ctx context.Context, b backend.Backend) {
			_, err := b.GetRun(ctx, uuid.NewString())
			require.ErrorIs(t, err, backend.ErrRunNotFound)
		}},

		{"UpdateRun", func(t *testing.T, ctx context.Context, b backend.Backend) {
			run := testRun(testDefinition(), uuid.NewString())
			require.NoError(t, b.CreateRun(ctx, run))

			completed := testTime.Add(time.Hour)
			run.Status = workflow.RunApproved
			run.CurrentApprover = ""
			run.CompletedAt = &completed
			run.Outcomes = []workflow.StepOutcome{
				{StepIndex: 0, Result: workflow.StepApproved, Actor: "user-1", At: completed, Comment: "ok"},
			}

			require.NoError(t, b.UpdateRun(ctx, run))

			got, err := b.GetRun(ctx, run.ID)
			require.NoError(t, err)
			require.Equal(t, run, got)
		}},

		{"UpdateRun_NotFound", func(t *testing.T, ctx context.Context, b backend.Backend) {
			run := testRun(testDefinition(), uuid.NewString())
			require.ErrorIs(t, b.UpdateRun(ctx, run), backend.ErrRunNotFound)
		}},

		{"RunsForRecord", func(t *testing.T, ctx context.Context, b backend.Backend) {
			def := testDefinition()
			recordID := uuid.NewString()

			older := testRun(def, recordID)
			newer := testRun(def, recordID)
			newer.StartedAt = testTime.Add(time.Hour)

			unrelated := testRun(def, uuid.NewString())

			require.NoError(t, b.CreateRun(ctx, older))
			require.NoError(t, b.CreateRun(ctx, newer))
			require.NoError(t, b.CreateRun(ctx, unrelated))

			runs, err := b.RunsForRecord(ctx, core.RecordRef{EntityType: "deal", ID: recordID})
			require.NoError(t, err)

			require.Len(t, runs, 2)
			require.Equal(t, newer.ID, runs[0].ID)
			require.Equal(t, older.ID, runs[1].ID)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := setup()
			t.Cleanup(func() {
				if teardown != nil {
					teardown(b)
					return
				}

				require.NoError(t, b.Close())
			})

			tt.f(t, context.Background(), b)
		})
	}
}
