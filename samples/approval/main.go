package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/crmflow/crmflow/actions"
	"github.com/crmflow/crmflow/approver"
	"github.com/crmflow/crmflow/backend/memory"
	"github.com/crmflow/crmflow/core"
	"github.com/crmflow/crmflow/engine"
	"github.com/crmflow/crmflow/workflow"
)

// A minimal embedding: an in-memory backend, a two-step approval workflow
// and a record that trips it.
func main() {
	ctx := context.Background()

	b := memory.NewMemoryBackend()
	store := newDemoStore()

	e := engine.New(b, store,
		approver.NewResolver(demoDirectory{}, nil, nil),
		actions.NewDispatcher(actions.Executors{
			Records:       store,
			Notifications: consoleNotifier{},
		}))

	def := &workflow.Definition{
		ID:           "large-deal-approval",
		Version:      1,
		Name:         "Large deal approval",
		Type:         workflow.TypeApproval,
		EntityType:   "deal",
		TriggerEvent: workflow.TriggerRecordUpdated,
		TriggerConditions: workflow.ConditionTree{
			Logic: workflow.LogicAnd,
			Conditions: []workflow.Condition{
				{Field: "amount", Operator: workflow.OpGt, Value: 10000.0},
			},
		},
		Steps: []workflow.ApprovalStep{
			{
				Order:           1,
				Approver:        workflow.ApproverSpec{Type: workflow.ApproverRecordOwner},
				TimeoutDuration: 24,
				TimeoutUnit:     workflow.UnitHours,
				TimeoutAction:   workflow.TimeoutEscalate,
			},
			{
				Order:           2,
				Approver:        workflow.ApproverSpec{Type: workflow.ApproverSpecificUser, UserID: "cfo"},
				TimeoutDuration: 2,
				TimeoutUnit:     workflow.UnitBusinessDays,
				TimeoutAction:   workflow.TimeoutAutoReject,
			},
		},
		Actions: []workflow.ActionBinding{
			{
				TriggerPoint: workflow.OnApproval,
				Order:        1,
				Type:         workflow.ActionUpdateField,
				Field:        "stage",
				Value:        "approved",
			},
			{
				TriggerPoint: workflow.OnApproval,
				Order:        2,
				Type:         workflow.ActionSendNotification,
				Recipient:    "owner",
				Template:     "Deal {{name}} was approved",
			},
		},
		Status: workflow.StatusDraft,
	}

	catalog, _ := store.GetFieldCatalog(ctx, "deal")
	if err := workflow.Validate(def, catalog); err != nil {
		panic(err)
	}

	if err := b.CreateDefinition(ctx, def); err != nil {
		panic(err)
	}

	if err := b.SetDefinitionStatus(ctx, def.ID, def.Version, workflow.StatusActive); err != nil {
		panic(err)
	}

	ref := core.RecordRef{EntityType: "deal", ID: "deal-1"}

	outcomes, err := e.ProcessEvent(ctx, workflow.TriggerRecordUpdated, ref)
	if err != nil {
		panic(err)
	}

	runID := outcomes[0].RunID
	fmt.Println("Started run", runID)

	if err := e.Approve(ctx, runID, "owner-1", "within budget"); err != nil {
		panic(err)
	}

	if err := e.Approve(ctx, runID, "cfo", ""); err != nil {
		panic(err)
	}

	run, err := b.GetRun(ctx, runID)
	if err != nil {
		panic(err)
	}

	fmt.Println("Run finished:", run.Status)

	record, _ := store.GetRecord(ctx, ref)
	fmt.Println("Deal stage:", record["stage"])
}

type demoStore struct {
	records map[string]core.Record
}

func newDemoStore() *demoStore {
	return &demoStore{
		records: map[string]core.Record{
			"deal-1": {"name": "Acme renewal", "amount": 50000.0, "stage": "negotiation"},
		},
	}
}

func (s *demoStore) GetRecord(ctx context.Context, ref core.RecordRef) (core.Record, error) {
	r, ok := s.records[ref.ID]
	if !ok {
		return nil, errors.New("record not found")
	}
	return r, nil
}

func (s *demoStore) GetFieldCatalog(ctx context.Context, entityType string) (core.FieldCatalog, error) {
	return core.FieldCatalog{
		"name":   {Name: "name", Type: core.FieldTypeText},
		"amount": {Name: "amount", Type: core.FieldTypeNumber},
		"stage":  {Name: "stage", Type: core.FieldTypeSelect, Options: []string{"negotiation", "approved"}},
	}, nil
}

func (s *demoStore) UpdateField(ctx context.Context, ref core.RecordRef, field string, value any) error {
	s.records[ref.ID][field] = value
	return nil
}

type demoDirectory struct{}

func (demoDirectory) OwnerOf(ctx context.Context, ref core.RecordRef) (string, error) {
	return "owner-1", nil
}

func (demoDirectory) ManagerOf(ctx context.Context, userID string) (string, error) {
	return "manager-1", nil
}

func (demoDirectory) PodManagerOf(ctx context.Context, ref core.RecordRef) (string, error) {
	return "pod-manager-1", nil
}

func (demoDirectory) UsersInRole(ctx context.Context, role string) ([]string, error) {
	return nil, nil
}

type consoleNotifier struct{}

func (consoleNotifier) SendNotification(ctx context.Context, n actions.Notification) error {
	fmt.Printf("notify %s: %s\n", n.Recipient, n.Message)
	return nil
}
