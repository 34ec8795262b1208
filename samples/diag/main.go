package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/crmflow/crmflow/actions"
	"github.com/crmflow/crmflow/approver"
	"github.com/crmflow/crmflow/backend"
	"github.com/crmflow/crmflow/backend/sqlite"
	"github.com/crmflow/crmflow/core"
	"github.com/crmflow/crmflow/diag"
	"github.com/crmflow/crmflow/engine"
	"github.com/crmflow/crmflow/workflow"
)

// Serves the diagnostics API on :8090 over a sqlite backend with one
// definition, so dry runs can be tried with curl:
//
//	curl -X POST localhost:8090/dry-run -d '{"definition_id": "discount-approval", "definition_version": 1, "record": {"discount": 25}}'
func main() {
	ctx := context.Background()

	b, err := sqlite.NewSqliteBackend("diag-sample.sqlite")
	if err != nil {
		panic(err)
	}

	store := &staticStore{}

	e := engine.New(b, store,
		approver.NewResolver(staticDirectory{}, nil, nil),
		actions.NewDispatcher(actions.Executors{}))

	def := &workflow.Definition{
		ID:           "discount-approval",
		Version:      1,
		Name:         "Discount approval",
		Type:         workflow.TypeApproval,
		EntityType:   "quote",
		TriggerEvent: workflow.TriggerFieldChanged,
		TriggerConditions: workflow.ConditionTree{
			Logic: workflow.LogicAnd,
			Conditions: []workflow.Condition{
				{Field: "discount", Operator: workflow.OpGt, Value: 20.0},
			},
		},
		Steps: []workflow.ApprovalStep{
			{
				Order:           1,
				Approver:        workflow.ApproverSpec{Type: workflow.ApproverOwnersManager},
				TimeoutDuration: 8,
				TimeoutUnit:     workflow.UnitBusinessHours,
				TimeoutAction:   workflow.TimeoutEscalate,
			},
		},
		Status: workflow.StatusDraft,
	}

	// Idempotent on restart against an existing database.
	if err := b.CreateDefinition(ctx, def); err != nil && !errors.Is(err, backend.ErrDefinitionAlreadyExists) {
		panic(err)
	}

	fmt.Println("Serving diagnostics on :8090")

	if err := http.ListenAndServe(":8090", diag.NewHandler(e, b, store)); err != nil {
		panic(err)
	}
}

type staticStore struct{}

func (staticStore) GetRecord(ctx context.Context, ref core.RecordRef) (core.Record, error) {
	return core.Record{"discount": 25.0, "owner": "rep-1"}, nil
}

func (staticStore) GetFieldCatalog(ctx context.Context, entityType string) (core.FieldCatalog, error) {
	return core.FieldCatalog{
		"discount": {Name: "discount", Type: core.FieldTypeNumber},
		"owner":    {Name: "owner", Type: core.FieldTypeUser},
	}, nil
}

func (staticStore) UpdateField(ctx context.Context, ref core.RecordRef, field string, value any) error {
	return nil
}

type staticDirectory struct{}

func (staticDirectory) OwnerOf(ctx context.Context, ref core.RecordRef) (string, error) {
	return "rep-1", nil
}

func (staticDirectory) ManagerOf(ctx context.Context, userID string) (string, error) {
	return "sales-manager", nil
}

func (staticDirectory) PodManagerOf(ctx context.Context, ref core.RecordRef) (string, error) {
	return "", nil
}

func (staticDirectory) UsersInRole(ctx context.Context, role string) ([]string, error) {
	return nil, nil
}
