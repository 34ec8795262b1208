package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/crmflow/crmflow/actions"
	"github.com/crmflow/crmflow/approver"
	"github.com/crmflow/crmflow/backend/metrics"
	"github.com/crmflow/crmflow/conditions"
	"github.com/crmflow/crmflow/core"
	"github.com/crmflow/crmflow/internal/log"
	"github.com/crmflow/crmflow/internal/metrickeys"
	"github.com/crmflow/crmflow/workflow"
)

// RunOutcome is the result of evaluating one definition against one
// triggering event.
type RunOutcome struct {
	DefinitionID      string `json:"definition_id"`
	DefinitionVersion int    `json:"definition_version"`

	// Triggered reports whether the trigger conditions passed.
	Triggered bool `json:"triggered"`

	// Evaluation is the condition trace; identical to what a dry run of the
	// same definition and record returns.
	Evaluation conditions.Result `json:"evaluation"`

	// RunID is set when an approval run was created.
	RunID string `json:"run_id,omitempty"`

	// Status is the immediate status: running for approval runs, completed
	// or failed for immediate types, empty when not triggered.
	Status workflow.RunStatus `json:"status,omitempty"`

	// ActionOutcomes are the on_completion results for immediate types.
	ActionOutcomes []actions.Outcome `json:"action_outcomes,omitempty"`
}

// ProcessEvent is the top-level entry point for record lifecycle events and
// schedule ticks. It loads the record snapshot and all active definitions
// matching the event, evaluates each and starts or executes the ones that
// pass.
func (e *Engine) ProcessEvent(ctx context.Context, event workflow.TriggerEvent, ref core.RecordRef) ([]RunOutcome, error) {
	record, err := e.records.GetRecord(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("loading record: %w", err)
	}

	catalog, err := e.records.GetFieldCatalog(ctx, ref.EntityType)
	if err != nil {
		return nil, fmt.Errorf("loading field catalog: %w", err)
	}

	defs, err := e.backend.ActiveDefinitions(ctx, ref.EntityType, event)
	if err != nil {
		return nil, fmt.Errorf("loading definitions: %w", err)
	}

	outcomes := make([]RunOutcome, 0, len(defs))

	for _, def := range defs {
		outcome, err := e.EvaluateDefinition(ctx, def, ref, record, catalog)
		if err != nil {
			return outcomes, err
		}

		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

// EvaluateDefinition evaluates a single definition against a record
// snapshot and, when the conditions pass, creates an approval run or
// dispatches the definition's on_completion actions.
func (e *Engine) EvaluateDefinition(ctx context.Context, def *workflow.Definition, ref core.RecordRef, record core.Record, catalog core.FieldCatalog) (RunOutcome, error) {
	ctx, span := e.tracer().Start(ctx, fmt.Sprintf("EvaluateDefinition: %s", def.Name), trace.WithAttributes(
		attribute.String(log.DefinitionIDKey, def.ID),
		attribute.String(log.WorkflowTypeKey, string(def.Type)),
		attribute.String(log.EntityTypeKey, ref.EntityType),
		attribute.String(log.RecordIDKey, ref.ID),
	))
	defer span.End()

	outcome := RunOutcome{
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
	}

	outcome.Evaluation = conditions.Evaluate(def.TriggerConditions, record, catalog)
	outcome.Triggered = outcome.Evaluation.Passed

	e.metrics().Counter(metrickeys.TriggerEvaluated, metrics.Tags{metrickeys.WorkflowType: string(def.Type)}, 1)

	if !outcome.Triggered {
		return outcome, nil
	}

	e.metrics().Counter(metrickeys.TriggerPassed, metrics.Tags{metrickeys.WorkflowType: string(def.Type)}, 1)

	if def.Type == workflow.TypeApproval {
		run, err := e.startRun(ctx, def, ref, record)
		if err != nil {
			return outcome, err
		}

		outcome.RunID = run.ID
		outcome.Status = run.Status

		return outcome, nil
	}

	// Immediate types execute their actions right away; no run persists
	// beyond the dispatch.
	outcome.ActionOutcomes = e.dispatcher.Dispatch(ctx, workflow.OnCompletion, def, ref, record)
	outcome.Status = workflow.RunCompleted

	if e.immediateDispatchFailed(def, outcome.ActionOutcomes) {
		outcome.Status = workflow.RunFailed
	}

	return outcome, nil
}

// immediateDispatchFailed applies the narrow run-failure policy: action
// failures are non-fatal warnings except when the workflow exists solely to
// perform that one action.
func (e *Engine) immediateDispatchFailed(def *workflow.Definition, outcomes []actions.Outcome) bool {
	if def.Type != workflow.TypeWebhook && def.Type != workflow.TypeNotification {
		return false
	}

	return len(outcomes) == 1 && !outcomes[0].Success
}

// DryRunResult is the non-committing preview of a definition against a
// record.
type DryRunResult struct {
	// Evaluation is produced by the same evaluator the live path uses, so
	// dry-run and live results for identical inputs are identical.
	Evaluation conditions.Result `json:"evaluation"`

	// StepApprovers are human-readable approver descriptions, one per
	// approval step, without live directory lookups.
	StepApprovers []string `json:"step_approvers,omitempty"`
}

// DryRun evaluates the definition's conditions against the record and
// previews approver resolution without creating a run or touching the
// directory.
func (e *Engine) DryRun(ctx context.Context, def *workflow.Definition, record core.Record, catalog core.FieldCatalog) DryRunResult {
	result := DryRunResult{
		Evaluation: conditions.Evaluate(def.TriggerConditions, record, catalog),
	}

	for _, step := range def.Steps {
		result.StepApprovers = append(result.StepApprovers, approver.Describe(step.Approver))
	}

	return result
}

func (e *Engine) runLogger(r *workflow.Run) *slog.Logger {
	return e.logger.With(
		slog.String(log.RunIDKey, r.ID),
		slog.String(log.DefinitionIDKey, r.DefinitionID),
		slog.String(log.EntityTypeKey, r.Record.EntityType),
		slog.String(log.RecordIDKey, r.Record.ID),
	)
}
