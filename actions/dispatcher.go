package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goerrors "github.com/go-errors/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/crmflow/crmflow/backend/metrics"
	"github.com/crmflow/crmflow/core"
	"github.com/crmflow/crmflow/internal/log"
	"github.com/crmflow/crmflow/internal/metrickeys"
	imetrics "github.com/crmflow/crmflow/internal/metrics"
	"github.com/crmflow/crmflow/workflow"
)

// Outcome is the result of executing one bound action.
type Outcome struct {
	Type  workflow.ActionType `json:"type"`
	Order int                 `json:"order"`

	Success bool `json:"success"`

	// Error is the failure message for unsuccessful actions.
	Error string `json:"error,omitempty"`
}

// Failed reports whether any outcome in the batch is unsuccessful.
func Failed(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if !o.Success {
			return true
		}
	}

	return false
}

// Dispatcher executes the actions bound to a trigger point, strictly in
// configured order. A failing action is recorded and does not abort the
// remaining actions: side effects here are best-effort business
// notifications, not run-critical state.
type Dispatcher struct {
	executors Executors

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics metrics.Client
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithTracerProvider(tp trace.TracerProvider) DispatcherOption {
	return func(d *Dispatcher) {
		d.tracer = tp.Tracer("crmflow")
	}
}

func WithMetrics(client metrics.Client) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = client
	}
}

// NewDispatcher creates a dispatcher over the given executors.
func NewDispatcher(executors Executors, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		executors: executors,
		logger:    slog.Default(),
		tracer:    noop.NewTracerProvider().Tracer("crmflow"),
		metrics:   imetrics.NewNoopMetricsClient(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Dispatch executes all actions bound to the trigger point against the
// record, in ascending order, and returns one outcome per action.
func (d *Dispatcher) Dispatch(ctx context.Context, tp workflow.TriggerPoint, def *workflow.Definition, ref core.RecordRef, record core.Record) []Outcome {
	bindings := def.BindingsFor(tp)
	if len(bindings) == 0 {
		return nil
	}

	ctx, span := d.tracer.Start(ctx, fmt.Sprintf("DispatchActions: %s", tp), trace.WithAttributes(
		attribute.String(log.DefinitionIDKey, def.ID),
		attribute.String(log.TriggerPointKey, string(tp)),
		attribute.Int("action_count", len(bindings)),
	))
	defer span.End()

	outcomes := make([]Outcome, 0, len(bindings))

	for _, b := range bindings {
		err := d.execute(ctx, b, ref, record)

		o := Outcome{Type: b.Type, Order: b.Order, Success: err == nil}

		if err != nil {
			o.Error = err.Error()

			d.logger.WarnContext(ctx, "action failed",
				slog.String(log.DefinitionIDKey, def.ID),
				slog.String(log.TriggerPointKey, string(tp)),
				slog.String(log.ActionTypeKey, string(b.Type)),
				slog.Int(log.ActionOrderKey, b.Order),
				slog.Any("error", err))

			d.metrics.Counter(metrickeys.ActionFailed, metrics.Tags{metrickeys.ActionType: string(b.Type)}, 1)
		}

		d.metrics.Counter(metrickeys.ActionDispatched, metrics.Tags{metrickeys.ActionType: string(b.Type)}, 1)

		outcomes = append(outcomes, o)
	}

	return outcomes
}

// execute runs a single action. Panics in executors are recovered into
// errors with stack traces so one misbehaving collaborator cannot take down
// the dispatch loop.
func (d *Dispatcher) execute(ctx context.Context, b workflow.ActionBinding, ref core.RecordRef, record core.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action executor panic: %w", goerrors.Wrap(r, 1))
		}
	}()

	switch b.Type {
	case workflow.ActionUpdateField:
		if d.executors.Records == nil {
			return errors.New("no record updater configured")
		}

		value := b.Value
		if s, ok := value.(string); ok {
			value = Interpolate(s, record)
		}

		return d.executors.Records.UpdateField(ctx, ref, b.Field, value)

	case workflow.ActionSendNotification:
		if d.executors.Notifications == nil {
			return errors.New("no notification sender configured")
		}

		return d.executors.Notifications.SendNotification(ctx, Notification{
			Recipient: b.Recipient,
			Message:   Interpolate(b.Template, record),
			Record:    ref,
		})

	case workflow.ActionCreateActivity:
		if d.executors.Activities == nil {
			return errors.New("no activity logger configured")
		}

		return d.executors.Activities.CreateActivity(ctx, ref, b.ActivityType, Interpolate(b.Description, record))

	case workflow.ActionTriggerWebhook:
		if d.executors.Webhooks == nil {
			return errors.New("no webhook caller configured")
		}

		return d.executors.Webhooks.CallWebhook(ctx, WebhookRequest{
			URL:     b.URL,
			Method:  b.Method,
			Headers: b.Headers,
			Body:    Interpolate(b.Body, record),
		})

	case workflow.ActionRunWorkflow:
		if d.executors.Workflows == nil {
			return errors.New("no workflow invoker configured")
		}

		return d.executors.Workflows.RunWorkflow(ctx, b.WorkflowID, ref)

	case workflow.ActionAssignUser:
		if d.executors.Assignments == nil {
			return errors.New("no assignment service configured")
		}

		return d.executors.Assignments.AssignUser(ctx, ref, b.AssignStrategy, b.AssignTarget)

	case workflow.ActionCreateTask:
		if d.executors.Tasks == nil {
			return errors.New("no task creator configured")
		}

		return d.executors.Tasks.CreateTask(ctx, Task{
			Title:       Interpolate(b.TaskTitle, record),
			Description: Interpolate(b.TaskDescription, record),
			DueInDays:   b.TaskDueInDays,
			Assignee:    b.TaskAssignee,
			Record:      ref,
		})

	default:
		return fmt.Errorf("unknown action type %q", b.Type)
	}
}
