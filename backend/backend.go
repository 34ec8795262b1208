package backend

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"

	"github.com/crmflow/crmflow/backend/metrics"
	"github.com/crmflow/crmflow/core"
	"github.com/crmflow/crmflow/workflow"
)

var (
	ErrDefinitionNotFound      = errors.New("workflow definition not found")
	ErrDefinitionAlreadyExists = errors.New("workflow definition already exists")
	ErrRunNotFound             = errors.New("workflow run not found")
	ErrRunAlreadyExists        = errors.New("workflow run already exists")
)

const TracerName = "crmflow"

// Backend persists workflow definitions and runs.
//
// Definitions are immutable documents: there is deliberately no update
// operation. Editing a non-draft definition means creating a new (id,
// version) draft via Definition.NewDraftVersion and CreateDefinition; the
// only mutable definition attribute is the lifecycle status.
type Backend interface {
	// CreateDefinition stores a new draft definition. It fails with
	// ErrDefinitionAlreadyExists if the (id, version) pair is taken and with
	// workflow.ErrNotDraft if the definition's status is not draft.
	CreateDefinition(ctx context.Context, d *workflow.Definition) error

	// GetDefinition returns the definition with the given id and version.
	GetDefinition(ctx context.Context, id string, version int) (*workflow.Definition, error)

	// ActiveDefinitions returns all active definitions watching the given
	// entity type and trigger event.
	ActiveDefinitions(ctx context.Context, entityType string, event workflow.TriggerEvent) ([]*workflow.Definition, error)

	// SetDefinitionStatus changes a definition's lifecycle status.
	SetDefinitionStatus(ctx context.Context, id string, version int, status workflow.Status) error

	// CreateRun stores a new run.
	CreateRun(ctx context.Context, r *workflow.Run) error

	// GetRun returns the run with the given id.
	GetRun(ctx context.Context, id string) (*workflow.Run, error)

	// UpdateRun persists the run's current state.
	UpdateRun(ctx context.Context, r *workflow.Run) error

	// RunsForRecord returns all runs targeting the given record, newest
	// first.
	RunsForRecord(ctx context.Context, ref core.RecordRef) ([]*workflow.Run, error)

	// Tracer returns the tracer configured for this backend.
	Tracer() trace.Tracer

	// Metrics returns the metrics client configured for this backend.
	Metrics() metrics.Client

	// Options returns the configured options for the backend.
	Options() *Options

	// Close closes any underlying resources.
	Close() error
}
