// Package memory provides an in-memory backend for tests and embedding.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/crmflow/crmflow/backend"
	"github.com/crmflow/crmflow/backend/metrics"
	"github.com/crmflow/crmflow/core"
	"github.com/crmflow/crmflow/workflow"
)

type memoryBackend struct {
	mu sync.RWMutex

	definitions map[string]*workflow.Definition
	runs        map[string]*workflow.Run

	options backend.Options
}

var _ backend.Backend = (*memoryBackend)(nil)

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend(opts ...backend.BackendOption) backend.Backend {
	return &memoryBackend{
		definitions: map[string]*workflow.Definition{},
		runs:        map[string]*workflow.Run{},
		options:     backend.ApplyOptions(opts...),
	}
}

func definitionKey(id string, version int) string {
	return fmt.Sprintf("%s:%d", id, version)
}

func (mb *memoryBackend) CreateDefinition(ctx context.Context, d *workflow.Definition) error {
	if d.Status != workflow.StatusDraft {
		return workflow.ErrNotDraft
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	key := definitionKey(d.ID, d.Version)
	if _, ok := mb.definitions[key]; ok {
		return backend.ErrDefinitionAlreadyExists
	}

	c := *d
	mb.definitions[key] = &c

	return nil
}

func (mb *memoryBackend) GetDefinition(ctx context.Context, id string, version int) (*workflow.Definition, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	d, ok := mb.definitions[definitionKey(id, version)]
	if !ok {
		return nil, backend.ErrDefinitionNotFound
	}

	c := *d

	return &c, nil
}

func (mb *memoryBackend) ActiveDefinitions(ctx context.Context, entityType string, event workflow.TriggerEvent) ([]*workflow.Definition, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	var result []*workflow.Definition

	for _, d := range mb.definitions {
		if d.Status == workflow.StatusActive && d.EntityType == entityType && d.TriggerEvent == event {
			c := *d
			result = append(result, &c)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ID != result[j].ID {
			return result[i].ID < result[j].ID
		}
		return result[i].Version < result[j].Version
	})

	return result, nil
}

func (mb *memoryBackend) SetDefinitionStatus(ctx context.Context, id string, version int, status workflow.Status) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	d, ok := mb.definitions[definitionKey(id, version)]
	if !ok {
		return backend.ErrDefinitionNotFound
	}

	d.Status = status

	return nil
}

func (mb *memoryBackend) CreateRun(ctx context.Context, r *workflow.Run) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if _, ok := mb.runs[r.ID]; ok {
		return backend.ErrRunAlreadyExists
	}

	mb.runs[r.ID] = cloneRun(r)

	return nil
}

func (mb *memoryBackend) GetRun(ctx context.Context, id string) (*workflow.Run, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	r, ok := mb.runs[id]
	if !ok {
		return nil, backend.ErrRunNotFound
	}

	return cloneRun(r), nil
}

func (mb *memoryBackend) UpdateRun(ctx context.Context, r *workflow.Run) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if _, ok := mb.runs[r.ID]; !ok {
		return backend.ErrRunNotFound
	}

	mb.runs[r.ID] = cloneRun(r)

	return nil
}

func (mb *memoryBackend) RunsForRecord(ctx context.Context, ref core.RecordRef) ([]*workflow.Run, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	var result []*workflow.Run

	for _, r := range mb.runs {
		if r.Record == ref {
			result = append(result, cloneRun(r))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	return result, nil
}

func cloneRun(r *workflow.Run) *workflow.Run {
	c := *r
	c.Outcomes = append([]workflow.StepOutcome(nil), r.Outcomes...)

	return &c
}

func (mb *memoryBackend) Tracer() trace.Tracer {
	return mb.options.TracerProvider.Tracer(backend.TracerName)
}

func (mb *memoryBackend) Metrics() metrics.Client {
	return mb.options.Metrics
}

func (mb *memoryBackend) Options() *backend.Options {
	return &mb.options
}

func (mb *memoryBackend) Close() error {
	return nil
}
