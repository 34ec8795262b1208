// Package schedule drives scheduled-type definitions. It computes fire
// times with cron expressions and feeds synthetic schedule_tick events into
// the engine; the engine itself holds no wall-clock logic.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/crmflow/crmflow/core"
	"github.com/crmflow/crmflow/engine"
	"github.com/crmflow/crmflow/internal/log"
	"github.com/crmflow/crmflow/workflow"
)

// RecordLister enumerates the candidate records a scheduled definition is
// evaluated against on each tick.
type RecordLister interface {
	ListRecords(ctx context.Context, entityType string) ([]core.RecordRef, error)
}

// Ticker runs cron schedules for registered definitions.
type Ticker struct {
	engine  *engine.Engine
	records core.RecordStore
	lister  RecordLister
	logger  *slog.Logger

	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewTicker creates a stopped ticker; call Start after registering
// definitions.
func NewTicker(e *engine.Engine, records core.RecordStore, lister RecordLister, logger *slog.Logger) *Ticker {
	if logger == nil {
		logger = slog.Default()
	}

	return &Ticker{
		engine:  e,
		records: records,
		lister:  lister,
		logger:  logger,
		cron:    cron.New(),
		entries: map[string]cron.EntryID{},
	}
}

func entryKey(d *workflow.Definition) string {
	return fmt.Sprintf("%s:%d", d.ID, d.Version)
}

// Register adds a scheduled definition to the ticker, replacing any earlier
// registration of the same id and version.
func (t *Ticker) Register(def *workflow.Definition) error {
	if def.Type != workflow.TypeScheduled {
		return fmt.Errorf("definition %q is not a scheduled workflow", def.ID)
	}

	if def.Schedule == nil || def.Schedule.CronExpression == "" {
		return fmt.Errorf("definition %q has no cron expression", def.ID)
	}

	spec := def.Schedule.CronExpression
	if def.Schedule.Timezone != "" {
		spec = fmt.Sprintf("CRON_TZ=%s %s", def.Schedule.Timezone, spec)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := entryKey(def)

	if id, ok := t.entries[key]; ok {
		t.cron.Remove(id)
	}

	id, err := t.cron.AddFunc(spec, func() {
		t.tick(def)
	})
	if err != nil {
		return fmt.Errorf("adding cron entry: %w", err)
	}

	t.entries[key] = id

	return nil
}

// Unregister removes a definition from the ticker.
func (t *Ticker) Unregister(def *workflow.Definition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := entryKey(def)

	if id, ok := t.entries[key]; ok {
		t.cron.Remove(id)
		delete(t.entries, key)
	}
}

// Start begins firing schedules.
func (t *Ticker) Start() {
	t.cron.Start()
}

// Stop stops firing and waits for in-flight ticks.
func (t *Ticker) Stop() {
	<-t.cron.Stop().Done()
}

func (t *Ticker) tick(def *workflow.Definition) {
	ctx := context.Background()

	refs, err := t.lister.ListRecords(ctx, def.EntityType)
	if err != nil {
		t.logger.ErrorContext(ctx, "listing records for schedule tick",
			slog.String(log.DefinitionIDKey, def.ID),
			slog.Any("error", err))
		return
	}

	catalog, err := t.records.GetFieldCatalog(ctx, def.EntityType)
	if err != nil {
		t.logger.ErrorContext(ctx, "loading field catalog for schedule tick",
			slog.String(log.DefinitionIDKey, def.ID),
			slog.Any("error", err))
		return
	}

	for _, ref := range refs {
		record, err := t.records.GetRecord(ctx, ref)
		if err != nil {
			t.logger.WarnContext(ctx, "loading record for schedule tick",
				slog.String(log.RecordIDKey, ref.ID),
				slog.Any("error", err))
			continue
		}

		if _, err := t.engine.EvaluateDefinition(ctx, def, ref, record, catalog); err != nil {
			t.logger.ErrorContext(ctx, "evaluating scheduled definition",
				slog.String(log.DefinitionIDKey, def.ID),
				slog.String(log.RecordIDKey, ref.ID),
				slog.Any("error", err))
		}
	}
}
