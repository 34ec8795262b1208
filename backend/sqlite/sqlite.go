// Package sqlite provides a SQL-backed backend using an embedded sqlite
// database. Definitions and runs are stored as JSON documents with indexed
// columns for the queries the engine needs.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	_ "modernc.org/sqlite"

	"github.com/crmflow/crmflow/backend"
	"github.com/crmflow/crmflow/backend/metrics"
	"github.com/crmflow/crmflow/core"
	"github.com/crmflow/crmflow/workflow"
)

//go:embed schema.sql
var schema string

// NewInMemoryBackend creates a backend on a private in-memory database.
// Mostly useful for tests.
func NewInMemoryBackend(opts ...backend.BackendOption) (backend.Backend, error) {
	b, err := newSqliteBackend("file::memory:?mode=memory&cache=shared", opts...)
	if err != nil {
		return nil, err
	}

	b.db.SetMaxOpenConns(1)

	return b, nil
}

// NewSqliteBackend creates a backend using the sqlite database at path.
func NewSqliteBackend(path string, opts ...backend.BackendOption) (backend.Backend, error) {
	return newSqliteBackend(fmt.Sprintf("file:%v?_pragma=busy_timeout(10000)&_pragma=journal_mode(wal)", path), opts...)
}

func newSqliteBackend(dsn string, opts ...backend.BackendOption) (*sqliteBackend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("initializing sqlite database: %w", err)
	}

	return &sqliteBackend{
		db:      db,
		options: backend.ApplyOptions(opts...),
	}, nil
}

type sqliteBackend struct {
	db      *sql.DB
	options backend.Options
}

var _ backend.Backend = (*sqliteBackend)(nil)

func (sb *sqliteBackend) CreateDefinition(ctx context.Context, d *workflow.Definition) error {
	if d.Status != workflow.StatusDraft {
		return workflow.ErrNotDraft
	}

	document, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshaling definition: %w", err)
	}

	res, err := sb.db.ExecContext(
		ctx,
		"INSERT OR IGNORE INTO `definitions` (id, version, entity_type, trigger_event, status, document) VALUES (?, ?, ?, ?, ?, ?)",
		d.ID, d.Version, d.EntityType, string(d.TriggerEvent), string(d.Status), string(document),
	)
	if err != nil {
		return fmt.Errorf("inserting definition: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rows != 1 {
		return backend.ErrDefinitionAlreadyExists
	}

	return nil
}

func (sb *sqliteBackend) GetDefinition(ctx context.Context, id string, version int) (*workflow.Definition, error) {
	row := sb.db.QueryRowContext(
		ctx, "SELECT document, status FROM `definitions` WHERE id = ? AND version = ?", id, version)

	return scanDefinition(row)
}

func scanDefinition(row *sql.Row) (*workflow.Definition, error) {
	var document, status string

	if err := row.Scan(&document, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrDefinitionNotFound
		}

		return nil, fmt.Errorf("reading definition: %w", err)
	}

	var d workflow.Definition
	if err := json.Unmarshal([]byte(document), &d); err != nil {
		return nil, fmt.Errorf("unmarshaling definition: %w", err)
	}

	// The status column is the source of truth; the document keeps the
	// status it had when it was written.
	d.Status = workflow.Status(status)

	return &d, nil
}

func (sb *sqliteBackend) ActiveDefinitions(ctx context.Context, entityType string, event workflow.TriggerEvent) ([]*workflow.Definition, error) {
	rows, err := sb.db.QueryContext(
		ctx,
		"SELECT document FROM `definitions` WHERE status = ? AND entity_type = ? AND trigger_event = ? ORDER BY id, version",
		string(workflow.StatusActive), entityType, string(event),
	)
	if err != nil {
		return nil, fmt.Errorf("querying active definitions: %w", err)
	}
	defer rows.Close()

	var result []*workflow.Definition

	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("reading definition: %w", err)
		}

		var d workflow.Definition
		if err := json.Unmarshal([]byte(document), &d); err != nil {
			return nil, fmt.Errorf("unmarshaling definition: %w", err)
		}

		d.Status = workflow.StatusActive

		result = append(result, &d)
	}

	return result, rows.Err()
}

func (sb *sqliteBackend) SetDefinitionStatus(ctx context.Context, id string, version int, status workflow.Status) error {
	res, err := sb.db.ExecContext(
		ctx, "UPDATE `definitions` SET status = ? WHERE id = ? AND version = ?", string(status), id, version)
	if err != nil {
		return fmt.Errorf("updating definition status: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rows != 1 {
		return backend.ErrDefinitionNotFound
	}

	return nil
}

func (sb *sqliteBackend) CreateRun(ctx context.Context, r *workflow.Run) error {
	document, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}

	res, err := sb.db.ExecContext(
		ctx,
		"INSERT OR IGNORE INTO `runs` (id, entity_type, record_id, status, started_at, document) VALUES (?, ?, ?, ?, ?, ?)",
		r.ID, r.Record.EntityType, r.Record.ID, string(r.Status), r.StartedAt.UnixNano(), string(document),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rows != 1 {
		return backend.ErrRunAlreadyExists
	}

	return nil
}

func (sb *sqliteBackend) GetRun(ctx context.Context, id string) (*workflow.Run, error) {
	row := sb.db.QueryRowContext(ctx, "SELECT document FROM `runs` WHERE id = ?", id)

	var document string
	if err := row.Scan(&document); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrRunNotFound
		}

		return nil, fmt.Errorf("reading run: %w", err)
	}

	var r workflow.Run
	if err := json.Unmarshal([]byte(document), &r); err != nil {
		return nil, fmt.Errorf("unmarshaling run: %w", err)
	}

	return &r, nil
}

func (sb *sqliteBackend) UpdateRun(ctx context.Context, r *workflow.Run) error {
	document, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}

	res, err := sb.db.ExecContext(
		ctx, "UPDATE `runs` SET status = ?, document = ? WHERE id = ?", string(r.Status), string(document), r.ID)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rows != 1 {
		return backend.ErrRunNotFound
	}

	return nil
}

func (sb *sqliteBackend) RunsForRecord(ctx context.Context, ref core.RecordRef) ([]*workflow.Run, error) {
	rows, err := sb.db.QueryContext(
		ctx,
		"SELECT document FROM `runs` WHERE entity_type = ? AND record_id = ? ORDER BY started_at DESC",
		ref.EntityType, ref.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var result []*workflow.Run

	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			return nil, fmt.Errorf("reading run: %w", err)
		}

		var r workflow.Run
		if err := json.Unmarshal([]byte(document), &r); err != nil {
			return nil, fmt.Errorf("unmarshaling run: %w", err)
		}

		result = append(result, &r)
	}

	return result, rows.Err()
}

func (sb *sqliteBackend) Tracer() trace.Tracer {
	return sb.options.TracerProvider.Tracer(backend.TracerName)
}

func (sb *sqliteBackend) Metrics() metrics.Client {
	return sb.options.Metrics
}

func (sb *sqliteBackend) Options() *backend.Options {
	return &sb.options
}

func (sb *sqliteBackend) Close() error {
	return sb.db.Close()
}
