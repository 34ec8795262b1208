// Package mysql provides a MySQL-backed backend. The schema is managed with
// embedded golang-migrate migrations so upgrades across releases are
// incremental.
package mysql

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.opentelemetry.io/otel/trace"

	_ "github.com/go-sql-driver/mysql"

	"github.com/crmflow/crmflow/backend"
	"github.com/crmflow/crmflow/backend/metrics"
	"github.com/crmflow/crmflow/core"
	"github.com/crmflow/crmflow/workflow"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewMysqlBackend connects to the given MySQL database and applies any
// pending schema migrations.
func NewMysqlBackend(host string, port int, user, password, database string, opts ...backend.BackendOption) (backend.Backend, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&interpolateParams=true", user, password, host, port, database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening mysql database: %w", err)
	}

	if err := applyMigrations(db, database); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &mysqlBackend{
		db:      db,
		options: backend.ApplyOptions(opts...),
	}, nil
}

func applyMigrations(db *sql.DB, database string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	driver, err := migratemysql.WithInstance(db, &migratemysql.Config{DatabaseName: database})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "mysql", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}

	return nil
}

type mysqlBackend struct {
	db      *sql.DB
	options backend.Options
}

var _ backend.Backend = (*mysqlBackend)(nil)

func (mb *mysqlBackend) CreateDefinition(ctx context.Context, d *workflow.Definition) error {
	if d.Status != workflow.StatusDraft {
		return workflow.ErrNotDraft
	}

	document, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshaling definition: %w", err)
	}

	res, err := mb.db.ExecContext(
		ctx,
		"INSERT IGNORE INTO `definitions` (id, version, entity_type, trigger_event, status, document) VALUES (?, ?, ?, ?, ?, ?)",
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

func (mb *mysqlBackend) GetDefinition(ctx context.Context, id string, version int) (*workflow.Definition, error) {
	row := mb.db.QueryRowContext(
		ctx, "SELECT document, status FROM `definitions` WHERE id = ? AND version = ?", id, version)

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

	d.Status = workflow.Status(status)

	return &d, nil
}

func (mb *mysqlBackend) ActiveDefinitions(ctx context.Context, entityType string, event workflow.TriggerEvent) ([]*workflow.Definition, error) {
	rows, err := mb.db.QueryContext(
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

func (mb *mysqlBackend) SetDefinitionStatus(ctx context.Context, id string, version int, status workflow.Status) error {
	res, err := mb.db.ExecContext(
		ctx, "UPDATE `definitions` SET status = ? WHERE id = ? AND version = ?", string(status), id, version)
	if err != nil {
		return fmt.Errorf("updating definition status: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		// RowsAffected is zero both for a missing row and for a no-op status
		// write, so double check existence.
		if _, err := mb.GetDefinition(ctx, id, version); err != nil {
			return err
		}
	}

	return nil
}

func (mb *mysqlBackend) CreateRun(ctx context.Context, r *workflow.Run) error {
	document, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}

	res, err := mb.db.ExecContext(
		ctx,
		"INSERT IGNORE INTO `runs` (id, entity_type, record_id, status, started_at, document) VALUES (?, ?, ?, ?, ?, ?)",
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

func (mb *mysqlBackend) GetRun(ctx context.Context, id string) (*workflow.Run, error) {
	row := mb.db.QueryRowContext(ctx, "SELECT document FROM `runs` WHERE id = ?", id)

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

func (mb *mysqlBackend) UpdateRun(ctx context.Context, r *workflow.Run) error {
	document, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}

	res, err := mb.db.ExecContext(
		ctx, "UPDATE `runs` SET status = ?, document = ? WHERE id = ?", string(r.Status), string(document), r.ID)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		if _, err := mb.GetRun(ctx, r.ID); err != nil {
			return err
		}
	}

	return nil
}

func (mb *mysqlBackend) RunsForRecord(ctx context.Context, ref core.RecordRef) ([]*workflow.Run, error) {
	rows, err := mb.db.QueryContext(
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

func (mb *mysqlBackend) Tracer() trace.Tracer {
	return mb.options.TracerProvider.Tracer(backend.TracerName)
}

func (mb *mysqlBackend) Metrics() metrics.Client {
	return mb.options.Metrics
}

func (mb *mysqlBackend) Options() *backend.Options {
	return &mb.options
}

func (mb *mysqlBackend) Close() error {
	return mb.db.Close()
}
