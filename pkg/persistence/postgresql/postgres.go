// Package postgresql provides the PostgreSQL persistence implementation for schemas, records
// and workflows.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/nodebase/pkg/persistence"
	"github.com/dukex/nodebase/pkg/persistence/sqlbase"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	*repositories

	db     *sql.DB
	logger *slog.Logger
}

type repositories struct {
	schemas   *SchemaRepository
	records   *RecordRepository
	workflows *WorkflowRepository
}

func newRepositories(db querier, logger *slog.Logger) *repositories {
	return &repositories{
		schemas:   NewSchemaRepository(db, logger),
		records:   NewRecordRepository(db, logger),
		workflows: NewWorkflowRepository(db, logger),
	}
}

func (r *repositories) Schemas() persistence.SchemaRepository {
	return r.schemas
}

func (r *repositories) Records() persistence.RecordRepository {
	return r.records
}

func (r *repositories) Workflows() persistence.WorkflowRepository {
	return r.workflows
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := Open(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	postgres := &Persistence{
		repositories: newRepositories(database, logger),
		db:           database,
		logger:       logger,
	}

	// Run migrations on initialization
	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// Open connects to the database without touching its schema.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return database, nil
}

// Migrate applies pending migrations to the database behind databaseURL and returns the
// resulting schema version.
func Migrate(ctx context.Context, logger *slog.Logger, databaseURL string) (int, error) {
	database, err := Open(ctx, databaseURL)
	if err != nil {
		return 0, err
	}

	defer func() {
		err := database.Close()
		if err != nil {
			logger.ErrorContext(ctx, "failed to close database connection", "error", err)
		}
	}()

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to run migrations: %w", err)
	}

	return migrationManager.CurrentVersion(ctx)
}

// InTx runs fn with repositories bound to one transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
func (p *Persistence) InTx(ctx context.Context, fn func(ctx context.Context, repos persistence.Repositories) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	err = fn(ctx, newRepositories(tx, p.logger))
	if err != nil {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			p.logger.ErrorContext(ctx, "failed to rollback transaction", "error", rollbackErr)
		}

		return err
	}

	err = tx.Commit()
	if err != nil {
		return mapError(fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// mapError tags unique constraint violations with persistence.ErrUniqueViolation.
func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s: %w", persistence.ErrUniqueViolation, pqErr.Constraint, err)
	}

	return err
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}

	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}

	return &s.String
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	value := t.Time.UTC()

	return &value
}
