package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/persistence"
	"github.com/google/uuid"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     querier
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db querier, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

func (r *WorkflowRepository) Get(ctx context.Context, organizationID int64, workflowID string) (*models.Workflow, error) {
	query := `
		SELECT
			id
		  , organization_id
		  , published_version_id
		  , created_by
		  , modified_by
		  , created_at
		  , updated_at
		  , deleted_at
		FROM workflows
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
	`

	var (
		workflow    models.Workflow
		publishedID sql.NullString
		deletedAt   sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, query, workflowID, organizationID).Scan(
		&workflow.ID,
		&workflow.OrganizationID,
		&publishedID,
		&workflow.CreatedBy,
		&workflow.ModifiedBy,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("workflow %s: %w", workflowID, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	workflow.PublishedVersionID = stringPtr(publishedID)
	workflow.DeletedAt = timePtr(deletedAt)

	return &workflow, nil
}

// Save saves a workflow to the database.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflows (id, organization_id, published_version_id, created_by, modified_by, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			published_version_id = EXCLUDED.published_version_id,
			modified_by = EXCLUDED.modified_by,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`,
		workflow.ID,
		workflow.OrganizationID,
		nullString(workflow.PublishedVersionID),
		workflow.CreatedBy,
		workflow.ModifiedBy,
		workflow.CreatedAt,
		workflow.UpdatedAt,
		workflow.DeletedAt,
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to save workflow: %w", err))
	}

	return nil
}

// Delete soft deletes a workflow and its versions.
func (r *WorkflowRepository) Delete(ctx context.Context, organizationID int64, workflowID, actor string) error {
	now := time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE workflows SET deleted_at = $1, updated_at = $1, modified_by = $2
		WHERE id = $3 AND organization_id = $4 AND deleted_at IS NULL
	`, now, actor, workflowID, organizationID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	err = requireAffected(result, fmt.Errorf("workflow %s: %w", workflowID, persistence.ErrWorkflowNotFound))
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE workflow_versions SET deleted_at = $1, updated_at = $1, modified_by = $2
		WHERE workflow_id = $3 AND deleted_at IS NULL
	`, now, actor, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow versions: %w", err)
	}

	return nil
}

const workflowVersionColumns = `
			wv.id
		  , wv.workflow_id
		  , wv.organization_id
		  , wv.version
		  , wv.name
		  , wv.label
		  , wv.is_published
		  , wv.published_at
		  , wv.schema_version_id
		  , wv.trigger_type
		  , wv.position
		  , wv.config
		  , wv.sample_data
		  , wv.created_by
		  , wv.modified_by
		  , wv.created_at
		  , wv.updated_at
		  , wv.deleted_at`

func scanWorkflowVersion(row scanner) (*models.WorkflowVersion, error) {
	var (
		version     models.WorkflowVersion
		publishedAt sql.NullTime
		config      []byte
		sampleData  []byte
		deletedAt   sql.NullTime
	)

	err := row.Scan(
		&version.ID,
		&version.WorkflowID,
		&version.OrganizationID,
		&version.Version,
		&version.Name,
		&version.Label,
		&version.IsPublished,
		&publishedAt,
		&version.SchemaVersionID,
		&version.Trigger,
		&version.Position,
		&config,
		&sampleData,
		&version.CreatedBy,
		&version.ModifiedBy,
		&version.CreatedAt,
		&version.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	version.PublishedAt = timePtr(publishedAt)
	version.DeletedAt = timePtr(deletedAt)
	version.Config = config

	if len(sampleData) > 0 {
		version.SampleData = sampleData
	}

	return &version, nil
}

func (r *WorkflowRepository) Version(ctx context.Context, organizationID int64, versionID string) (*models.WorkflowVersion, error) {
	row := r.db.QueryRowContext(ctx, "SELECT"+workflowVersionColumns+`
		FROM workflow_versions wv
		WHERE wv.id = $1 AND wv.organization_id = $2 AND wv.deleted_at IS NULL
	`, versionID, organizationID)

	version, err := scanWorkflowVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("workflow version %s: %w", versionID, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow version: %w", err)
	}

	return version, nil
}

func (r *WorkflowRepository) SaveVersion(ctx context.Context, version *models.WorkflowVersion) error {
	now := time.Now().UTC()

	if version.CreatedAt.IsZero() {
		version.CreatedAt = now
	}

	version.UpdatedAt = now

	if version.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow version ID: %w", err)
		}

		version.ID = id.String()
	}

	config := "{}"
	if len(version.Config) > 0 {
		config = string(version.Config)
	}

	var sampleData any
	if len(version.SampleData) > 0 {
		sampleData = string(version.SampleData)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_versions (id, workflow_id, organization_id, version, name, label, is_published, published_at,
			schema_version_id, trigger_type, position, config, sample_data, created_by, modified_by, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			label = EXCLUDED.label,
			schema_version_id = EXCLUDED.schema_version_id,
			trigger_type = EXCLUDED.trigger_type,
			position = EXCLUDED.position,
			config = EXCLUDED.config,
			sample_data = EXCLUDED.sample_data,
			modified_by = EXCLUDED.modified_by,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`,
		version.ID,
		version.WorkflowID,
		version.OrganizationID,
		version.Version,
		version.Name,
		version.Label,
		version.IsPublished,
		version.PublishedAt,
		version.SchemaVersionID,
		string(version.Trigger),
		version.Position,
		config,
		sampleData,
		version.CreatedBy,
		version.ModifiedBy,
		version.CreatedAt,
		version.UpdatedAt,
		version.DeletedAt,
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to save workflow version: %w", err))
	}

	return nil
}

// PublishVersion publishes a workflow version and points its workflow at it.
func (r *WorkflowRepository) PublishVersion(ctx context.Context, organizationID int64, versionID, actor string) error {
	now := time.Now().UTC()

	var workflowID string

	err := r.db.QueryRowContext(ctx, `
		UPDATE workflow_versions SET is_published = true, published_at = COALESCE(published_at, $1), modified_by = $2, updated_at = $1
		WHERE id = $3 AND organization_id = $4 AND deleted_at IS NULL
		RETURNING workflow_id
	`, now, actor, versionID, organizationID).Scan(&workflowID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("workflow version %s: %w", versionID, persistence.ErrWorkflowNotFound)
		}

		return fmt.Errorf("failed to publish workflow version: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE workflows SET published_version_id = $1, modified_by = $2, updated_at = $3
		WHERE id = $4
	`, versionID, actor, now, workflowID)
	if err != nil {
		return fmt.Errorf("failed to point workflow at published version: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) MaxVersion(ctx context.Context, workflowID string) (int, error) {
	var version int

	err := r.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM workflow_versions WHERE workflow_id = $1", workflowID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query max workflow version: %w", err)
	}

	return version, nil
}

func (r *WorkflowRepository) BySchemaVersion(ctx context.Context, organizationID int64, schemaVersionID string) ([]*models.WorkflowVersion, error) {
	return r.list(ctx, "SELECT"+workflowVersionColumns+`
		FROM workflow_versions wv
		JOIN workflows w ON w.id = wv.workflow_id AND w.deleted_at IS NULL
		WHERE wv.organization_id = $1 AND wv.schema_version_id = $2 AND wv.deleted_at IS NULL
		ORDER BY wv.position ASC, wv.created_at ASC
	`, organizationID, schemaVersionID)
}

func (r *WorkflowRepository) Active(ctx context.Context, organizationID int64, schemaVersionID string, trigger models.WorkflowTrigger) ([]*models.WorkflowVersion, error) {
	return r.list(ctx, `
		SELECT * FROM (
			SELECT DISTINCT ON (wv.workflow_id)`+workflowVersionColumns+`
			FROM workflow_versions wv
			JOIN workflows w ON w.id = wv.workflow_id AND w.deleted_at IS NULL
			WHERE wv.organization_id = $1 AND wv.deleted_at IS NULL
			ORDER BY wv.workflow_id, (wv.id = w.published_version_id) DESC, wv.version DESC
		) active
		WHERE active.schema_version_id = $2 AND active.trigger_type = $3
		ORDER BY active.position ASC, active.created_at ASC
	`, organizationID, schemaVersionID, string(trigger))
}

func (r *WorkflowRepository) list(ctx context.Context, query string, args ...any) ([]*models.WorkflowVersion, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow versions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	versions := make([]*models.WorkflowVersion, 0)

	for rows.Next() {
		version, err := scanWorkflowVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow version: %w", err)
		}

		versions = append(versions, version)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflow versions: %w", err)
	}

	return versions, nil
}
