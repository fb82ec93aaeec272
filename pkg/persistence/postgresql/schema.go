package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/nodebase/pkg/attributes"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/persistence"
	"github.com/google/uuid"
)

type scanner interface {
	Scan(dest ...any) error
}

var definitionSortFields = map[string]string{
	"created_at": "d.created_at",
	"updated_at": "d.updated_at",
	"name":       "current_name",
}

// SchemaRepository handles schema definition, version and attribute database operations.
type SchemaRepository struct {
	db     querier
	logger *slog.Logger
}

// NewSchemaRepository creates a new schema repository.
func NewSchemaRepository(db querier, logger *slog.Logger) *SchemaRepository {
	return &SchemaRepository{db: db, logger: logger}
}

const currentVersionName = `COALESCE(
			(SELECT pv.name FROM schema_versions pv WHERE pv.id = d.published_version_id),
			(SELECT lv.name FROM schema_versions lv WHERE lv.schema_definition_id = d.id ORDER BY lv.version DESC LIMIT 1),
			''
		)`

func (r *SchemaRepository) buildListQuery(opts persistence.ListSchemasOptions) (string, []any, error) {
	sortBy := opts.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}

	column, ok := definitionSortFields[sortBy]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", persistence.ErrInvalidSortField, sortBy)
	}

	direction := "DESC"
	if strings.EqualFold(opts.SortOrder, "asc") {
		direction = "ASC"
	}

	args := []any{opts.OrganizationID}
	where := "d.organization_id = $1 AND d.deleted_at IS NULL"

	if opts.Search != "" {
		args = append(args, "%"+opts.Search+"%")
		where += fmt.Sprintf(` AND EXISTS (
			SELECT 1 FROM schema_versions sv
			WHERE sv.schema_definition_id = d.id AND (sv.name ILIKE $%d OR sv.label ILIKE $%d)
		)`, len(args), len(args))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	args = append(args, limit, max(opts.Offset, 0))

	query := `
		SELECT
			d.id
		  , d.organization_id
		  , d.published_version_id
		  , d.created_by
		  , d.modified_by
		  , d.created_at
		  , d.updated_at
		  , d.deleted_at
		  , ` + currentVersionName + ` AS current_name
		  , COUNT(*) OVER () AS total
		FROM schema_definitions d
		WHERE ` + where + `
		ORDER BY ` + column + ` ` + direction + `, d.id ASC
		LIMIT $` + fmt.Sprint(len(args)-1) + ` OFFSET $` + fmt.Sprint(len(args))

	return query, args, nil
}

// ListDefinitions returns a page of live schema definitions and the total number of them.
func (r *SchemaRepository) ListDefinitions(ctx context.Context, opts persistence.ListSchemasOptions) ([]*models.SchemaDefinition, int64, error) {
	query, args, err := r.buildListQuery(opts)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query schema definitions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	var (
		definitions = make([]*models.SchemaDefinition, 0)
		total       int64
	)

	for rows.Next() {
		var (
			definition  models.SchemaDefinition
			publishedID sql.NullString
			deletedAt   sql.NullTime
			currentName string
		)

		err := rows.Scan(
			&definition.ID,
			&definition.OrganizationID,
			&publishedID,
			&definition.CreatedBy,
			&definition.ModifiedBy,
			&definition.CreatedAt,
			&definition.UpdatedAt,
			&deletedAt,
			&currentName,
			&total,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan schema definition: %w", err)
		}

		definition.PublishedVersionID = stringPtr(publishedID)
		definition.DeletedAt = timePtr(deletedAt)
		definitions = append(definitions, &definition)
	}

	err = rows.Err()
	if err != nil {
		return nil, 0, fmt.Errorf("error iterating schema definitions: %w", err)
	}

	return definitions, total, nil
}

func (r *SchemaRepository) Definition(ctx context.Context, organizationID int64, schemaID string) (*models.SchemaDefinition, error) {
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
		FROM schema_definitions
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
	`

	var (
		definition  models.SchemaDefinition
		publishedID sql.NullString
		deletedAt   sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, query, schemaID, organizationID).Scan(
		&definition.ID,
		&definition.OrganizationID,
		&publishedID,
		&definition.CreatedBy,
		&definition.ModifiedBy,
		&definition.CreatedAt,
		&definition.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.SchemaError{Op: "Definition", SchemaID: schemaID, Err: persistence.ErrSchemaNotFound}
		}

		return nil, fmt.Errorf("failed to scan schema definition: %w", err)
	}

	definition.PublishedVersionID = stringPtr(publishedID)
	definition.DeletedAt = timePtr(deletedAt)

	return &definition, nil
}

// SaveDefinition inserts or updates a schema definition, assigning its id and timestamps.
func (r *SchemaRepository) SaveDefinition(ctx context.Context, definition *models.SchemaDefinition) error {
	now := time.Now().UTC()

	if definition.CreatedAt.IsZero() {
		definition.CreatedAt = now
	}

	definition.UpdatedAt = now

	if definition.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate schema ID: %w", err)
		}

		definition.ID = id.String()
	}

	query := `
		INSERT INTO schema_definitions (id, organization_id, published_version_id, created_by, modified_by, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			published_version_id = EXCLUDED.published_version_id,
			modified_by = EXCLUDED.modified_by,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err := r.db.ExecContext(ctx, query,
		definition.ID,
		definition.OrganizationID,
		nullString(definition.PublishedVersionID),
		definition.CreatedBy,
		definition.ModifiedBy,
		definition.CreatedAt,
		definition.UpdatedAt,
		definition.DeletedAt,
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to save schema definition: %w", err))
	}

	return nil
}

// DeleteDefinition soft deletes a schema definition.
func (r *SchemaRepository) DeleteDefinition(ctx context.Context, organizationID int64, schemaID, actor string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE schema_definitions SET deleted_at = $1, updated_at = $1, modified_by = $2
		WHERE id = $3 AND organization_id = $4 AND deleted_at IS NULL
	`, time.Now().UTC(), actor, schemaID, organizationID)
	if err != nil {
		return fmt.Errorf("failed to delete schema definition: %w", err)
	}

	return requireAffected(result, &persistence.SchemaError{Op: "Delete", SchemaID: schemaID, Err: persistence.ErrSchemaNotFound})
}

const versionColumns = `
			v.id
		  , v.schema_definition_id
		  , v.organization_id
		  , v.version
		  , v.name
		  , v.label
		  , v.type
		  , v.is_published
		  , v.published_at
		  , v.created_by
		  , v.modified_by
		  , v.created_at
		  , v.updated_at`

const liveVersions = `
		FROM schema_versions v
		JOIN schema_definitions d ON d.id = v.schema_definition_id AND d.deleted_at IS NULL`

func scanVersion(row scanner) (*models.SchemaVersion, error) {
	var (
		version     models.SchemaVersion
		publishedAt sql.NullTime
	)

	err := row.Scan(
		&version.ID,
		&version.SchemaDefinitionID,
		&version.OrganizationID,
		&version.Version,
		&version.Name,
		&version.Label,
		&version.Type,
		&version.IsPublished,
		&publishedAt,
		&version.CreatedBy,
		&version.ModifiedBy,
		&version.CreatedAt,
		&version.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	version.PublishedAt = timePtr(publishedAt)

	return &version, nil
}

// queryVersion loads the single version selected by the given filter together with its
// attributes.
func (r *SchemaRepository) queryVersion(ctx context.Context, op string, filter string, args ...any) (*models.SchemaVersion, error) {
	row := r.db.QueryRowContext(ctx, "SELECT"+versionColumns+liveVersions+"\n\t\t"+filter, args...)

	version, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.SchemaError{Op: op, Err: persistence.ErrSchemaVersionNotFound}
		}

		return nil, fmt.Errorf("failed to scan schema version: %w", err)
	}

	version.Attributes, err = r.attributes(ctx, version.ID)
	if err != nil {
		return nil, err
	}

	return version, nil
}

func (r *SchemaRepository) Version(ctx context.Context, organizationID int64, versionID string) (*models.SchemaVersion, error) {
	version, err := r.queryVersion(ctx, "Version", "WHERE v.id = $1 AND v.organization_id = $2", versionID, organizationID)
	if err != nil {
		var schemaErr *persistence.SchemaError
		if errors.As(err, &schemaErr) {
			schemaErr.VersionID = versionID
		}

		return nil, err
	}

	return version, nil
}

// LockVersion loads a version and holds its row lock until the enclosing transaction ends,
// so a concurrent publish waits for the transaction or is observed by it.
func (r *SchemaRepository) LockVersion(ctx context.Context, organizationID int64, versionID string) (*models.SchemaVersion, error) {
	version, err := r.queryVersion(ctx, "LockVersion", "WHERE v.id = $1 AND v.organization_id = $2 FOR UPDATE OF v", versionID, organizationID)
	if err != nil {
		var schemaErr *persistence.SchemaError
		if errors.As(err, &schemaErr) {
			schemaErr.VersionID = versionID
		}

		return nil, err
	}

	return version, nil
}

func (r *SchemaRepository) PublishedVersion(ctx context.Context, organizationID int64, schemaID string) (*models.SchemaVersion, error) {
	return r.queryVersion(ctx, "PublishedVersion",
		"WHERE v.schema_definition_id = $1 AND v.organization_id = $2 AND v.id = d.published_version_id",
		schemaID, organizationID)
}

func (r *SchemaRepository) LatestVersion(ctx context.Context, organizationID int64, schemaID string) (*models.SchemaVersion, error) {
	return r.queryVersion(ctx, "LatestVersion",
		"WHERE v.schema_definition_id = $1 AND v.organization_id = $2 ORDER BY v.version DESC LIMIT 1",
		schemaID, organizationID)
}

func (r *SchemaRepository) VersionByName(ctx context.Context, organizationID int64, name string) (*models.SchemaVersion, error) {
	return r.queryVersion(ctx, "VersionByName",
		"WHERE v.name = $1 AND v.organization_id = $2 ORDER BY (v.id = d.published_version_id) DESC, v.version DESC, v.created_at DESC LIMIT 1",
		name, organizationID)
}

// VersionsByType returns, for every live schema whose current version carries the type, the
// published version or else the latest one.
func (r *SchemaRepository) VersionsByType(ctx context.Context, organizationID int64, schemaType string) ([]*models.SchemaVersion, error) {
	query := `
		SELECT * FROM (
			SELECT DISTINCT ON (v.schema_definition_id)` + versionColumns + liveVersions + `
			WHERE v.organization_id = $1 AND v.type = $2
			ORDER BY v.schema_definition_id, (v.id = d.published_version_id) DESC, v.version DESC
		) live
		ORDER BY live.name ASC, live.created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, organizationID, schemaType)
	if err != nil {
		return nil, fmt.Errorf("failed to query schema versions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	var versions []*models.SchemaVersion

	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schema version: %w", err)
		}

		versions = append(versions, version)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating schema versions: %w", err)
	}

	for _, version := range versions {
		version.Attributes, err = r.attributes(ctx, version.ID)
		if err != nil {
			return nil, err
		}
	}

	return versions, nil
}

func (r *SchemaRepository) MaxVersion(ctx context.Context, schemaID string) (int, error) {
	var version int

	err := r.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_versions WHERE schema_definition_id = $1", schemaID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query max schema version: %w", err)
	}

	return version, nil
}

// VersionIDs lists the ids of every version of a schema definition, oldest first.
func (r *SchemaRepository) VersionIDs(ctx context.Context, schemaID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id FROM schema_versions WHERE schema_definition_id = $1 ORDER BY version ASC", schemaID)
	if err != nil {
		return nil, fmt.Errorf("failed to query schema version ids: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	var ids []string

	for rows.Next() {
		var id string

		err = rows.Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schema version id: %w", err)
		}

		ids = append(ids, id)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating schema version ids: %w", err)
	}

	return ids, nil
}

// SaveVersion inserts or updates a schema version row. Attributes are saved separately.
func (r *SchemaRepository) SaveVersion(ctx context.Context, version *models.SchemaVersion) error {
	now := time.Now().UTC()

	if version.CreatedAt.IsZero() {
		version.CreatedAt = now
	}

	version.UpdatedAt = now

	if version.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate schema version ID: %w", err)
		}

		version.ID = id.String()
	}

	query := `
		INSERT INTO schema_versions (id, schema_definition_id, organization_id, version, name, label, type,
			is_published, published_at, created_by, modified_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			label = EXCLUDED.label,
			type = EXCLUDED.type,
			is_published = EXCLUDED.is_published,
			published_at = EXCLUDED.published_at,
			modified_by = EXCLUDED.modified_by,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		version.ID,
		version.SchemaDefinitionID,
		version.OrganizationID,
		version.Version,
		version.Name,
		version.Label,
		version.Type,
		version.IsPublished,
		version.PublishedAt,
		version.CreatedBy,
		version.ModifiedBy,
		version.CreatedAt,
		version.UpdatedAt,
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to save schema version: %w", err))
	}

	return nil
}

// PublishVersion marks a version published and makes it the definition's published version.
func (r *SchemaRepository) PublishVersion(ctx context.Context, organizationID int64, versionID, actor string) error {
	now := time.Now().UTC()

	var schemaID string

	err := r.db.QueryRowContext(ctx, `
		UPDATE schema_versions SET is_published = true, published_at = COALESCE(published_at, $1), modified_by = $2, updated_at = $1
		WHERE id = $3 AND organization_id = $4
		RETURNING schema_definition_id
	`, now, actor, versionID, organizationID).Scan(&schemaID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &persistence.SchemaError{Op: "Publish", VersionID: versionID, Err: persistence.ErrSchemaVersionNotFound}
		}

		return fmt.Errorf("failed to publish schema version: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE schema_definitions SET published_version_id = $1, modified_by = $2, updated_at = $3
		WHERE id = $4
	`, versionID, actor, now, schemaID)
	if err != nil {
		return fmt.Errorf("failed to point schema at published version: %w", err)
	}

	return nil
}

const attributeColumns = `
			a.id
		  , a.schema_version_id
		  , a.name
		  , a.label
		  , a.position
		  , a.type
		  , a.is_required
		  , a.options
		  , a.reference_type
		  , a.referenced_schema_version_id
		  , a.created_at
		  , a.updated_at
		  , a.deleted_at`

func scanAttribute(row scanner, extra ...any) (*models.Attribute, error) {
	var (
		attribute     models.Attribute
		options       []byte
		referenceType sql.NullString
		referencedID  sql.NullString
		deletedAt     sql.NullTime
	)

	dest := []any{
		&attribute.ID,
		&attribute.SchemaVersionID,
		&attribute.Name,
		&attribute.Label,
		&attribute.Position,
		&attribute.Type,
		&attribute.IsRequired,
		&options,
		&referenceType,
		&referencedID,
		&attribute.CreatedAt,
		&attribute.UpdatedAt,
		&deletedAt,
	}

	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		return nil, err
	}

	attribute.Options, err = attributes.DecodeOptions(attribute.Type, options)
	if err != nil {
		return nil, fmt.Errorf("attribute %s: %w", attribute.ID, err)
	}

	attribute.ReferenceType = attributes.ReferenceType(referenceType.String)
	attribute.ReferencedSchemaVersionID = stringPtr(referencedID)
	attribute.DeletedAt = timePtr(deletedAt)

	return &attribute, nil
}

func (r *SchemaRepository) attributes(ctx context.Context, versionID string) ([]*models.Attribute, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT"+attributeColumns+`
		FROM attributes a
		WHERE a.schema_version_id = $1 AND a.deleted_at IS NULL
		ORDER BY a.position ASC, a.created_at ASC
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attributes: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	list := make([]*models.Attribute, 0)

	for rows.Next() {
		attribute, err := scanAttribute(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attribute: %w", err)
		}

		list = append(list, attribute)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating attributes: %w", err)
	}

	return list, nil
}

// SaveAttribute inserts or updates an attribute definition.
func (r *SchemaRepository) SaveAttribute(ctx context.Context, attribute *models.Attribute) error {
	now := time.Now().UTC()

	if attribute.CreatedAt.IsZero() {
		attribute.CreatedAt = now
	}

	attribute.UpdatedAt = now

	if attribute.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate attribute ID: %w", err)
		}

		attribute.ID = id.String()
	}

	options := []byte("{}")

	if attribute.Options != nil {
		var err error

		options, err = json.Marshal(attribute.Options)
		if err != nil {
			return fmt.Errorf("failed to marshal attribute options: %w", err)
		}
	}

	var referenceType sql.NullString
	if attribute.ReferenceType != "" {
		referenceType = sql.NullString{String: string(attribute.ReferenceType), Valid: true}
	}

	query := `
		INSERT INTO attributes (id, schema_version_id, name, label, position, type, is_required, options,
			reference_type, referenced_schema_version_id, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			label = EXCLUDED.label,
			position = EXCLUDED.position,
			type = EXCLUDED.type,
			is_required = EXCLUDED.is_required,
			options = EXCLUDED.options,
			reference_type = EXCLUDED.reference_type,
			referenced_schema_version_id = EXCLUDED.referenced_schema_version_id,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err := r.db.ExecContext(ctx, query,
		attribute.ID,
		attribute.SchemaVersionID,
		attribute.Name,
		attribute.Label,
		attribute.Position,
		attribute.Type,
		attribute.IsRequired,
		options,
		referenceType,
		nullString(attribute.ReferencedSchemaVersionID),
		attribute.CreatedAt,
		attribute.UpdatedAt,
		attribute.DeletedAt,
	)
	if err != nil {
		return mapError(fmt.Errorf("failed to save attribute %s: %w", attribute.Name, err))
	}

	return nil
}

// DeleteAttribute soft deletes an attribute definition. Its values are kept.
func (r *SchemaRepository) DeleteAttribute(ctx context.Context, attributeID string) error {
	now := time.Now().UTC()

	result, err := r.db.ExecContext(ctx,
		"UPDATE attributes SET deleted_at = $1, updated_at = $1 WHERE id = $2 AND deleted_at IS NULL",
		now, attributeID)
	if err != nil {
		return fmt.Errorf("failed to delete attribute: %w", err)
	}

	return requireAffected(result, fmt.Errorf("attribute %s: %w", attributeID, persistence.ErrAttributeNotFound))
}

// InboundReferences lists the live forward reference attributes targeting a schema version,
// from every live version of every source schema. Rows are grouped by source schema, the
// current version (published, else latest) of each first, then newer versions before older.
func (r *SchemaRepository) InboundReferences(ctx context.Context, organizationID int64, versionID string) ([]*persistence.InboundReference, error) {
	query := "SELECT" + attributeColumns + `
		  , v.name
		  , v.version
		  , d.id
		  , v.id = COALESCE(d.published_version_id, (
			SELECT lv.id FROM schema_versions lv
			WHERE lv.schema_definition_id = d.id
			ORDER BY lv.version DESC LIMIT 1
		  )) AS is_current
		FROM attributes a
		JOIN schema_versions v ON v.id = a.schema_version_id
		JOIN schema_definitions d ON d.id = v.schema_definition_id AND d.deleted_at IS NULL
		WHERE a.referenced_schema_version_id = $1
		  AND a.type = $2
		  AND a.deleted_at IS NULL
		  AND v.organization_id = $3
		ORDER BY d.created_at ASC, d.id ASC, is_current DESC, v.version DESC, a.position ASC, a.created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, versionID, attributes.TypeReference, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query inbound references: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	var references []*persistence.InboundReference

	for rows.Next() {
		reference := &persistence.InboundReference{}

		reference.Attribute, err = scanAttribute(rows, &reference.SourceVersionName, &reference.SourceVersion,
			&reference.SourceSchemaID, &reference.Current)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inbound reference: %w", err)
		}

		references = append(references, reference)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating inbound references: %w", err)
	}

	return references, nil
}

func requireAffected(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return notFound
	}

	return nil
}
