// Package persistence provides the storage contracts of the schema and record engine.
package persistence

import (
	"context"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/query"
)

// Persistence is the root storage handle. Repositories obtained from it run outside a
// transaction; InTx hands the callback repositories bound to a single transaction that is
// committed when the callback returns nil and rolled back otherwise.
type Persistence interface {
	Repositories

	InTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type Repositories interface {
	Schemas() SchemaRepository
	Records() RecordRepository
	Workflows() WorkflowRepository
}

// ListSchemasOptions contains options for listing schema definitions.
type ListSchemasOptions struct {
	OrganizationID int64
	Search         string
	Limit          int
	Offset         int
	SortBy         string
	SortOrder      string
}

// InboundReference is a forward reference attribute targeting some schema version, together
// with the schema version that owns it. Current marks the owning version as the current one of
// its schema definition.
type InboundReference struct {
	Attribute         *models.Attribute
	SourceSchemaID    string
	SourceVersionName string
	SourceVersion     int
	Current           bool
}

type SchemaRepository interface {
	ListDefinitions(ctx context.Context, opts ListSchemasOptions) ([]*models.SchemaDefinition, int64, error)
	Definition(ctx context.Context, organizationID int64, schemaID string) (*models.SchemaDefinition, error)
	SaveDefinition(ctx context.Context, definition *models.SchemaDefinition) error
	DeleteDefinition(ctx context.Context, organizationID int64, schemaID, actor string) error

	// Version loads a schema version with its live stored attributes ordered by position.
	Version(ctx context.Context, organizationID int64, versionID string) (*models.SchemaVersion, error)
	// LockVersion is Version holding the row lock until the transaction ends.
	LockVersion(ctx context.Context, organizationID int64, versionID string) (*models.SchemaVersion, error)
	PublishedVersion(ctx context.Context, organizationID int64, schemaID string) (*models.SchemaVersion, error)
	LatestVersion(ctx context.Context, organizationID int64, schemaID string) (*models.SchemaVersion, error)
	// VersionByName prefers the published version carrying the name and falls back to the
	// most recent version carrying it.
	VersionByName(ctx context.Context, organizationID int64, name string) (*models.SchemaVersion, error)
	VersionsByType(ctx context.Context, organizationID int64, schemaType string) ([]*models.SchemaVersion, error)
	MaxVersion(ctx context.Context, schemaID string) (int, error)
	VersionIDs(ctx context.Context, schemaID string) ([]string, error)
	SaveVersion(ctx context.Context, version *models.SchemaVersion) error
	PublishVersion(ctx context.Context, organizationID int64, versionID, actor string) error

	SaveAttribute(ctx context.Context, attribute *models.Attribute) error
	DeleteAttribute(ctx context.Context, attributeID string) error
	InboundReferences(ctx context.Context, organizationID int64, versionID string) ([]*InboundReference, error)
}

type RecordRepository interface {
	// Get loads a live record with its live attribute values.
	Get(ctx context.Context, organizationID int64, recordID string) (*models.Record, error)
	// GetMany loads live records with their values, skipping ids that do not resolve.
	GetMany(ctx context.Context, organizationID int64, recordIDs []string) ([]*models.Record, error)
	Save(ctx context.Context, record *models.Record) error
	Delete(ctx context.Context, organizationID int64, recordID, actor string) error

	SaveValue(ctx context.Context, value *models.AttributeValue, sequence bool) error
	DeleteValue(ctx context.Context, valueID, actor string) error
	// DeleteReferencesTo soft-deletes every live value pointing at the record and returns them.
	DeleteReferencesTo(ctx context.Context, recordID, actor string) ([]*models.AttributeValue, error)
	AppendLog(ctx context.Context, log *models.AttributeValueLog) error
	History(ctx context.Context, organizationID int64, recordID string) ([]*models.AttributeValueLog, error)

	// MaxSequence returns the largest number ever written for a sequence attribute,
	// deleted values included.
	MaxSequence(ctx context.Context, attributeID string) (float64, bool, error)
	SequenceTaken(ctx context.Context, attributeID string, number float64) (bool, error)

	SelectIDs(ctx context.Context, stmt query.Statement) ([]string, error)
	Count(ctx context.Context, stmt query.Statement) (int64, error)
	Links(ctx context.Context, stmt query.Statement) ([]query.Link, error)
}

type WorkflowRepository interface {
	Get(ctx context.Context, organizationID int64, workflowID string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, organizationID int64, workflowID, actor string) error

	Version(ctx context.Context, organizationID int64, versionID string) (*models.WorkflowVersion, error)
	SaveVersion(ctx context.Context, version *models.WorkflowVersion) error
	PublishVersion(ctx context.Context, organizationID int64, versionID, actor string) error
	MaxVersion(ctx context.Context, workflowID string) (int, error)
	// BySchemaVersion lists every live workflow version attached to a schema version by position.
	BySchemaVersion(ctx context.Context, organizationID int64, schemaVersionID string) ([]*models.WorkflowVersion, error)
	// Active returns, per workflow, the published version or else the latest one, that gates
	// the trigger on the schema version.
	Active(ctx context.Context, organizationID int64, schemaVersionID string, trigger models.WorkflowTrigger) ([]*models.WorkflowVersion, error)
}
