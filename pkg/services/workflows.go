package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/otelhelper"
	"github.com/dukex/nodebase/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ConfigCompiler checks a workflow machine configuration, resolving every guard, action and
// service it names.
type ConfigCompiler interface {
	CompileConfig(config json.RawMessage) error
}

// WorkflowPayload describes a workflow version as authored by a caller.
type WorkflowPayload struct {
	Name            string                 `json:"name"            validate:"required,max=255"`
	Label           string                 `json:"label"           validate:"max=255"`
	SchemaVersionID string                 `json:"schemaVersionId" validate:"required,uuid"`
	Trigger         models.WorkflowTrigger `json:"trigger"         validate:"required,oneof=Create Read Update Delete"`
	Position        int                    `json:"position"        validate:"min=0"`
	Config          json.RawMessage        `json:"config"          validate:"required"`
	SampleData      json.RawMessage        `json:"sampleData,omitempty"`
}

// Workflows manages versioned workflow definitions.
type Workflows struct {
	persistence persistence.Persistence
	schemas     *Schema
	compiler    ConfigCompiler
	validate    *validator.Validate
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewWorkflows(p persistence.Persistence, schemas *Schema, compiler ConfigCompiler, logger *slog.Logger, tracer trace.Tracer) *Workflows {
	return &Workflows{
		persistence: p,
		schemas:     schemas,
		compiler:    compiler,
		validate:    validator.New(),
		logger:      logger,
		tracer:      tracer,
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflows) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (w *Workflows) FindByVersionID(ctx context.Context, organizationID int64, versionID string) (version *models.WorkflowVersion, err error) {
	ctx, span := startSpan(ctx, w.tracer, "workflows.find_by_version_id", organizationID, attribute.String(otelhelper.WorkflowVersionIDKey, versionID))
	defer func() { finish(span, err) }()

	return w.persistence.Workflows().Version(ctx, organizationID, versionID)
}

// FindByNodeSchemaVersionID lists the workflow versions attached to a schema version.
func (w *Workflows) FindByNodeSchemaVersionID(ctx context.Context, organizationID int64, schemaVersionID string) (versions []*models.WorkflowVersion, err error) {
	ctx, span := startSpan(ctx, w.tracer, "workflows.find_by_schema_version_id", organizationID, attribute.String(otelhelper.SchemaVersionIDKey, schemaVersionID))
	defer func() { finish(span, err) }()

	return w.persistence.Workflows().BySchemaVersion(ctx, organizationID, schemaVersionID)
}

// Create stores a workflow with its first version.
func (w *Workflows) Create(ctx context.Context, organizationID int64, actor string, payload WorkflowPayload) (version *models.WorkflowVersion, err error) {
	ctx, span := startSpan(ctx, w.tracer, "workflows.create", organizationID, attribute.String(otelhelper.ActorKey, actor))
	defer func() { finish(span, err) }()

	err = w.check(ctx, organizationID, payload)
	if err != nil {
		return nil, err
	}

	err = w.persistence.InTx(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		workflow := &models.Workflow{OrganizationID: organizationID, CreatedBy: actor, ModifiedBy: actor}

		err := repos.Workflows().Save(ctx, workflow)
		if err != nil {
			return err
		}

		version = &models.WorkflowVersion{
			WorkflowID:     workflow.ID,
			OrganizationID: organizationID,
			Version:        1,
			CreatedBy:      actor,
		}
		apply(version, payload, actor)

		return repos.Workflows().SaveVersion(ctx, version)
	})
	if err != nil {
		return nil, err
	}

	w.logger.DebugContext(ctx, "workflow created", "workflow_id", version.WorkflowID, "trigger", version.Trigger)

	return version, nil
}

// Update edits an unpublished workflow version in place.
func (w *Workflows) Update(ctx context.Context, organizationID int64, actor, versionID string, payload WorkflowPayload) (version *models.WorkflowVersion, err error) {
	ctx, span := startSpan(ctx, w.tracer, "workflows.update", organizationID,
		attribute.String(otelhelper.WorkflowVersionIDKey, versionID), attribute.String(otelhelper.ActorKey, actor))
	defer func() { finish(span, err) }()

	err = w.check(ctx, organizationID, payload)
	if err != nil {
		return nil, err
	}

	version, err = w.persistence.Workflows().Version(ctx, organizationID, versionID)
	if err != nil {
		return nil, err
	}

	if version.IsPublished {
		return nil, invalid("Update", "PUBLISHED_VERSION", ErrPublishedVersion,
			"version %d of workflow %s is published, create a new version to change it", version.Version, version.Name)
	}

	apply(version, payload, actor)

	err = w.persistence.Workflows().SaveVersion(ctx, version)
	if err != nil {
		return nil, err
	}

	return version, nil
}

// Publish makes a version the one gating writes for its workflow.
func (w *Workflows) Publish(ctx context.Context, organizationID int64, actor, versionID string) (version *models.WorkflowVersion, err error) {
	ctx, span := startSpan(ctx, w.tracer, "workflows.publish", organizationID,
		attribute.String(otelhelper.WorkflowVersionIDKey, versionID), attribute.String(otelhelper.ActorKey, actor))
	defer func() { finish(span, err) }()

	err = w.persistence.Workflows().PublishVersion(ctx, organizationID, versionID, actor)
	if err != nil {
		return nil, err
	}

	w.logger.InfoContext(ctx, "workflow version published", "workflow_version_id", versionID)

	return w.persistence.Workflows().Version(ctx, organizationID, versionID)
}

// CreateVersion copies a workflow version into a new unpublished version.
func (w *Workflows) CreateVersion(ctx context.Context, organizationID int64, actor, versionID string) (version *models.WorkflowVersion, err error) {
	ctx, span := startSpan(ctx, w.tracer, "workflows.create_version", organizationID,
		attribute.String(otelhelper.WorkflowVersionIDKey, versionID), attribute.String(otelhelper.ActorKey, actor))
	defer func() { finish(span, err) }()

	err = w.persistence.InTx(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		source, err := repos.Workflows().Version(ctx, organizationID, versionID)
		if err != nil {
			return err
		}

		maxVersion, err := repos.Workflows().MaxVersion(ctx, source.WorkflowID)
		if err != nil {
			return err
		}

		draft := *source
		draft.ID = ""
		draft.Version = maxVersion + 1
		draft.IsPublished = false
		draft.PublishedAt = nil
		draft.CreatedBy = actor
		draft.ModifiedBy = actor
		draft.CreatedAt = time.Time{}

		version = &draft

		return repos.Workflows().SaveVersion(ctx, version)
	})
	if err != nil {
		return nil, err
	}

	return version, nil
}

// Delete soft deletes a workflow and its versions.
func (w *Workflows) Delete(ctx context.Context, organizationID int64, actor, workflowID string) (err error) {
	ctx, span := startSpan(ctx, w.tracer, "workflows.delete", organizationID,
		attribute.String(otelhelper.WorkflowIDKey, workflowID), attribute.String(otelhelper.ActorKey, actor))
	defer func() { finish(span, err) }()

	return w.persistence.Workflows().Delete(ctx, organizationID, workflowID, actor)
}

func (w *Workflows) check(ctx context.Context, organizationID int64, payload WorkflowPayload) error {
	err := w.validate.Struct(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	_, err = w.schemas.Version(ctx, w.persistence, organizationID, payload.SchemaVersionID)
	if err != nil {
		if persistence.IsSchemaNotFound(err) {
			return invalid("check", "INVALID_REFERENCE", ErrInvalidReference, "unknown schema version %s", payload.SchemaVersionID)
		}

		return err
	}

	err = w.compiler.CompileConfig(payload.Config)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	return nil
}

func apply(version *models.WorkflowVersion, payload WorkflowPayload, actor string) {
	version.Name = payload.Name
	version.Label = payload.Label
	version.SchemaVersionID = payload.SchemaVersionID
	version.Trigger = payload.Trigger
	version.Position = payload.Position
	version.Config = payload.Config
	version.SampleData = payload.SampleData
	version.ModifiedBy = actor
}
