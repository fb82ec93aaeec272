package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukex/nodebase/pkg/eventbus"
	"github.com/dukex/nodebase/pkg/events"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/otelhelper"
	"github.com/dukex/nodebase/pkg/persistence"
	"github.com/dukex/nodebase/pkg/registry"
	"github.com/dukex/nodebase/pkg/services"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Pipeline applies record writes through the workflows gating them. Each call runs in one
// transaction: nested record payloads, workflow services and the write itself commit or
// roll back together. Record events are published after the commit.
type Pipeline struct {
	persistence persistence.Persistence
	schemas     *services.Schema
	records     *services.Records
	compiler    *Compiler
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewPipeline(
	p persistence.Persistence,
	schemas *services.Schema,
	records *services.Records,
	compiler *Compiler,
	publisher eventbus.EventPublisher,
	logger *slog.Logger,
	tracer trace.Tracer,
) *Pipeline {
	return &Pipeline{
		persistence: p,
		schemas:     schemas,
		records:     records,
		compiler:    compiler,
		publisher:   publisher,
		logger:      logger,
		tracer:      tracer,
	}
}

// Create writes a new record. The payload names its schema version and holds attribute
// values by name, or in the attributeValues wire form.
func (p *Pipeline) Create(ctx context.Context, organizationID int64, actor string, payload models.RecordData) (data models.RecordData, err error) {
	ctx, span := p.startSpan(ctx, "pipeline.create", organizationID, actor)
	defer func() { finish(span, err) }()

	payload = payload.Clone()
	delete(payload, models.FieldID)

	return p.write(ctx, organizationID, actor, func(ctx context.Context, scope *services.WriteScope) (string, error) {
		return p.upsert(ctx, scope, payload)
	})
}

// Update merges the payload into an existing record. The schema version defaults to the
// record's own.
func (p *Pipeline) Update(ctx context.Context, organizationID int64, actor, recordID string, payload models.RecordData) (data models.RecordData, err error) {
	ctx, span := p.startSpan(ctx, "pipeline.update", organizationID, actor, attribute.String(otelhelper.RecordIDKey, recordID))
	defer func() { finish(span, err) }()

	payload = payload.Clone()
	payload[models.FieldID] = recordID

	return p.write(ctx, organizationID, actor, func(ctx context.Context, scope *services.WriteScope) (string, error) {
		return p.upsert(ctx, scope, payload)
	})
}

// UpsertMultiple creates the payloads without an id and updates the others, all in one
// transaction.
func (p *Pipeline) UpsertMultiple(ctx context.Context, organizationID int64, actor string, payloads []models.RecordData) (data []models.RecordData, err error) {
	ctx, span := p.startSpan(ctx, "pipeline.upsert_multiple", organizationID, actor, attribute.Int("nodebase.records.count", len(payloads)))
	defer func() { finish(span, err) }()

	var ids []string

	scope, err := p.inTx(ctx, organizationID, actor, func(ctx context.Context, scope *services.WriteScope) error {
		for _, payload := range payloads {
			id, err := p.upsert(ctx, scope, payload)
			if err != nil {
				return err
			}

			ids = append(ids, id)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	data = make([]models.RecordData, 0, len(ids))

	for _, id := range ids {
		record, err := p.records.FindByID(ctx, organizationID, id, services.Include{})
		if err != nil {
			return nil, err
		}

		data = append(data, record)
	}

	p.publish(ctx, scope)

	return data, nil
}

// Delete soft deletes a record through its delete workflows.
func (p *Pipeline) Delete(ctx context.Context, organizationID int64, actor, recordID string) (err error) {
	ctx, span := p.startSpan(ctx, "pipeline.delete", organizationID, actor, attribute.String(otelhelper.RecordIDKey, recordID))
	defer func() { finish(span, err) }()

	scope, err := p.inTx(ctx, organizationID, actor, func(ctx context.Context, scope *services.WriteScope) error {
		return p.delete(ctx, scope, recordID)
	})
	if err != nil {
		return err
	}

	p.publish(ctx, scope)

	return nil
}

// CreateReferenceNode creates a record from payload and links it to the source record
// through the named reference attribute. The created record passes through its own
// workflows.
func (p *Pipeline) CreateReferenceNode(ctx context.Context, organizationID int64, actor, sourceID, attributeName string, payload models.RecordData) (data models.RecordData, err error) {
	ctx, span := p.startSpan(ctx, "pipeline.create_reference_node", organizationID, actor,
		attribute.String(otelhelper.RecordIDKey, sourceID), attribute.String(otelhelper.AttributeNameKey, attributeName))
	defer func() { finish(span, err) }()

	return p.write(ctx, organizationID, actor, func(ctx context.Context, scope *services.WriteScope) (string, error) {
		source, err := p.records.CreateReferenceNode(ctx, scope, sourceID, attributeName, payload)
		if err != nil {
			return "", err
		}

		if !slices.Contains(scope.Upserted, source.ID) {
			scope.Upserted = append(scope.Upserted, source.ID)
		}

		return source.ID, nil
	})
}

// write runs fn in a transaction and returns the normalized record it names.
func (p *Pipeline) write(ctx context.Context, organizationID int64, actor string, fn func(ctx context.Context, scope *services.WriteScope) (string, error)) (models.RecordData, error) {
	var id string

	scope, err := p.inTx(ctx, organizationID, actor, func(ctx context.Context, scope *services.WriteScope) error {
		var err error

		id, err = fn(ctx, scope)

		return err
	})
	if err != nil {
		return nil, err
	}

	data, err := p.records.FindByID(ctx, organizationID, id, services.Include{})
	if err != nil {
		return nil, err
	}

	p.publish(ctx, scope)

	return data, nil
}

func (p *Pipeline) inTx(ctx context.Context, organizationID int64, actor string, fn func(ctx context.Context, scope *services.WriteScope) error) (*services.WriteScope, error) {
	var scope *services.WriteScope

	err := p.persistence.InTx(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		scope = &services.WriteScope{
			Repos:          repos,
			OrganizationID: organizationID,
			Actor:          actor,
			Nested:         p.nested,
		}

		return fn(ctx, scope)
	})
	if err != nil {
		if _, ok := services.IsWorkflowValidationError(err); ok {
			p.logger.InfoContext(ctx, "write rejected by workflow", "error", err)
		}

		return nil, err
	}

	return scope, nil
}

func (p *Pipeline) nested(ctx context.Context, scope *services.WriteScope, payload models.RecordData) (string, error) {
	return p.upsert(ctx, scope, payload)
}

// upsert writes one payload through the workflows gating it. New records run the Create
// and then the Update workflows, existing records the Update workflows.
func (p *Pipeline) upsert(ctx context.Context, scope *services.WriteScope, payload models.RecordData) (string, error) {
	recordID := payload.ID()
	versionID, _ := payload[models.FieldSchemaVersionID].(string)

	var existing *models.Record

	if recordID != "" {
		record, err := scope.Repos.Records().Get(ctx, scope.OrganizationID, recordID)
		if err != nil {
			return "", err
		}

		existing = record

		if versionID == "" {
			versionID = record.SchemaVersionID
		}
	}

	if versionID == "" {
		return "", services.NewValidationError("Upsert", "MISSING_SCHEMA_VERSION", "record has no schemaVersionId", services.ErrInvalidRequest)
	}

	version, err := p.schemas.Version(ctx, scope.Repos, scope.OrganizationID, versionID)
	if err != nil {
		return "", err
	}

	delta, err := services.Delta(version, payload)
	if err != nil {
		return "", err
	}

	triggers := []models.WorkflowTrigger{models.TriggerUpdate}
	if existing == nil {
		triggers = []models.WorkflowTrigger{models.TriggerCreate, models.TriggerUpdate}
	}

	workflows, err := p.active(ctx, scope, version.ID, triggers...)
	if err != nil {
		return "", err
	}

	if len(workflows) == 0 {
		record, err := p.records.Upsert(ctx, scope, version, recordID, delta)
		if err != nil {
			return "", err
		}

		return record.ID, nil
	}

	original := models.RecordData{}

	if existing != nil {
		original, err = p.records.Normalize(ctx, scope.Repos, scope.OrganizationID, existing, services.Include{})
		if err != nil {
			return "", err
		}
	}

	data := original.Clone()
	for key, value := range delta {
		data[key] = value
	}

	w := &writer{pipeline: p, scope: scope, version: version}
	c := &registry.Context{
		Schema:         version,
		Trigger:        triggers[0],
		OrganizationID: scope.OrganizationID,
		Actor:          scope.Actor,
		RecordID:       recordID,
		Data:           data,
		Original:       original,
		Delta:          delta.Clone(),
		Writer:         w,
		Logger:         p.logger,
	}

	err = p.gate(ctx, c, workflows)
	if err != nil {
		return "", err
	}

	err = w.Upsert(ctx, c)
	if err != nil {
		return "", err
	}

	return c.RecordID, nil
}

func (p *Pipeline) delete(ctx context.Context, scope *services.WriteScope, recordID string) error {
	record, err := scope.Repos.Records().Get(ctx, scope.OrganizationID, recordID)
	if err != nil {
		return err
	}

	workflows, err := p.active(ctx, scope, record.SchemaVersionID, models.TriggerDelete)
	if err != nil {
		return err
	}

	if len(workflows) == 0 {
		return p.records.Delete(ctx, scope, recordID)
	}

	version, err := p.schemas.Version(ctx, scope.Repos, scope.OrganizationID, record.SchemaVersionID)
	if err != nil {
		return err
	}

	original, err := p.records.Normalize(ctx, scope.Repos, scope.OrganizationID, record, services.Include{})
	if err != nil {
		return err
	}

	w := &writer{pipeline: p, scope: scope, version: version}
	c := &registry.Context{
		Schema:         version,
		Trigger:        models.TriggerDelete,
		OrganizationID: scope.OrganizationID,
		Actor:          scope.Actor,
		RecordID:       recordID,
		Data:           original.Clone(),
		Original:       original,
		Delta:          models.RecordData{},
		Writer:         w,
		Logger:         p.logger,
	}

	err = p.gate(ctx, c, workflows)
	if err != nil {
		return err
	}

	return w.Delete(ctx, c)
}

// gate runs every workflow machine to completion before any requested service runs. When a
// machine collected errors nothing is written and all errors are returned together.
func (p *Pipeline) gate(ctx context.Context, c *registry.Context, workflows []*models.WorkflowVersion) error {
	var pending []Invocation

	for _, workflow := range workflows {
		machine, err := p.compiler.Compile(workflow.Config)
		if err != nil {
			return fmt.Errorf("workflow %s version %d: %w", workflow.Name, workflow.Version, err)
		}

		invocations, err := machine.Run(c)
		if err != nil {
			return fmt.Errorf("workflow %s version %d: %w", workflow.Name, workflow.Version, err)
		}

		p.logger.DebugContext(ctx, "workflow run finished",
			"workflow_version_id", workflow.ID, "record_id", c.RecordID, "errors", len(c.Errors), "services", len(invocations))

		pending = append(pending, invocations...)
	}

	if len(c.Errors) > 0 {
		return &services.WorkflowValidationError{Errors: c.Errors}
	}

	for _, invocation := range pending {
		err := invocation.Run(ctx, c)
		if err != nil {
			return err
		}
	}

	return nil
}

// active returns the workflows gating the triggers, ordered by position with the triggers
// in the given order.
func (p *Pipeline) active(ctx context.Context, scope *services.WriteScope, versionID string, triggers ...models.WorkflowTrigger) ([]*models.WorkflowVersion, error) {
	var workflows []*models.WorkflowVersion

	for _, trigger := range triggers {
		found, err := scope.Repos.Workflows().Active(ctx, scope.OrganizationID, versionID, trigger)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, found...)
	}

	return workflows, nil
}

// publish reports the records a committed write touched. Failures are logged: the write
// itself already committed.
func (p *Pipeline) publish(ctx context.Context, scope *services.WriteScope) {
	for _, id := range scope.Upserted {
		if slices.Contains(scope.Deleted, id) {
			continue
		}

		data, err := p.records.FindByID(ctx, scope.OrganizationID, id, services.Include{})
		if err != nil {
			p.logger.ErrorContext(ctx, "failed to load upserted record for publishing", "record_id", id, "error", err)

			continue
		}

		versionID, _ := data[models.FieldSchemaVersionID].(string)

		err = p.publisher.Publish(ctx, id, events.RecordUpserted{
			BaseEvent:       events.NewBaseEvent(events.RecordUpsertedEvent, scope.OrganizationID, scope.Actor),
			RecordID:        id,
			SchemaVersionID: versionID,
			Record:          data,
		})
		if err != nil {
			p.logger.ErrorContext(ctx, "failed to publish record event", "record_id", id, "event_type", events.RecordUpsertedEvent, "error", err)
		}
	}

	for _, id := range scope.Deleted {
		err := p.publisher.Publish(ctx, id, events.RecordDeleted{
			BaseEvent: events.NewBaseEvent(events.RecordDeletedEvent, scope.OrganizationID, scope.Actor),
			RecordID:  id,
		})
		if err != nil {
			p.logger.ErrorContext(ctx, "failed to publish record event", "record_id", id, "event_type", events.RecordDeletedEvent, "error", err)
		}
	}
}

// nolint:spancheck // the span is ended by finish
func (p *Pipeline) startSpan(ctx context.Context, name string, organizationID int64, actor string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.Int64(otelhelper.OrganizationIDKey, organizationID),
		attribute.String(otelhelper.ActorKey, actor))

	return otelhelper.StartSpan(ctx, p.tracer, name, attrs...)
}

func finish(span trace.Span, err error) {
	otelhelper.End(span, err)
}
