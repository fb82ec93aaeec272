package workflow_test

import (
	"context"
	"errors"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/nodebase/pkg/attributes"
	"github.com/dukex/nodebase/pkg/cache"
	"github.com/dukex/nodebase/pkg/eventbus"
	"github.com/dukex/nodebase/pkg/events"
	"github.com/dukex/nodebase/pkg/mocks"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/otelhelper"
	"github.com/dukex/nodebase/pkg/persistence/postgresql"
	"github.com/dukex/nodebase/pkg/query"
	"github.com/dukex/nodebase/pkg/registry"
	"github.com/dukex/nodebase/pkg/services"
	"github.com/dukex/nodebase/pkg/workflow"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	organizationID int64 = 42
	actor                = "tester"
)

var postgresContainer *postgres.PostgresContainer

func TestMain(m *testing.M) {
	code := m.Run()

	if postgresContainer != nil {
		_ = testcontainers.TerminateContainer(postgresContainer)
	}

	os.Exit(code)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]events.EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.GetType())
	}

	return types
}

type pipelineEnv struct {
	ctx       context.Context
	pipeline  *workflow.Pipeline
	schemas   *services.Schema
	records   *services.Records
	workflows *services.Workflows
	published *recordingPublisher
	build     func(publisher eventbus.EventPublisher) *workflow.Pipeline
}

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{
		"workflow_versions", "workflows", "attribute_value_logs", "attribute_values", "records",
		"attributes", "schema_versions", "schema_definitions", "schema_migrations",
	} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())
}

func setupPipeline(t *testing.T) *pipelineEnv {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("nodebase_test"),
			postgres.WithUsername("nodebase"),
			postgres.WithPassword("nodebase"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)
		require.NoError(t, p.Close(ctx))
		cancel()
	})

	r := registry.NewRegistry(logger)
	r.RegisterDefaults()

	compiler := workflow.NewCompiler(r)
	tracer := otelhelper.NewNoopTracer("workflow-test")
	schemas := services.NewSchema(p, cache.NewNoop(), logger, tracer)
	records := services.NewRecords(p, schemas, services.NewSequence(logger), logger, tracer)
	published := &recordingPublisher{}

	build := func(publisher eventbus.EventPublisher) *workflow.Pipeline {
		return workflow.NewPipeline(p, schemas, records, compiler, publisher, logger, tracer)
	}

	return &pipelineEnv{
		ctx:       ctx,
		pipeline:  build(published),
		schemas:   schemas,
		records:   records,
		workflows: services.NewWorkflows(p, schemas, compiler, logger, tracer),
		published: published,
		build:     build,
	}
}

func (e *pipelineEnv) createSchema(t *testing.T, name string, attrs ...services.AttributePayload) *models.SchemaVersion {
	t.Helper()

	version, err := e.schemas.Create(e.ctx, organizationID, actor, services.SchemaPayload{Name: name, Attributes: attrs})
	require.NoError(t, err)

	return version
}

func (e *pipelineEnv) attachWorkflow(t *testing.T, version *models.SchemaVersion, trigger models.WorkflowTrigger, config string) {
	t.Helper()

	_, err := e.workflows.Create(e.ctx, organizationID, actor, services.WorkflowPayload{
		Name:            fmt.Sprintf("%s-%s", version.Name, trigger),
		SchemaVersionID: version.ID,
		Trigger:         trigger,
		Config:          json.RawMessage(config),
	})
	require.NoError(t, err)
}

func (e *pipelineEnv) count(t *testing.T, version *models.SchemaVersion) int64 {
	t.Helper()

	_, total, err := e.records.Find(e.ctx, organizationID, version.ID, query.Options{})
	require.NoError(t, err)

	return total
}

func attr(name, attributeType, options string) services.AttributePayload {
	payload := services.AttributePayload{Name: name, Type: attributes.Type(attributeType)}

	if options != "" {
		payload.Options = json.RawMessage(options)
	}

	return payload
}

const limitWorkflow = `{
  "id": "limit",
  "initial": "checking",
  "states": {
    "checking": {
      "always": [
        {
          "target": "rejected",
          "cond": {"type": "matchProperty", "property": "total", "moreThan": {"value": 100}},
          "actions": {"type": "setPropertyError", "property": "total", "message": "total is above 100"}
        },
        {"target": "accepted"}
      ]
    },
    "rejected": {"type": "final"},
    "accepted": {"type": "final"}
  }
}`

func TestPipeline_WritesWithoutWorkflows(t *testing.T) {
	env := setupPipeline(t)

	order := env.createSchema(t, "order", attr("total", "Number", ""))

	data, err := env.pipeline.Create(env.ctx, organizationID, actor, models.RecordData{
		"schemaVersionId": order.ID,
		"total":           float64(42),
	})
	require.NoError(t, err)
	assert.InDelta(t, 42, data["total"], 0)

	updated, err := env.pipeline.Update(env.ctx, organizationID, actor, data.ID(), models.RecordData{"total": float64(43)})
	require.NoError(t, err)
	assert.InDelta(t, 43, updated["total"], 0)

	assert.Equal(t, []events.EventType{events.RecordUpsertedEvent, events.RecordUpsertedEvent}, env.published.types())

	upserted, ok := env.published.events[1].(events.RecordUpserted)
	require.True(t, ok)
	assert.Equal(t, data.ID(), upserted.RecordID)
	assert.Equal(t, order.ID, upserted.SchemaVersionID)
	assert.Equal(t, organizationID, upserted.OrganizationID)
}

func TestPipeline_WorkflowRejectsWrite(t *testing.T) {
	env := setupPipeline(t)

	order := env.createSchema(t, "order", attr("total", "Number", ""))
	env.attachWorkflow(t, order, models.TriggerCreate, limitWorkflow)
	env.attachWorkflow(t, order, models.TriggerUpdate, `{
	  "initial": "a",
	  "states": {"a": {"always": {"cond": {"type": "isEmptyProperty", "property": "total"}, "actions": {"type": "setPropertyError", "property": "total", "message": "total is required"}}}}
	}`)

	_, err := env.pipeline.Create(env.ctx, organizationID, actor, models.RecordData{"schemaVersionId": order.ID, "total": float64(150)})
	require.Error(t, err)

	validation, ok := services.IsWorkflowValidationError(err)
	require.True(t, ok)
	assert.Equal(t, []models.FieldError{{AttributeName: "total", Message: "total is above 100"}}, validation.Errors)

	_, err = env.pipeline.Create(env.ctx, organizationID, actor, models.RecordData{"schemaVersionId": order.ID})
	validation, ok = services.IsWorkflowValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "total is required", validation.Errors[0].Message)

	assert.Zero(t, env.count(t, order))
	assert.Empty(t, env.published.types())

	data, err := env.pipeline.Create(env.ctx, organizationID, actor, models.RecordData{"schemaVersionId": order.ID, "total": float64(80)})
	require.NoError(t, err)
	assert.InDelta(t, 80, data["total"], 0)
}

func TestPipeline_SetPropertyChangesTheWrite(t *testing.T) {
	env := setupPipeline(t)

	order := env.createSchema(t, "order", attr("status", "Text", ""), attr("total", "Number", ""))
	env.attachWorkflow(t, order, models.TriggerUpdate, `{
	  "initial": "a",
	  "states": {
	    "a": {"always": {"target": "done", "cond": {"type": "setProperty", "property": "status", "value": "approved"}}},
	    "done": {"type": "final"}
	  }
	}`)

	data, err := env.pipeline.Create(env.ctx, organizationID, actor, models.RecordData{
		"schemaVersionId": order.ID,
		"status":          "draft",
		"total":           float64(5),
	})
	require.NoError(t, err)
	assert.Equal(t, "approved", data["status"])
	assert.InDelta(t, 5, data["total"], 0)
}

func TestPipeline_ServicesWriteOnce(t *testing.T) {
	env := setupPipeline(t)

	line := env.createSchema(t, "line", attr("amount", "Number", ""))
	order := env.createSchema(t, "order",
		attr("total", "Number", ""),
		attr("lines", "Reference", fmt.Sprintf(`{"schemaVersionId": %q, "referenceType": "One-to-Many"}`, line.ID)),
	)
	env.attachWorkflow(t, order, models.TriggerCreate, `{
	  "initial": "saving",
	  "states": {
	    "saving": {"invoke": {"src": "upsert", "onDone": "linking"}},
	    "linking": {"invoke": {"src": {"type": "addReferenceNode", "attribute": "lines", "payload": {"amount": 1}}, "onDone": "done"}},
	    "done": {"type": "final"}
	  }
	}`)

	data, err := env.pipeline.Create(env.ctx, organizationID, actor, models.RecordData{"schemaVersionId": order.ID, "total": float64(1)})
	require.NoError(t, err)

	lines, ok := data["lines"].([]any)
	require.True(t, ok)
	assert.Len(t, lines, 1)
	assert.EqualValues(t, 1, env.count(t, order))
	assert.EqualValues(t, 1, env.count(t, line))
}

func TestPipeline_NestedPayloadsAreGated(t *testing.T) {
	env := setupPipeline(t)

	line := env.createSchema(t, "line", attr("total", "Number", ""))
	order := env.createSchema(t, "order",
		attr("lines", "Reference", fmt.Sprintf(`{"schemaVersionId": %q, "referenceType": "One-to-Many"}`, line.ID)),
	)
	env.attachWorkflow(t, line, models.TriggerCreate, limitWorkflow)

	_, err := env.pipeline.Create(env.ctx, organizationID, actor, models.RecordData{
		"schemaVersionId": order.ID,
		"lines":           []any{map[string]any{"schemaVersionId": line.ID, "total": float64(500)}},
	})
	_, ok := services.IsWorkflowValidationError(err)
	require.True(t, ok)

	assert.Zero(t, env.count(t, order))
	assert.Zero(t, env.count(t, line))

	data, err := env.pipeline.Create(env.ctx, organizationID, actor, models.RecordData{
		"schemaVersionId": order.ID,
		"lines":           []any{map[string]any{"schemaVersionId": line.ID, "total": float64(50)}},
	})
	require.NoError(t, err)
	assert.Len(t, data["lines"], 1)
	assert.Len(t, env.published.types(), 2, "the order and its line")
}

func TestPipeline_Delete(t *testing.T) {
	env := setupPipeline(t)

	document := env.createSchema(t, "document", attr("locked", "Boolean", ""))
	env.attachWorkflow(t, document, models.TriggerDelete, `{
	  "initial": "a",
	  "states": {
	    "a": {"always": [
	      {"target": "b", "cond": {"type": "matchProperty", "property": "locked", "value": true}, "actions": {"type": "setPropertyError", "property": "locked", "message": "locked documents cannot be deleted"}},
	      {"target": "b"}
	    ]},
	    "b": {"type": "final"}
	  }
	}`)

	locked, err := env.pipeline.Create(env.ctx, organizationID, actor, models.RecordData{"schemaVersionId": document.ID, "locked": true})
	require.NoError(t, err)

	open, err := env.pipeline.Create(env.ctx, organizationID, actor, models.RecordData{"schemaVersionId": document.ID, "locked": false})
	require.NoError(t, err)

	err = env.pipeline.Delete(env.ctx, organizationID, actor, locked.ID())
	_, ok := services.IsWorkflowValidationError(err)
	require.True(t, ok)

	require.NoError(t, env.pipeline.Delete(env.ctx, organizationID, actor, open.ID()))

	assert.EqualValues(t, 1, env.count(t, document))
	assert.Equal(t, events.RecordDeletedEvent, env.published.types()[2])

	err = env.pipeline.Delete(env.ctx, organizationID, actor, open.ID())
	require.ErrorIs(t, err, services.ErrRecordNotFound)
}

func TestPipeline_UpsertMultiple(t *testing.T) {
	env := setupPipeline(t)

	order := env.createSchema(t, "order", attr("total", "Number", ""))
	env.attachWorkflow(t, order, models.TriggerCreate, limitWorkflow)

	existing, err := env.pipeline.Create(env.ctx, organizationID, actor, models.RecordData{"schemaVersionId": order.ID, "total": float64(1)})
	require.NoError(t, err)

	data, err := env.pipeline.UpsertMultiple(env.ctx, organizationID, actor, []models.RecordData{
		{"id": existing.ID(), "total": float64(2)},
		{"schemaVersionId": order.ID, "total": float64(3)},
	})
	require.NoError(t, err)
	require.Len(t, data, 2)
	assert.Equal(t, existing.ID(), data[0].ID())
	assert.InDelta(t, 2, data[0]["total"], 0)

	_, err = env.pipeline.UpsertMultiple(env.ctx, organizationID, actor, []models.RecordData{
		{"schemaVersionId": order.ID, "total": float64(4)},
		{"schemaVersionId": order.ID, "total": float64(400)},
	})
	_, ok := services.IsWorkflowValidationError(err)
	require.True(t, ok)
	assert.EqualValues(t, 2, env.count(t, order), "a rejected batch writes nothing")

	_, err = env.pipeline.UpsertMultiple(env.ctx, organizationID, actor, []models.RecordData{{"total": float64(4)}})
	require.ErrorIs(t, err, services.ErrInvalidRequest)
}

func TestPipeline_PublishFailureKeepsTheWrite(t *testing.T) {
	env := setupPipeline(t)

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.AnythingOfType("string"), mock.AnythingOfType("events.RecordUpserted")).
		Return(errors.New("broker unavailable")).Once()

	order := env.createSchema(t, "order", attr("total", "Number", ""))

	data, err := env.build(bus).Create(env.ctx, organizationID, actor, models.RecordData{
		"schemaVersionId": order.ID,
		"total":           float64(7),
	})
	require.NoError(t, err)

	bus.AssertExpectations(t)
	bus.AssertCalled(t, "Publish", mock.Anything, data.ID(), mock.Anything)
	assert.EqualValues(t, 1, env.count(t, order))
}
