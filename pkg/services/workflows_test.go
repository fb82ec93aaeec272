package services_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func workflowPayload(schemaVersionID string) services.WorkflowPayload {
	return services.WorkflowPayload{
		Name:            "approval",
		Label:           "Approval",
		SchemaVersionID: schemaVersionID,
		Trigger:         models.TriggerUpdate,
		Config:          json.RawMessage(`{"initial": "a", "states": {"a": {"type": "final"}}}`),
	}
}

func TestWorkflows_Lifecycle(t *testing.T) {
	env := setupEnv(t, nil)

	order := env.createSchema(t, "order", attr("total", "Number", ""))

	created, err := env.workflows.Create(env.ctx, organizationID, actor, workflowPayload(order.ID))
	require.NoError(t, err)
	assert.Equal(t, 1, created.Version)
	assert.False(t, created.IsPublished)

	payload := workflowPayload(order.ID)
	payload.Label = "Order approval"

	updated, err := env.workflows.Update(env.ctx, organizationID, actor, created.ID, payload)
	require.NoError(t, err)
	assert.Equal(t, "Order approval", updated.Label)

	published, err := env.workflows.Publish(env.ctx, organizationID, actor, created.ID)
	require.NoError(t, err)
	assert.True(t, published.IsPublished)

	_, err = env.workflows.Update(env.ctx, organizationID, actor, created.ID, payload)
	require.ErrorIs(t, err, services.ErrPublishedVersion)

	draft, err := env.workflows.CreateVersion(env.ctx, organizationID, actor, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, draft.Version)
	assert.False(t, draft.IsPublished)
	assert.Equal(t, "Order approval", draft.Label)

	attached, err := env.workflows.FindByNodeSchemaVersionID(env.ctx, organizationID, order.ID)
	require.NoError(t, err)
	assert.Len(t, attached, 2)

	active, err := env.p.Workflows().Active(env.ctx, organizationID, order.ID, models.TriggerUpdate)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, created.ID, active[0].ID, "the published version gates writes")

	require.NoError(t, env.workflows.Delete(env.ctx, organizationID, actor, created.WorkflowID))

	_, err = env.workflows.FindByVersionID(env.ctx, organizationID, created.ID)
	require.ErrorIs(t, err, services.ErrWorkflowNotFound)
}

func TestWorkflows_CreateRejects(t *testing.T) {
	env := setupEnv(t, stubCompiler{err: errors.New("guard 'isMagic' not registered")})

	order := env.createSchema(t, "order", attr("total", "Number", ""))

	_, err := env.workflows.Create(env.ctx, organizationID, actor, workflowPayload(order.ID))
	require.ErrorIs(t, err, services.ErrInvalidRequest)
	assert.Contains(t, err.Error(), "isMagic")

	_, err = env.workflows.Create(env.ctx, organizationID, actor, workflowPayload("00000000-0000-4000-8000-000000000000"))
	require.ErrorIs(t, err, services.ErrInvalidReference)

	payload := workflowPayload(order.ID)
	payload.Trigger = "Archive"

	_, err = env.workflows.Create(env.ctx, organizationID, actor, payload)
	require.ErrorIs(t, err, services.ErrInvalidRequest)
}

func TestWorkflows_HealthCheck(t *testing.T) {
	env := setupEnv(t, nil)

	message, ok := env.workflows.HealthCheck(env.ctx)
	assert.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", message)
}
