package web_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/nodebase/pkg/mocks"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/registry"
	"github.com/dukex/nodebase/pkg/services"
	"github.com/dukex/nodebase/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) (*fiber.App, *mocks.MockRecordWriter) {
	t.Helper()

	writer := &mocks.MockRecordWriter{}
	registryInstance := registry.NewRegistry(slog.New(slog.DiscardHandler))
	registryInstance.RegisterDefaults()

	handlers := web.NewAPIHandlers(nil, nil, nil, writer, validator.New(validator.WithRequiredStructEnabled()), registryInstance)

	app := fiber.New()
	handlers.Routes(app)

	t.Cleanup(func() { writer.AssertExpectations(t) })

	return app, writer
}

func request(t *testing.T, app *fiber.App, method, path string, body any, headers map[string]string) (int, []byte) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		encoded, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewBuffer(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, payload
}

func caller() map[string]string {
	return map[string]string{web.HeaderOrganizationID: "42", web.HeaderActor: "ada"}
}

func TestAPIHandlers_Identity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers map[string]string
		detail  string
	}{
		{"missing organization", map[string]string{}, "X-Organization-ID header is required"},
		{"non numeric organization", map[string]string{web.HeaderOrganizationID: "acme"}, "must be a positive integer"},
		{"zero organization", map[string]string{web.HeaderOrganizationID: "0"}, "must be a positive integer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			status, body := request(t, app, http.MethodGet, "/records/abc", nil, tt.headers)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Contains(t, string(body), tt.detail)
		})
	}
}

func TestAPIHandlers_CreateRecord(t *testing.T) {
	t.Parallel()

	app, writer := setupTestApp(t)

	payload := models.RecordData{"schemaVersionId": "v1", "name": "Ada"}
	writer.On("Create", mock.Anything, int64(42), "ada", payload).
		Return(models.RecordData{"id": "r1", "schemaVersionId": "v1", "name": "Ada"}, nil).Once()

	status, body := request(t, app, http.MethodPost, "/records", payload, caller())
	require.Equal(t, http.StatusCreated, status)

	var created map[string]any
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "r1", created["id"])
}

func TestAPIHandlers_CreateVersionRecordUsesPathVersion(t *testing.T) {
	t.Parallel()

	app, writer := setupTestApp(t)

	writer.On("Create", mock.Anything, int64(42), "anonymous", models.RecordData{"schemaVersionId": "v7", "name": "Ada"}).
		Return(models.RecordData{"id": "r1"}, nil).Once()

	status, _ := request(t, app, http.MethodPost, "/schema-versions/v7/records",
		map[string]any{"schemaVersionId": "other", "name": "Ada"},
		map[string]string{web.HeaderOrganizationID: "42"})
	assert.Equal(t, http.StatusCreated, status)
}

func TestAPIHandlers_InvalidJSON(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := request(t, app, http.MethodPatch, "/records/r1", "{not json", caller())
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), "Invalid JSON format")
}

func TestAPIHandlers_ServiceErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{
			name:   "workflow validation",
			err:    &services.WorkflowValidationError{Errors: []models.FieldError{{AttributeName: "total", Message: "too high"}}},
			status: http.StatusUnprocessableEntity,
			kind:   "workflow_validation_error",
		},
		{"validation", fmt.Errorf("upsert: %w", services.ErrUnknownAttribute), http.StatusBadRequest, "validation_error"},
		{"record not found", services.ErrRecordNotFound, http.StatusNotFound, "record_not_found"},
		{"schema version not found", services.ErrSchemaVersionNotFound, http.StatusNotFound, "schema_version_not_found"},
		{"sequence conflict", services.ErrSequenceConflict, http.StatusConflict, "conflict"},
		{"unexpected", errors.New("connection reset"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, writer := setupTestApp(t)

			writer.On("Update", mock.Anything, int64(42), "ada", "r1", mock.Anything).Return(nil, tt.err).Once()

			status, body := request(t, app, http.MethodPatch, "/records/r1", map[string]any{"total": 500}, caller())
			assert.Equal(t, tt.status, status)

			var problem map[string]any
			require.NoError(t, json.Unmarshal(body, &problem))
			assert.Equal(t, tt.kind, problem["type"])
			assert.Equal(t, "/records/r1", problem["instance"])

			if tt.status == http.StatusUnprocessableEntity {
				assert.Equal(t, []any{map[string]any{"attributeName": "total", "message": "too high"}}, problem["errors"])
			}
		})
	}
}

func TestAPIHandlers_UpsertRecords(t *testing.T) {
	t.Parallel()

	app, writer := setupTestApp(t)

	status, body := request(t, app, http.MethodPost, "/records/batch", map[string]any{"records": []any{}}, caller())
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), "Records")

	records := []models.RecordData{{"schemaVersionId": "v1", "name": "Ada"}, {"id": "r2", "name": "Bob"}}
	writer.On("UpsertMultiple", mock.Anything, int64(42), "ada", records).
		Return([]models.RecordData{{"id": "r1"}, {"id": "r2"}}, nil).Once()

	status, body = request(t, app, http.MethodPost, "/records/batch", map[string]any{"records": records}, caller())
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"r2"`)
}

func TestAPIHandlers_DeleteRecord(t *testing.T) {
	t.Parallel()

	app, writer := setupTestApp(t)

	writer.On("Delete", mock.Anything, int64(42), "ada", "r1").Return(nil).Once()

	status, _ := request(t, app, http.MethodDelete, "/records/r1", nil, caller())
	assert.Equal(t, http.StatusNoContent, status)
}

func TestAPIHandlers_CreateReferenceNode(t *testing.T) {
	t.Parallel()

	app, writer := setupTestApp(t)

	writer.On("CreateReferenceNode", mock.Anything, int64(42), "ada", "r1", "address", models.RecordData{"city": "Lisbon"}).
		Return(models.RecordData{"id": "r1", "address": map[string]any{"id": "a1"}}, nil).Once()

	status, body := request(t, app, http.MethodPost, "/records/r1/references/address", map[string]any{"city": "Lisbon"}, caller())
	require.Equal(t, http.StatusCreated, status)
	assert.Contains(t, string(body), `"a1"`)
}

func TestAPIHandlers_FindRecordsRejectsBadQueries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		query  string
		detail string
	}{
		{"where is not json", "where=nope", "invalid where clause"},
		{"where is a scalar", "where=3", "invalid where clause"},
		{"bad order direction", "order=name:sideways", "invalid order"},
		{"limit not a number", "limit=many", "limit must be an integer"},
		{"limit too large", "limit=5000", "Limit"},
		{"include flag not a boolean", "include_references=maybe", "include_references must be a boolean"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			status, body := request(t, app, http.MethodGet, "/schema-versions/v1/records?"+tt.query, nil, caller())
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Contains(t, string(body), tt.detail)
		})
	}
}

func TestAPIHandlers_Registry(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := request(t, app, http.MethodGet, "/registry", nil, nil)
	require.Equal(t, http.StatusOK, status)

	var names map[string][]string
	require.NoError(t, json.Unmarshal(body, &names))
	assert.Contains(t, names["guards"], "matchProperty")
	assert.Contains(t, names["actions"], "setPropertyError")
	assert.Contains(t, names["services"], "upsert")
}

func TestFindRecordsQuery_Options(t *testing.T) {
	t.Parallel()

	opts, err := web.FindRecordsQuery{
		Where:     `[{"name": "Ada"}, {"credit": {"start": 10}}]`,
		Order:     "-credit,name",
		Page:      2,
		Limit:     10,
		Relations: []string{"customer.address"},
	}.Options()
	require.NoError(t, err)

	assert.Len(t, opts.Where, 2)
	require.Len(t, opts.Order, 2)
	assert.True(t, opts.Order[0].Descending)
	assert.Equal(t, "name", opts.Order[1].Key)
	assert.Equal(t, 20, opts.Offset())
	assert.Equal(t, []string{"customer.address"}, opts.Relations)
}
