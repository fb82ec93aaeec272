package registry

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	upserts        int
	deletes        int
	references     map[string]models.RecordData
	backReferences map[string]models.RecordData
}

func (w *recordingWriter) Upsert(context.Context, *Context) error {
	w.upserts++

	return nil
}

func (w *recordingWriter) Delete(context.Context, *Context) error {
	w.deletes++

	return nil
}

func (w *recordingWriter) AddReferenceNode(_ context.Context, _ *Context, name string, payload models.RecordData) error {
	if w.references == nil {
		w.references = map[string]models.RecordData{}
	}

	w.references[name] = payload

	return nil
}

func (w *recordingWriter) AddBackReferenceNode(_ context.Context, _ *Context, name string, payload models.RecordData) error {
	if w.backReferences == nil {
		w.backReferences = map[string]models.RecordData{}
	}

	w.backReferences[name] = payload

	return nil
}

func newTestRegistry() *Registry {
	r := NewRegistry(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	r.RegisterDefaults()

	return r
}

func newTestContext(data models.RecordData) *Context {
	return &Context{
		Data:   data,
		Delta:  models.RecordData{},
		Logger: slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
}

func runGuard(t *testing.T, name string, c *Context, meta Meta) bool {
	t.Helper()

	guard, err := newTestRegistry().Guard(name)
	require.NoError(t, err)

	ok, err := guard(c, meta)
	require.NoError(t, err)

	return ok
}

func TestRegistry_UnknownNames(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Guard("isMagic")
	require.ErrorIs(t, err, ErrNotRegistered)
	assert.Contains(t, err.Error(), "isMagic")

	_, err = r.Action("explode")
	require.ErrorIs(t, err, ErrNotRegistered)

	_, err = r.Service("teleport")
	require.ErrorIs(t, err, ErrNotRegistered)
}

func TestRegistry_Names(t *testing.T) {
	guards, actions, services := newTestRegistry().Names()

	assert.Equal(t, []string{"hasMany", "hasProperty", "isEmptyProperty", "matchProperty", "setProperty", "setPropertyError"}, guards)
	assert.Contains(t, actions, "showMessage")
	assert.Contains(t, actions, "disableAttributes")
	assert.Equal(t, []string{"addBackReferenceNode", "addReferenceNode", "delete", "update", "upsert"}, services)
}

func TestGuard_HasMany(t *testing.T) {
	c := newTestContext(models.RecordData{
		"lines": []any{map[string]any{"id": "a"}},
		"tags":  []any{},
	})

	assert.True(t, runGuard(t, "hasMany", c, Meta{"properties": []any{"lines"}}))
	assert.False(t, runGuard(t, "hasMany", c, Meta{"properties": []any{"lines", "tags"}}))
	assert.False(t, runGuard(t, "hasMany", c, Meta{"properties": []any{"missing"}}))
	assert.False(t, runGuard(t, "hasMany", c, Meta{}))
}

func TestGuard_HasProperty(t *testing.T) {
	c := newTestContext(models.RecordData{"name": "Ada", "age": nil})

	assert.True(t, runGuard(t, "hasProperty", c, Meta{"property": "name"}))
	assert.True(t, runGuard(t, "hasProperty", c, Meta{"properties": []any{"name", "age"}}))
	assert.False(t, runGuard(t, "hasProperty", c, Meta{"properties": []any{"name", "email"}}))
	assert.False(t, runGuard(t, "hasProperty", newTestContext(nil), Meta{"property": "name"}))
}

func TestGuard_IsEmptyProperty(t *testing.T) {
	c := newTestContext(models.RecordData{
		"zero":   float64(0),
		"blank":  "",
		"none":   []any{},
		"filled": "x",
		"nested": map[string]any{"city": ""},
	})

	for _, property := range []string{"zero", "blank", "none", "missing", "nested.city"} {
		assert.True(t, runGuard(t, "isEmptyProperty", c, Meta{"property": property}), property)
	}

	assert.False(t, runGuard(t, "isEmptyProperty", c, Meta{"property": "filled"}))
}

func TestGuard_MatchProperty(t *testing.T) {
	c := newTestContext(models.RecordData{
		"status":   "open",
		"total":    float64(120),
		"limit":    float64(100),
		"due":      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		"customer": map[string]any{"tier": "gold"},
	})

	tests := []struct {
		name string
		meta Meta
		want bool
	}{
		{"equal literal", Meta{"property": "status", "value": "open"}, true},
		{"equal number across types", Meta{"property": "total", "value": 120}, true},
		{"dotted path", Meta{"property": "customer.tier", "value": "gold"}, true},
		{"not value", Meta{"property": "status", "not": map[string]any{"value": "open"}}, false},
		{"not property", Meta{"property": "total", "not": map[string]any{"property": "limit"}}, true},
		{"more than value", Meta{"property": "total", "moreThan": map[string]any{"value": 100}}, true},
		{"more than property", Meta{"property": "total", "moreThan": map[string]any{"property": "limit"}}, true},
		{"more than or equal", Meta{"property": "total", "moreThanOrEqual": map[string]any{"value": 120}}, true},
		{"less than", Meta{"property": "total", "lessThan": map[string]any{"value": 120}}, false},
		{"less than or equal property", Meta{"property": "limit", "lessThanOrEqual": map[string]any{"property": "total"}}, true},
		{"date against text", Meta{"property": "due", "lessThan": map[string]any{"value": "2024-06-01T00:00:00Z"}}, true},
		{"number against text is unordered", Meta{"property": "total", "moreThan": map[string]any{"value": "1"}}, false},
		{"missing property", Meta{"property": "missing", "value": "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, runGuard(t, "matchProperty", c, tt.meta))
		})
	}
}

func TestGuard_MatchPropertyWithoutComparison(t *testing.T) {
	guard, err := newTestRegistry().Guard("matchProperty")
	require.NoError(t, err)

	_, err = guard(newTestContext(models.RecordData{"a": 1}), Meta{"property": "a"})
	require.Error(t, err)
}

func TestGuard_SetPropertyWritesDelta(t *testing.T) {
	c := newTestContext(models.RecordData{"status": "draft"})

	assert.True(t, runGuard(t, "setProperty", c, Meta{"property": "status", "value": "approved"}))
	assert.Equal(t, "approved", c.Data["status"])
	assert.Equal(t, "approved", c.Delta["status"])
}

func TestGuard_SetPropertyError(t *testing.T) {
	c := newTestContext(models.RecordData{})

	assert.True(t, runGuard(t, "setPropertyError", c, Meta{"property": "total", "message": "too high"}))
	assert.Equal(t, []models.FieldError{{AttributeName: "total", Message: "too high"}}, c.Errors)
}

func TestActions(t *testing.T) {
	r := newTestRegistry()
	c := newTestContext(models.RecordData{})

	action, err := r.Action("setPropertyError")
	require.NoError(t, err)
	require.NoError(t, action(c, Meta{"property": "name", "message": "required"}))

	action, err = r.Action("showMessage")
	require.NoError(t, err)
	require.NoError(t, action(c, Meta{"message": "hello"}))

	action, err = r.Action("disableAllAttributes")
	require.NoError(t, err)
	require.NoError(t, action(c, Meta{}))

	assert.Equal(t, []models.FieldError{{AttributeName: "name", Message: "required"}}, c.Errors)
	assert.Equal(t, []string{"hello"}, c.Messages)
}

func TestServices(t *testing.T) {
	r := newTestRegistry()
	writer := &recordingWriter{}
	c := newTestContext(models.RecordData{"line": map[string]any{"amount": 3}})
	c.Writer = writer

	for _, name := range []string{"upsert", "update"} {
		service, err := r.Service(name)
		require.NoError(t, err)
		require.NoError(t, service(context.Background(), c, Meta{}))
	}

	service, err := r.Service("delete")
	require.NoError(t, err)
	require.NoError(t, service(context.Background(), c, Meta{}))

	service, err = r.Service("addReferenceNode")
	require.NoError(t, err)
	require.NoError(t, service(context.Background(), c, Meta{"attribute": "lines", "property": "line"}))

	service, err = r.Service("addBackReferenceNode")
	require.NoError(t, err)
	require.NoError(t, service(context.Background(), c, Meta{"backReference": "notes", "payload": map[string]any{"text": "hi"}}))

	err = service(context.Background(), c, Meta{})
	require.Error(t, err)

	assert.Equal(t, 2, writer.upserts)
	assert.Equal(t, 1, writer.deletes)
	assert.Equal(t, models.RecordData{"amount": 3}, writer.references["lines"])
	assert.Equal(t, models.RecordData{"text": "hi"}, writer.backReferences["notes"])
}

func TestServices_NoWriter(t *testing.T) {
	service, err := newTestRegistry().Service("upsert")
	require.NoError(t, err)

	err = service(context.Background(), newTestContext(nil), Meta{})
	require.ErrorIs(t, err, errNoWriter)
}
