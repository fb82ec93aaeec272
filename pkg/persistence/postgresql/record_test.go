package postgresql_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dukex/nodebase/pkg/attributes"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/persistence"
	"github.com/dukex/nodebase/pkg/persistence/postgresql"
	"github.com/dukex/nodebase/pkg/query"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

// saveRecord stores a record holding the given values keyed by attribute name.
func saveRecord(ctx context.Context, t *testing.T, p *postgresql.Persistence, version *models.SchemaVersion, values map[string]attributes.Value) *models.Record {
	t.Helper()

	record := &models.Record{OrganizationID: organizationID, SchemaVersionID: version.ID, CreatedBy: "tester", ModifiedBy: "tester"}
	require.NoError(t, p.Records().Save(ctx, record))

	for name, value := range values {
		attribute := version.AttributeByName(name)
		require.NotNil(t, attribute, name)

		require.NoError(t, p.Records().SaveValue(ctx, &models.AttributeValue{
			RecordID:    record.ID,
			AttributeID: attribute.ID,
			Value:       value,
			CreatedBy:   "tester",
			ModifiedBy:  "tester",
		}, attribute.Type == attributes.TypeSequence))
	}

	// keeps created_at strictly ordered between records
	time.Sleep(2 * time.Millisecond)

	return record
}

func TestRecordRepository_ValueSlotsRoundTrip(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	version := createSchema(ctx, t, p, "event",
		textAttribute("title"),
		&models.Attribute{Name: "seats", Type: attributes.TypeNumber, Options: &attributes.NumberOptions{}},
		&models.Attribute{Name: "day", Type: attributes.TypeDateTime, Options: &attributes.DateTimeOptions{DateOnly: true}},
		&models.Attribute{Name: "opens", Type: attributes.TypeDateTime, Options: &attributes.DateTimeOptions{TimeOnly: true}},
		&models.Attribute{Name: "startsAt", Type: attributes.TypeDateTime, Options: &attributes.DateTimeOptions{}},
		&models.Attribute{Name: "extras", Type: attributes.TypeList, Options: &attributes.ListOptions{}},
	)

	day := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	startsAt := time.Date(2024, 3, 9, 18, 30, 0, 0, time.UTC)

	record := saveRecord(ctx, t, p, version, map[string]attributes.Value{
		"title":    {Text: ptr("Launch")},
		"seats":    {Number: ptr(120.5)},
		"day":      {Date: &day},
		"opens":    {Time: ptr("17:45:00")},
		"startsAt": {DateTime: &startsAt},
		"extras":   {JSON: json.RawMessage(`["wine","cheese"]`)},
	})

	loaded, err := p.Records().Get(ctx, organizationID, record.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Values, 6)

	valueOf := func(name string) attributes.Value {
		values := loaded.ValuesOf(version.AttributeByName(name).ID)
		require.Len(t, values, 1, name)

		return values[0].Value
	}

	assert.Equal(t, "Launch", *valueOf("title").Text)
	assert.InDelta(t, 120.5, *valueOf("seats").Number, 0.0001)
	assert.True(t, day.Equal(*valueOf("day").Date))
	assert.Equal(t, "17:45:00", *valueOf("opens").Time)
	assert.True(t, startsAt.Equal(*valueOf("startsAt").DateTime))
	assert.JSONEq(t, `["wine","cheese"]`, string(valueOf("extras").JSON))

	_, err = p.Records().Get(ctx, organizationID+1, record.ID)
	assert.True(t, persistence.IsRecordNotFound(err))

	_, err = p.Records().Get(ctx, organizationID, "not-a-uuid")
	assert.True(t, persistence.IsRecordNotFound(err))
}

func TestRecordRepository_DeleteAndReferences(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	employee := createSchema(ctx, t, p, "employee", textAttribute("name"))
	department := createSchema(ctx, t, p, "department", textAttribute("title"), &models.Attribute{
		Name:                      "manager",
		Type:                      attributes.TypeReference,
		Options:                   &attributes.ReferenceOptions{SchemaVersionID: employee.ID, ReferenceType: attributes.ManyToOne},
		ReferenceType:             attributes.ManyToOne,
		ReferencedSchemaVersionID: &employee.ID,
	})

	boss := saveRecord(ctx, t, p, employee, map[string]attributes.Value{"name": {Text: ptr("Ada")}})
	sales := saveRecord(ctx, t, p, department, map[string]attributes.Value{
		"title":   {Text: ptr("Sales")},
		"manager": {ReferenceID: &boss.ID},
	})

	manager := department.AttributeByName("manager")

	back, err := p.Records().Links(ctx, query.BackLinks([]string{boss.ID}, []string{manager.ID}))
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, query.Link{RecordID: boss.ID, AttributeID: manager.ID, TargetID: sales.ID}, back[0])

	require.NoError(t, p.Records().Delete(ctx, organizationID, boss.ID, "tester"))

	dangling, err := p.Records().DeleteReferencesTo(ctx, boss.ID, "tester")
	require.NoError(t, err)
	require.Len(t, dangling, 1)
	assert.Equal(t, sales.ID, dangling[0].RecordID)
	assert.NotNil(t, dangling[0].DeletedAt)

	reloaded, err := p.Records().Get(ctx, organizationID, sales.ID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.ValuesOf(manager.ID))
	assert.Len(t, reloaded.ValuesOf(department.AttributeByName("title").ID), 1)

	_, err = p.Records().Get(ctx, organizationID, boss.ID)
	assert.True(t, persistence.IsRecordNotFound(err))

	err = p.Records().Delete(ctx, organizationID, boss.ID, "tester")
	assert.True(t, persistence.IsRecordNotFound(err))
}

func TestRecordRepository_SequenceUniqueness(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	version := createSchema(ctx, t, p, "order", &models.Attribute{
		Name:    "code",
		Type:    attributes.TypeSequence,
		Options: &attributes.SequenceOptions{Start: ptr(100.0), Increment: ptr(5.0)},
	})
	code := version.AttributeByName("code")

	_, found, err := p.Records().MaxSequence(ctx, code.ID)
	require.NoError(t, err)
	assert.False(t, found)

	first := saveRecord(ctx, t, p, version, map[string]attributes.Value{"code": {Number: ptr(100.0), Text: ptr("100")}})

	current, found, err := p.Records().MaxSequence(ctx, code.ID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 100.0, current)

	taken, err := p.Records().SequenceTaken(ctx, code.ID, 100)
	require.NoError(t, err)
	assert.True(t, taken)

	second := &models.Record{OrganizationID: organizationID, SchemaVersionID: version.ID}
	require.NoError(t, p.Records().Save(ctx, second))

	err = p.Records().SaveValue(ctx, &models.AttributeValue{
		RecordID:    second.ID,
		AttributeID: code.ID,
		Value:       attributes.Value{Number: ptr(100.0)},
	}, true)
	assert.True(t, persistence.IsUniqueViolation(err))

	// deleted values keep their number claimed
	require.NoError(t, p.Records().Delete(ctx, organizationID, first.ID, "tester"))

	current, _, err = p.Records().MaxSequence(ctx, code.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, current)
}

func TestRecordRepository_History(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	version := createSchema(ctx, t, p, "customer", textAttribute("name"))
	record := saveRecord(ctx, t, p, version, nil)
	name := version.AttributeByName("name")

	valueID := uuid.NewString()

	for i, text := range []string{"Ada", "Grace"} {
		require.NoError(t, p.Records().AppendLog(ctx, &models.AttributeValueLog{
			AttributeValueID: valueID,
			RecordID:         record.ID,
			AttributeID:      name.ID,
			Value:            attributes.Value{Text: ptr(text)},
			CreatedBy:        "tester",
			CreatedAt:        time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}

	history, err := p.Records().History(ctx, organizationID, record.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Grace", *history[0].Text)
	assert.Equal(t, "Ada", *history[1].Text)

	_, err = p.Records().History(ctx, organizationID+1, record.ID)
	assert.True(t, persistence.IsRecordNotFound(err))
}

func TestRecordRepository_CompiledQueries(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	version := createSchema(ctx, t, p, "product",
		textAttribute("name"),
		&models.Attribute{Name: "price", Type: attributes.TypeNumber, Options: &attributes.NumberOptions{}},
		&models.Attribute{Name: "active", Type: attributes.TypeBoolean, Options: &attributes.BooleanOptions{}},
	)

	lamp := saveRecord(ctx, t, p, version, map[string]attributes.Value{
		"name": {Text: ptr("Desk lamp")}, "price": {Number: ptr(30.0)}, "active": {Number: ptr(1.0)},
	})
	chair := saveRecord(ctx, t, p, version, map[string]attributes.Value{
		"name": {Text: ptr("Chair")}, "price": {Number: ptr(80.0)}, "active": {Number: ptr(0.0)},
	})
	unpriced := saveRecord(ctx, t, p, version, map[string]attributes.Value{
		"name": {Text: ptr("Lamp shade")},
	})

	run := func(opts query.Options) ([]string, int64) {
		t.Helper()

		compiled, err := query.Compile(version, organizationID, opts)
		require.NoError(t, err)

		ids, err := p.Records().SelectIDs(ctx, compiled.Page)
		require.NoError(t, err)

		total, err := p.Records().Count(ctx, compiled.Count)
		require.NoError(t, err)

		return ids, total
	}

	ids, total := run(query.Options{})
	assert.Equal(t, []string{lamp.ID, chair.ID, unpriced.ID}, ids)
	assert.Equal(t, int64(3), total)

	ids, _ = run(query.Options{Where: []query.Clause{{"name": "lamp", "active": true}}})
	assert.Equal(t, []string{lamp.ID}, ids)

	ids, _ = run(query.Options{Where: []query.Clause{{"price": map[string]any{"start": 50}}, {"name": "shade"}}})
	assert.Equal(t, []string{chair.ID, unpriced.ID}, ids)

	ids, _ = run(query.Options{Where: []query.Clause{{"price": nil}}})
	assert.Equal(t, []string{unpriced.ID}, ids)

	ids, _ = run(query.Options{Order: []query.Order{{Key: "price", Descending: true}}})
	assert.Equal(t, []string{chair.ID, lamp.ID, unpriced.ID}, ids, "records lacking the sort value come last")

	ids, total = run(query.Options{Search: "LAMP", Limit: 1, Page: 1})
	assert.Equal(t, []string{unpriced.ID}, ids)
	assert.Equal(t, int64(2), total)
}
