package events

import (
	"encoding/json"
	"testing"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordUpserted_GetType(t *testing.T) {
	event := RecordUpserted{}
	assert.Equal(t, RecordUpsertedEvent, event.GetType())
}

func TestRecordDeleted_GetType(t *testing.T) {
	event := RecordDeleted{}
	assert.Equal(t, RecordDeletedEvent, event.GetType())
}

func TestRecordUpserted_JSONSerialization(t *testing.T) {
	original := &RecordUpserted{
		BaseEvent:       NewBaseEvent(RecordUpsertedEvent, 7, "ada@example.com"),
		RecordID:        "0190a0b4-1c1e-7c4b-9d6a-3f1f8d2b9a10",
		SchemaVersionID: "0190a0b4-1c1e-7c4b-9d6a-3f1f8d2b9a11",
		Record: models.RecordData{
			"id":   "0190a0b4-1c1e-7c4b-9d6a-3f1f8d2b9a10",
			"name": "Order 1",
			"code": "ORD-100",
		},
	}

	jsonData, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(jsonData), `"type":"record.upserted"`)
	assert.Contains(t, string(jsonData), `"organization_id":7`)
	assert.Contains(t, string(jsonData), `"record_id":"0190a0b4-1c1e-7c4b-9d6a-3f1f8d2b9a10"`)

	var deserialized RecordUpserted

	err = json.Unmarshal(jsonData, &deserialized)
	require.NoError(t, err)

	assert.Equal(t, original.Type, deserialized.Type)
	assert.Equal(t, original.ID, deserialized.ID)
	assert.Equal(t, original.Actor, deserialized.Actor)
	assert.Equal(t, original.RecordID, deserialized.RecordID)
	assert.Equal(t, "ORD-100", deserialized.Record["code"])
	assert.True(t, original.Timestamp.Equal(deserialized.Timestamp))
}

func TestNewBaseEvent(t *testing.T) {
	first := NewBaseEvent(RecordDeletedEvent, 1, "system")
	second := NewBaseEvent(RecordDeletedEvent, 1, "system")

	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, RecordDeletedEvent, first.Type)
	assert.NotNil(t, first.Metadata)
	assert.False(t, first.Timestamp.IsZero())
}

func TestDecode(t *testing.T) {
	payload, err := json.Marshal(RecordDeleted{BaseEvent: NewBaseEvent(RecordDeletedEvent, 4, "ada"), RecordID: "r1"})
	require.NoError(t, err)

	event, err := Decode(RecordDeletedEvent, payload)
	require.NoError(t, err)

	deleted, ok := event.(*RecordDeleted)
	require.True(t, ok)
	assert.Equal(t, "r1", deleted.RecordID)
	assert.Equal(t, int64(4), deleted.Organization())

	_, err = Decode("record.archived", payload)
	require.ErrorIs(t, err, ErrUnknownEventType)

	_, err = Decode(RecordUpsertedEvent, []byte("{"))
	require.Error(t, err)
}
