// Package events defines the record lifecycle notifications published after a write commits.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const Topic = "nodebase.records"

const (
	EventMetadataKey        = "key"
	EventTypeMetadataKey    = "event_type"
	OrganizationMetadataKey = "organization_id"
)

var ErrUnknownEventType = errors.New("unknown event type")

const (
	RecordUpsertedEvent EventType = "record.upserted"
	RecordDeletedEvent  EventType = "record.deleted"
)

type BaseEvent struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	Timestamp      time.Time      `json:"timestamp"`
	OrganizationID int64          `json:"organization_id"`
	Actor          string         `json:"actor"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// RecordUpserted reports a record created or changed by a committed write, with its
// normalized state after the write.
type RecordUpserted struct {
	BaseEvent

	RecordID        string            `json:"record_id"`
	SchemaVersionID string            `json:"schema_version_id"`
	Record          models.RecordData `json:"record,omitempty"`
}

func (r RecordUpserted) GetType() EventType {
	return RecordUpsertedEvent
}

// RecordDeleted reports a soft deleted record.
type RecordDeleted struct {
	BaseEvent

	RecordID string `json:"record_id"`
}

func (r RecordDeleted) GetType() EventType {
	return RecordDeletedEvent
}

// Organization returns the organization the event belongs to.
func (e BaseEvent) Organization() int64 {
	return e.OrganizationID
}

// Decode unmarshals a published payload into the event of the given type.
func Decode(eventType EventType, payload []byte) (any, error) {
	var event any

	switch eventType {
	case RecordUpsertedEvent:
		event = &RecordUpserted{}
	case RecordDeletedEvent:
		event = &RecordDeleted{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, eventType)
	}

	err := json.Unmarshal(payload, event)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", eventType, err)
	}

	return event, nil
}

func NewBaseEvent(eventType EventType, organizationID int64, actor string) BaseEvent {
	return BaseEvent{
		ID:             uuid.New().String(),
		Type:           eventType,
		Timestamp:      time.Now().UTC(),
		OrganizationID: organizationID,
		Actor:          actor,
		Metadata:       make(map[string]any),
	}
}
