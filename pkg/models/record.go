package models

import (
	"maps"
	"slices"
	"time"

	"github.com/dukex/nodebase/pkg/attributes"
)

// Keys every normalized record carries besides its attribute names.
const (
	FieldID              = "id"
	FieldSchemaVersionID = "schemaVersionId"
	FieldCreatedAt       = "createdAt"
	FieldUpdatedAt       = "updatedAt"
	FieldCreatedBy       = "createdBy"
	FieldModifiedBy      = "modifiedBy"
)

var reservedFields = []string{
	FieldID,
	FieldSchemaVersionID,
	FieldCreatedAt,
	FieldUpdatedAt,
	FieldCreatedBy,
	FieldModifiedBy,
}

// IsReservedField reports whether name collides with a key emitted for every record.
func IsReservedField(name string) bool {
	return slices.Contains(reservedFields, name)
}

// Record is one instance of a schema version.
type Record struct {
	ID              string            `json:"id"`
	OrganizationID  int64             `json:"organizationId"`
	SchemaVersionID string            `json:"schemaVersionId"`
	CreatedBy       string            `json:"createdBy"`
	ModifiedBy      string            `json:"modifiedBy"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
	DeletedAt       *time.Time        `json:"deletedAt,omitempty"`
	Values          []*AttributeValue `json:"attributeValues,omitempty"`
}

// ValuesOf returns the live values the record holds for an attribute.
func (r *Record) ValuesOf(attributeID string) []*AttributeValue {
	var values []*AttributeValue

	for _, value := range r.Values {
		if value.AttributeID == attributeID && value.DeletedAt == nil {
			values = append(values, value)
		}
	}

	return values
}

// AttributeValue stores one value of one attribute of a record in its typed slot.
type AttributeValue struct {
	ID          string `json:"id"`
	RecordID    string `json:"recordId"`
	AttributeID string `json:"attributeId"`

	attributes.Value

	CreatedBy  string     `json:"createdBy"`
	ModifiedBy string     `json:"modifiedBy"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	DeletedAt  *time.Time `json:"deletedAt,omitempty"`
}

// AttributeValueLog is an append-only snapshot of an attribute value after a write.
type AttributeValueLog struct {
	ID               string `json:"id"`
	AttributeValueID string `json:"attributeValueId"`
	RecordID         string `json:"recordId"`
	AttributeID      string `json:"attributeId"`

	attributes.Value

	IsDeleted bool      `json:"isDeleted"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// RecordData is the flat attribute-name view of a record.
type RecordData map[string]any

func (d RecordData) ID() string {
	id, _ := d[FieldID].(string)

	return id
}

// Clone returns a shallow copy that is never nil.
func (d RecordData) Clone() RecordData {
	clone := make(RecordData, len(d))
	maps.Copy(clone, d)

	return clone
}

// RecordPayload is the wire shape of a record addressed by attribute ids.
type RecordPayload struct {
	ID              *string        `json:"id,omitempty"`
	SchemaVersionID string         `json:"schemaVersionId" validate:"required,uuid"`
	AttributeValues []PayloadValue `json:"attributeValues" validate:"dive"`
}

type PayloadValue struct {
	AttributeID string `json:"attributeId" validate:"required,uuid"`

	attributes.Value
}
