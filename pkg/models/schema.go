// Package models defines the domain models of the dynamic schema and record engine.
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukex/nodebase/pkg/attributes"
)

// SchemaDefinition is the stable identity of a record type within an organization.
type SchemaDefinition struct {
	ID                 string     `json:"id"`
	OrganizationID     int64      `json:"organizationId"`
	PublishedVersionID *string    `json:"publishedVersionId,omitempty"`
	CreatedBy          string     `json:"createdBy"`
	ModifiedBy         string     `json:"modifiedBy"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	DeletedAt          *time.Time `json:"deletedAt,omitempty"`
}

// SchemaVersion is a snapshot of a record type's attribute list. It is immutable once published.
type SchemaVersion struct {
	ID                 string       `json:"id"`
	SchemaDefinitionID string       `json:"schemaId"`
	OrganizationID     int64        `json:"organizationId"`
	Version            int          `json:"version"`
	Name               string       `json:"name"`
	Label              string       `json:"label"`
	Type               string       `json:"type"`
	IsPublished        bool         `json:"isPublished"`
	PublishedAt        *time.Time   `json:"publishedAt,omitempty"`
	Attributes         []*Attribute `json:"attributes"`
	CreatedBy          string       `json:"createdBy"`
	ModifiedBy         string       `json:"modifiedBy"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// SchemaSummary lists a schema definition with its published and latest versions.
type SchemaSummary struct {
	Definition *SchemaDefinition `json:"schema"`
	Published  *SchemaVersion    `json:"publishedVersion,omitempty"`
	Latest     *SchemaVersion    `json:"latestVersion"`
}

// AttributeByName returns the attribute, forward or back-reference, with the given name.
func (v *SchemaVersion) AttributeByName(name string) *Attribute {
	for _, attribute := range v.Attributes {
		if attribute.Name == name {
			return attribute
		}
	}

	return nil
}

func (v *SchemaVersion) AttributeByID(id string) *Attribute {
	for _, attribute := range v.Attributes {
		if attribute.ID == id && !attribute.IsBackReference {
			return attribute
		}
	}

	return nil
}

// StoredAttributes returns the persisted attributes, excluding synthesized back-references.
func (v *SchemaVersion) StoredAttributes() []*Attribute {
	stored := make([]*Attribute, 0, len(v.Attributes))

	for _, attribute := range v.Attributes {
		if !attribute.IsBackReference {
			stored = append(stored, attribute)
		}
	}

	return stored
}

func (v *SchemaVersion) BackReferences() []*Attribute {
	var backReferences []*Attribute

	for _, attribute := range v.Attributes {
		if attribute.IsBackReference {
			backReferences = append(backReferences, attribute)
		}
	}

	return backReferences
}

// Attribute is one typed field of a schema version. Back-reference attributes are never
// stored: they are synthesized from forward references elsewhere in the organization and
// SourceAttributeIDs names the forward attributes they invert, one per source version.
type Attribute struct {
	ID                        string                   `json:"id"`
	SchemaVersionID           string                   `json:"schemaVersionId"`
	Name                      string                   `json:"name"`
	Label                     string                   `json:"label"`
	Position                  int                      `json:"position"`
	Type                      attributes.Type          `json:"type"`
	IsRequired                bool                     `json:"isRequired"`
	Options                   attributes.Options       `json:"options"`
	ReferenceType             attributes.ReferenceType `json:"referenceType,omitempty"`
	ReferencedSchemaVersionID *string                  `json:"referencedSchemaVersionId,omitempty"`
	IsBackReference           bool                     `json:"isBackReference,omitempty"`
	SourceAttributeIDs        []string                 `json:"sourceAttributeIds,omitempty"`
	CreatedAt                 time.Time                `json:"createdAt"`
	UpdatedAt                 time.Time                `json:"updatedAt"`
	DeletedAt                 *time.Time               `json:"-"`
}

func (a *Attribute) Slot() attributes.Slot {
	return attributes.SlotFor(a.Type, a.Options)
}

// IsToMany reports whether the attribute normalizes to an array. Back-references always do.
func (a *Attribute) IsToMany() bool {
	if a.IsBackReference {
		return true
	}

	return a.Type == attributes.TypeReference && a.ReferenceType.IsToMany()
}

func (a *Attribute) IsReference() bool {
	return a.Type == attributes.TypeReference && !a.IsBackReference
}

func (a *Attribute) UnmarshalJSON(data []byte) error {
	type alias Attribute

	aux := struct {
		*alias
		Options json.RawMessage `json:"options"`
	}{alias: (*alias)(a)}

	err := json.Unmarshal(data, &aux)
	if err != nil {
		return err
	}

	options, err := attributes.DecodeOptions(a.Type, aux.Options)
	if err != nil {
		return fmt.Errorf("attribute %s: %w", a.Name, err)
	}

	a.Options = options

	return nil
}
