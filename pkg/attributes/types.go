// Package attributes defines the attribute type system: the closed set of attribute types,
// their per-type options and the mapping from a typed attribute to its storage slot.
package attributes

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Type is the kind of an attribute definition.
type Type string

const (
	TypeText        Type = "Text"
	TypeNumber      Type = "Number"
	TypeDateTime    Type = "DateTime"
	TypeEnumeration Type = "Enumeration"
	TypeList        Type = "List"
	TypeReference   Type = "Reference"
	TypeFile        Type = "File"
	TypeSequence    Type = "Sequence"
	TypeBoolean     Type = "Boolean"
	TypeSignature   Type = "Signature"
)

var allTypes = []Type{
	TypeText,
	TypeNumber,
	TypeDateTime,
	TypeEnumeration,
	TypeList,
	TypeReference,
	TypeFile,
	TypeSequence,
	TypeBoolean,
	TypeSignature,
}

// Types returns every supported attribute type.
func Types() []Type {
	return slices.Clone(allTypes)
}

func (t Type) IsValid() bool {
	return slices.Contains(allTypes, t)
}

// ParseType resolves a type name case-insensitively.
func ParseType(name string) (Type, error) {
	for _, t := range allTypes {
		if strings.EqualFold(string(t), name) {
			return t, nil
		}
	}

	return "", fmt.Errorf("%w: unknown attribute type %q", ErrInvalidOptions, name)
}

func (t *Type) UnmarshalJSON(data []byte) error {
	var name string

	err := json.Unmarshal(data, &name)
	if err != nil {
		return err
	}

	parsed, err := ParseType(name)
	if err != nil {
		return err
	}

	*t = parsed

	return nil
}

// ReferenceType is the cardinality of a reference attribute, read from the source record.
type ReferenceType string

const (
	OneToOne   ReferenceType = "One-to-One"
	OneToMany  ReferenceType = "One-to-Many"
	ManyToOne  ReferenceType = "Many-to-One"
	ManyToMany ReferenceType = "Many-to-Many"
)

var referenceTypes = []ReferenceType{OneToOne, OneToMany, ManyToOne, ManyToMany}

func (r ReferenceType) IsValid() bool {
	return slices.Contains(referenceTypes, r)
}

// IsToMany reports whether a source record may hold several references of this kind.
func (r ReferenceType) IsToMany() bool {
	return r == OneToMany || r == ManyToMany
}

// Inverse returns the cardinality seen from the referenced side.
func (r ReferenceType) Inverse() ReferenceType {
	switch r {
	case OneToMany:
		return ManyToOne
	case ManyToOne:
		return OneToMany
	default:
		return r
	}
}

// ParseReferenceType accepts canonical and lower-case spellings ("many-to-one").
func ParseReferenceType(name string) (ReferenceType, error) {
	for _, r := range referenceTypes {
		if strings.EqualFold(string(r), name) {
			return r, nil
		}
	}

	return "", fmt.Errorf("%w: unknown reference type %q", ErrInvalidOptions, name)
}

func (r *ReferenceType) UnmarshalJSON(data []byte) error {
	var name string

	err := json.Unmarshal(data, &name)
	if err != nil {
		return err
	}

	if name == "" {
		*r = ""

		return nil
	}

	parsed, err := ParseReferenceType(name)
	if err != nil {
		return err
	}

	*r = parsed

	return nil
}

// Slot names the attribute value column holding an attribute's data.
type Slot string

const (
	SlotText      Slot = "text"
	SlotNumber    Slot = "number"
	SlotDate      Slot = "date"
	SlotTime      Slot = "time"
	SlotDateTime  Slot = "datetime"
	SlotJSON      Slot = "json"
	SlotReference Slot = "reference"
)

// Column returns the attribute_values column backing the slot.
func (s Slot) Column() string {
	if s == SlotReference {
		return "reference_record_id"
	}

	return string(s) + "_value"
}

// SlotFor maps an attribute type and its options to the storage slot.
func SlotFor(t Type, opts Options) Slot {
	switch t {
	case TypeDateTime:
		if o, ok := opts.(*DateTimeOptions); ok && o != nil {
			if o.DateOnly {
				return SlotDate
			}

			if o.TimeOnly {
				return SlotTime
			}
		}

		return SlotDateTime
	case TypeFile, TypeList:
		return SlotJSON
	case TypeEnumeration:
		if o, ok := opts.(*EnumerationOptions); ok && o != nil && o.IsMultiSelect {
			return SlotJSON
		}

		return SlotText
	case TypeNumber, TypeBoolean:
		return SlotNumber
	case TypeReference:
		return SlotReference
	default:
		return SlotText
	}
}
