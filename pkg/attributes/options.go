package attributes

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrInvalidOptions indicates attribute options that do not fit the attribute type.
	ErrInvalidOptions = errors.New("invalid attribute options")

	// ErrInvalidValue indicates a value that cannot be stored in the attribute's slot.
	ErrInvalidValue = errors.New("invalid attribute value")
)

// Options is the type-specific configuration of an attribute. Each attribute type has
// exactly one implementation.
type Options interface {
	AttributeType() Type
}

type TextOptions struct {
	Default *string `json:"default,omitempty"`
}

type NumberOptions struct {
	Default *float64 `json:"default,omitempty"`
}

type BooleanOptions struct {
	Default *bool `json:"default,omitempty"`
}

type DateTimeOptions struct {
	DateOnly bool    `json:"dateOnly,omitempty"`
	TimeOnly bool    `json:"timeOnly,omitempty"`
	Default  *string `json:"default,omitempty"`
}

type EnumerationOptions struct {
	IsMultiSelect bool     `json:"isMultiSelect,omitempty"`
	Values        []string `json:"values,omitempty"`
	Default       any      `json:"default,omitempty"`
}

type ListOptions struct {
	Default []any `json:"default,omitempty"`
}

type FileOptions struct {
	Accept   []string `json:"accept,omitempty"`
	Multiple bool     `json:"multiple,omitempty"`
}

type SignatureOptions struct{}

type ReferenceOptions struct {
	SchemaVersionID string        `json:"schemaVersionId"`
	ReferenceType   ReferenceType `json:"referenceType"`
}

type SequenceOptions struct {
	Start     *float64 `json:"start"`
	Increment *float64 `json:"increment"`
	Prefix    string   `json:"prefix,omitempty"`
}

func (*TextOptions) AttributeType() Type        { return TypeText }
func (*NumberOptions) AttributeType() Type      { return TypeNumber }
func (*BooleanOptions) AttributeType() Type     { return TypeBoolean }
func (*DateTimeOptions) AttributeType() Type    { return TypeDateTime }
func (*EnumerationOptions) AttributeType() Type { return TypeEnumeration }
func (*ListOptions) AttributeType() Type        { return TypeList }
func (*FileOptions) AttributeType() Type        { return TypeFile }
func (*SignatureOptions) AttributeType() Type   { return TypeSignature }
func (*ReferenceOptions) AttributeType() Type   { return TypeReference }
func (*SequenceOptions) AttributeType() Type    { return TypeSequence }

// NewOptions returns the zero options value for a type.
func NewOptions(t Type) (Options, error) {
	switch t {
	case TypeText:
		return &TextOptions{}, nil
	case TypeNumber:
		return &NumberOptions{}, nil
	case TypeBoolean:
		return &BooleanOptions{}, nil
	case TypeDateTime:
		return &DateTimeOptions{}, nil
	case TypeEnumeration:
		return &EnumerationOptions{}, nil
	case TypeList:
		return &ListOptions{}, nil
	case TypeFile:
		return &FileOptions{}, nil
	case TypeSignature:
		return &SignatureOptions{}, nil
	case TypeReference:
		return &ReferenceOptions{}, nil
	case TypeSequence:
		return &SequenceOptions{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown attribute type %q", ErrInvalidOptions, t)
	}
}

// DecodeOptions reads stored options without validating them.
func DecodeOptions(t Type, raw json.RawMessage) (Options, error) {
	opts, err := NewOptions(t)
	if err != nil {
		return nil, err
	}

	if isEmptyJSON(raw) {
		return opts, nil
	}

	err = json.Unmarshal(raw, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s options: %v", ErrInvalidOptions, t, err)
	}

	return opts, nil
}

// ParseOptions validates raw options against the type's JSON schema and the type's own rules,
// then decodes them.
func ParseOptions(t Type, raw json.RawMessage) (Options, error) {
	schema, ok := optionSchemas[t]
	if !ok {
		return nil, fmt.Errorf("%w: unknown attribute type %q", ErrInvalidOptions, t)
	}

	if isEmptyJSON(raw) {
		raw = json.RawMessage("{}")
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s options: %v", ErrInvalidOptions, t, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return nil, fmt.Errorf("%w: %s options: %s", ErrInvalidOptions, t, strings.Join(messages, "; "))
	}

	opts, err := DecodeOptions(t, raw)
	if err != nil {
		return nil, err
	}

	err = checkOptions(opts)
	if err != nil {
		return nil, err
	}

	return opts, nil
}

func checkOptions(opts Options) error {
	switch o := opts.(type) {
	case *DateTimeOptions:
		if o.DateOnly && o.TimeOnly {
			return fmt.Errorf("%w: dateOnly and timeOnly are mutually exclusive", ErrInvalidOptions)
		}

		if o.Default != nil {
			_, err := Encode(TypeDateTime, o, *o.Default)
			if err != nil {
				return fmt.Errorf("%w: default: %v", ErrInvalidOptions, err)
			}
		}
	case *EnumerationOptions:
		if o.Default != nil {
			_, err := Encode(TypeEnumeration, o, o.Default)
			if err != nil {
				return fmt.Errorf("%w: default: %v", ErrInvalidOptions, err)
			}
		}
	case *ReferenceOptions:
		if !o.ReferenceType.IsValid() {
			return fmt.Errorf("%w: reference type is required", ErrInvalidOptions)
		}
	case *SequenceOptions:
		if o.Increment != nil && *o.Increment <= 0 {
			return fmt.Errorf("%w: sequence increment must be positive", ErrInvalidOptions)
		}
	}

	return nil
}

// DefaultValue returns the configured default of an attribute, if any.
func DefaultValue(opts Options) (any, bool) {
	switch o := opts.(type) {
	case *TextOptions:
		if o.Default != nil {
			return *o.Default, true
		}
	case *NumberOptions:
		if o.Default != nil {
			return *o.Default, true
		}
	case *BooleanOptions:
		if o.Default != nil {
			return *o.Default, true
		}
	case *DateTimeOptions:
		if o.Default != nil {
			return *o.Default, true
		}
	case *EnumerationOptions:
		if o.Default != nil {
			return o.Default, true
		}
	case *ListOptions:
		if o.Default != nil {
			return o.Default, true
		}
	}

	return nil, false
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)

	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
