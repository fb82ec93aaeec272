package attributes

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// Value holds the typed storage slots of one attribute value. Each type writes its own slot;
// sequence values also keep their formatted text beside the number.
type Value struct {
	Text        *string         `json:"textValue,omitempty"`
	Number      *float64        `json:"numberValue,omitempty"`
	Date        *time.Time      `json:"dateValue,omitempty"`
	Time        *string         `json:"timeValue,omitempty"`
	DateTime    *time.Time      `json:"datetimeValue,omitempty"`
	JSON        json.RawMessage `json:"jsonValue,omitempty"`
	ReferenceID *string         `json:"referenceRecordId,omitempty"`
}

// IsZero reports whether no slot holds data.
func (v Value) IsZero() bool {
	return v.Text == nil && v.Number == nil && v.Date == nil && v.Time == nil &&
		v.DateTime == nil && len(v.JSON) == 0 && v.ReferenceID == nil
}

// Encode converts a caller supplied value into the slot of the given attribute. A nil value
// encodes to the zero Value, which clears the attribute.
func Encode(t Type, opts Options, raw any) (Value, error) {
	if raw == nil {
		return Value{}, nil
	}

	slot := SlotFor(t, opts)

	switch slot {
	case SlotNumber:
		return encodeNumber(t, raw)
	case SlotDate:
		parsed, err := parseTime(raw, DateLayout)
		if err != nil {
			return Value{}, err
		}

		date := time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)

		return Value{Date: &date}, nil
	case SlotTime:
		parsed, err := parseTime(raw, TimeLayout, "15:04")
		if err != nil {
			return Value{}, err
		}

		clock := parsed.Format(TimeLayout)

		return Value{Time: &clock}, nil
	case SlotDateTime:
		parsed, err := parseTime(raw, time.RFC3339Nano)
		if err != nil {
			return Value{}, err
		}

		parsed = parsed.UTC()

		return Value{DateTime: &parsed}, nil
	case SlotJSON:
		return encodeJSON(t, opts, raw)
	case SlotReference:
		id, err := ReferenceID(raw)
		if err != nil {
			return Value{}, err
		}

		return Value{ReferenceID: &id}, nil
	default:
		return encodeText(t, opts, raw)
	}
}

// Decode reads the value of an attribute back out of its slot. It returns nil when the slot
// is empty.
func (v Value) Decode(t Type, opts Options) any {
	switch SlotFor(t, opts) {
	case SlotNumber:
		if v.Number == nil {
			return nil
		}

		if t == TypeBoolean {
			return *v.Number != 0
		}

		return *v.Number
	case SlotDate:
		if v.Date == nil {
			return nil
		}

		return v.Date.Format(DateLayout)
	case SlotTime:
		if v.Time == nil {
			return nil
		}

		return *v.Time
	case SlotDateTime:
		if v.DateTime == nil {
			return nil
		}

		return v.DateTime.UTC()
	case SlotJSON:
		if len(v.JSON) == 0 {
			return nil
		}

		var decoded any

		err := json.Unmarshal(v.JSON, &decoded)
		if err != nil {
			return nil
		}

		return decoded
	case SlotReference:
		if v.ReferenceID == nil {
			return nil
		}

		return *v.ReferenceID
	default:
		if v.Text == nil {
			return nil
		}

		return *v.Text
	}
}

// ReferenceID extracts a record id from a raw id or an {"id": ...} stub.
func ReferenceID(raw any) (string, error) {
	var candidate string

	switch value := raw.(type) {
	case string:
		candidate = value
	case map[string]any:
		id, ok := value["id"].(string)
		if !ok {
			return "", fmt.Errorf("%w: reference object has no id", ErrInvalidValue)
		}

		candidate = id
	default:
		return "", fmt.Errorf("%w: reference must be a record id, got %T", ErrInvalidValue, raw)
	}

	parsed, err := uuid.Parse(candidate)
	if err != nil {
		return "", fmt.Errorf("%w: reference %q is not a record id", ErrInvalidValue, candidate)
	}

	return parsed.String(), nil
}

// FormatNumber renders a numeric slot value without a trailing fraction.
func FormatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// ToFloat converts JSON and Go numeric values, and numeric strings, to float64.
func ToFloat(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func encodeNumber(t Type, raw any) (Value, error) {
	if t == TypeBoolean {
		if b, ok := raw.(bool); ok {
			n := 0.0
			if b {
				n = 1
			}

			return Value{Number: &n}, nil
		}
	}

	n, ok := ToFloat(raw)
	if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
		return Value{}, fmt.Errorf("%w: %v is not a number", ErrInvalidValue, raw)
	}

	if t == TypeBoolean && n != 0 && n != 1 {
		return Value{}, fmt.Errorf("%w: %v is not a boolean", ErrInvalidValue, raw)
	}

	return Value{Number: &n}, nil
}

func encodeText(t Type, opts Options, raw any) (Value, error) {
	var text string

	switch value := raw.(type) {
	case string:
		text = value
	case bool:
		text = strconv.FormatBool(value)
	default:
		n, ok := ToFloat(raw)
		if !ok {
			return Value{}, fmt.Errorf("%w: %T cannot be stored as text", ErrInvalidValue, raw)
		}

		text = FormatNumber(n)
	}

	if o, ok := opts.(*EnumerationOptions); ok && t == TypeEnumeration && len(o.Values) > 0 {
		if !slices.Contains(o.Values, text) {
			return Value{}, fmt.Errorf("%w: %q is not one of the allowed values", ErrInvalidValue, text)
		}
	}

	return Value{Text: &text}, nil
}

func encodeJSON(t Type, opts Options, raw any) (Value, error) {
	switch t {
	case TypeEnumeration:
		selected, err := stringList(raw)
		if err != nil {
			return Value{}, err
		}

		if o, ok := opts.(*EnumerationOptions); ok && len(o.Values) > 0 {
			for _, item := range selected {
				if !slices.Contains(o.Values, item) {
					return Value{}, fmt.Errorf("%w: %q is not one of the allowed values", ErrInvalidValue, item)
				}
			}
		}

		raw = selected
	case TypeList:
		switch raw.(type) {
		case []any, []string, []float64, []map[string]any:
		default:
			return Value{}, fmt.Errorf("%w: list value must be an array, got %T", ErrInvalidValue, raw)
		}
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}

	return Value{JSON: data}, nil
}

func stringList(raw any) ([]string, error) {
	switch value := raw.(type) {
	case []string:
		return value, nil
	case string:
		return []string{value}, nil
	case []any:
		list := make([]string, 0, len(value))

		for _, item := range value {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: selection items must be strings, got %T", ErrInvalidValue, item)
			}

			list = append(list, s)
		}

		return list, nil
	default:
		return nil, fmt.Errorf("%w: selection must be an array, got %T", ErrInvalidValue, raw)
	}
}

func parseTime(raw any, layouts ...string) (time.Time, error) {
	switch value := raw.(type) {
	case time.Time:
		return value, nil
	case string:
		for _, layout := range append(layouts, time.RFC3339Nano, DateLayout) {
			parsed, err := time.Parse(layout, value)
			if err == nil {
				return parsed, nil
			}
		}

		return time.Time{}, fmt.Errorf("%w: %q is not a valid date or time", ErrInvalidValue, value)
	default:
		return time.Time{}, fmt.Errorf("%w: %T is not a date or time", ErrInvalidValue, raw)
	}
}
