package registry

import "fmt"

// Type returns the name a declaration refers to.
func (m Meta) Type() string {
	name, _ := m["type"].(string)

	return name
}

func (m Meta) Has(key string) bool {
	_, ok := m[key]

	return ok
}

func (m Meta) String(key string) string {
	value, _ := m[key].(string)

	return value
}

// Strings reads a list of names. A single string is read as a list of one.
func (m Meta) Strings(key string) ([]string, error) {
	switch value := m[key].(type) {
	case nil:
		return nil, nil
	case string:
		return []string{value}, nil
	case []string:
		return value, nil
	case []any:
		names := make([]string, 0, len(value))

		for _, item := range value {
			name, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s must list names, got %T", key, item)
			}

			names = append(names, name)
		}

		return names, nil
	default:
		return nil, fmt.Errorf("%s must list names, got %T", key, value)
	}
}

// Object reads a nested declaration such as the {"value": 3} of a moreThan comparison.
func (m Meta) Object(key string) (Meta, bool) {
	switch value := m[key].(type) {
	case Meta:
		return value, true
	case map[string]any:
		return Meta(value), true
	default:
		return nil, false
	}
}
