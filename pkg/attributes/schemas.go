package attributes

// JSON schemas for the options object of each attribute type. Unknown keys are allowed so
// authoring tools can keep presentation hints next to the options.
var optionSchemas = map[Type]map[string]any{
	TypeText: objectSchema(map[string]any{
		"default": map[string]any{"type": "string"},
	}),
	TypeNumber: objectSchema(map[string]any{
		"default": map[string]any{"type": "number"},
	}),
	TypeBoolean: objectSchema(map[string]any{
		"default": map[string]any{"type": "boolean"},
	}),
	TypeDateTime: objectSchema(map[string]any{
		"dateOnly": map[string]any{"type": "boolean"},
		"timeOnly": map[string]any{"type": "boolean"},
		"default":  map[string]any{"type": "string"},
	}),
	TypeEnumeration: objectSchema(map[string]any{
		"isMultiSelect": map[string]any{"type": "boolean"},
		"values": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"default": map[string]any{
			"type":  []any{"string", "array"},
			"items": map[string]any{"type": "string"},
		},
	}),
	TypeList: objectSchema(map[string]any{
		"default": map[string]any{"type": "array"},
	}),
	TypeFile: objectSchema(map[string]any{
		"accept": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"multiple": map[string]any{"type": "boolean"},
	}),
	TypeSignature: objectSchema(map[string]any{}),
	TypeReference: objectSchema(map[string]any{
		"schemaVersionId": map[string]any{
			"type":    "string",
			"pattern": "^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$",
		},
		"referenceType": map[string]any{"type": "string"},
	}, "schemaVersionId", "referenceType"),
	TypeSequence: objectSchema(map[string]any{
		"start":     map[string]any{"type": "number"},
		"increment": map[string]any{"type": "number"},
		"prefix":    map[string]any{"type": "string"},
	}, "start", "increment"),
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}

	if len(required) > 0 {
		list := make([]any, 0, len(required))
		for _, name := range required {
			list = append(list, name)
		}

		schema["required"] = list
	}

	return schema
}
