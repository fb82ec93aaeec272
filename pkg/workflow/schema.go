package workflow

var declarationSchema = map[string]any{
	"oneOf": []any{
		map[string]any{"type": "string", "minLength": 1},
		map[string]any{
			"type":     "object",
			"required": []any{"type"},
			"properties": map[string]any{
				"type": map[string]any{"type": "string", "minLength": 1},
			},
		},
	},
}

var declarationsSchema = map[string]any{
	"oneOf": []any{
		declarationSchema,
		map[string]any{"type": "array", "items": declarationSchema},
	},
}

var transitionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"target":  map[string]any{"type": "string"},
		"cond":    declarationSchema,
		"actions": declarationsSchema,
	},
}

var transitionsSchema = map[string]any{
	"oneOf": []any{
		map[string]any{"type": "string"},
		transitionSchema,
		map[string]any{"type": "array", "items": transitionSchema},
	},
}

// machineSchema describes the accepted machine configs. Compound and parallel states are
// not supported, so a state may not declare nested states.
var machineSchema = map[string]any{
	"type":     "object",
	"required": []any{"initial", "states"},
	"properties": map[string]any{
		"id":      map[string]any{"type": "string"},
		"initial": map[string]any{"type": "string", "minLength": 1},
		"states": map[string]any{
			"type":          "object",
			"minProperties": 1,
			"additionalProperties": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type":   map[string]any{"enum": []any{"atomic", StateFinal}},
					"entry":  declarationsSchema,
					"exit":   declarationsSchema,
					"always": transitionsSchema,
					"on": map[string]any{
						"type":                 "object",
						"additionalProperties": transitionsSchema,
					},
					"invoke": map[string]any{
						"type":     "object",
						"required": []any{"src"},
						"properties": map[string]any{
							"src":     declarationSchema,
							"onDone":  transitionsSchema,
							"onError": transitionsSchema,
						},
					},
				},
				"not": map[string]any{"required": []any{"states"}},
			},
		},
	},
}
