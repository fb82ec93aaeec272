package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCompiler() *Compiler {
	r := registry.NewRegistry(slog.New(slog.DiscardHandler))
	r.RegisterDefaults()

	return NewCompiler(r)
}

func compile(t *testing.T, config string) *Machine {
	t.Helper()

	machine, err := newTestCompiler().Compile(json.RawMessage(config))
	require.NoError(t, err)

	return machine
}

const approvalMachine = `{
  "id": "approval",
  "initial": "validating",
  "states": {
    "validating": {
      "always": [
        {
          "target": "rejected",
          "cond": {"type": "matchProperty", "property": "total", "moreThan": {"property": "limit"}},
          "actions": [{"type": "setPropertyError", "property": "total", "message": "total exceeds the limit"}]
        },
        {"target": "saving"}
      ]
    },
    "saving": {
      "entry": {"type": "showMessage", "message": "saving"},
      "invoke": {"src": "upsert", "onDone": "done"}
    },
    "rejected": {"type": "final"},
    "done": {"type": "final"}
  }
}`

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name   string
		config string
		want   string
	}{
		{"not json", `{"initial":`, "invalid workflow config"},
		{"no states", `{"initial": "a"}`, "states"},
		{"unknown initial", `{"initial": "b", "states": {"a": {}}}`, `initial state "b"`},
		{"unknown target", `{"initial": "a", "states": {"a": {"always": "missing"}}}`, `target state "missing"`},
		{"unknown guard", `{"initial": "a", "states": {"a": {"always": {"target": "a", "cond": "isMagic"}}}}`, "guard 'isMagic' not registered"},
		{"unknown action", `{"initial": "a", "states": {"a": {"entry": ["explode"]}}}`, "action 'explode' not registered"},
		{"unknown service", `{"initial": "a", "states": {"a": {"invoke": {"src": "teleport"}}}}`, "service 'teleport' not registered"},
		{"nested states", `{"initial": "a", "states": {"a": {"initial": "b", "states": {"b": {}}}}}`, "invalid workflow config"},
		{"bad state type", `{"initial": "a", "states": {"a": {"type": "parallel"}}}`, "invalid workflow config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newTestCompiler().CompileConfig(json.RawMessage(tt.config))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompile_ShortForms(t *testing.T) {
	machine := compile(t, `{
	  "initial": "a",
	  "states": {
	    "a": {"on": {"": "b"}, "exit": "disableAllAttributes"},
	    "b": {"invoke": {"src": {"type": "addReferenceNode", "attribute": "lines"}}}
	  }
	}`)

	require.Len(t, machine.states["a"].eventless, 1)
	assert.Equal(t, "b", machine.states["a"].eventless[0].target)
	require.Len(t, machine.states["a"].exit, 1)
	require.NotNil(t, machine.states["b"].invoke)
	assert.Equal(t, "lines", machine.states["b"].invoke.meta["attribute"])
}

func TestMachine_RunPasses(t *testing.T) {
	machine := compile(t, approvalMachine)

	c := &registry.Context{Data: models.RecordData{"total": float64(50), "limit": float64(100)}, Logger: slog.New(slog.DiscardHandler)}

	pending, err := machine.Run(c)
	require.NoError(t, err)

	assert.Empty(t, c.Errors)
	assert.Equal(t, []string{"saving"}, c.Messages)
	require.Len(t, pending, 1)
	assert.Equal(t, "upsert", pending[0].Service)
	assert.Equal(t, "saving", pending[0].State)
	assert.Equal(t, "approval", pending[0].Machine)
}

func TestMachine_RunCollectsErrors(t *testing.T) {
	machine := compile(t, approvalMachine)

	c := &registry.Context{Data: models.RecordData{"total": float64(150), "limit": float64(100)}}

	pending, err := machine.Run(c)
	require.NoError(t, err)

	assert.Empty(t, pending)
	assert.Equal(t, []models.FieldError{{AttributeName: "total", Message: "total exceeds the limit"}}, c.Errors)
}

func TestMachine_SettlesWithoutEnabledTransition(t *testing.T) {
	machine := compile(t, `{
	  "initial": "waiting",
	  "states": {
	    "waiting": {"on": {"SUBMIT": "done"}, "always": {"target": "done", "cond": {"type": "hasProperty", "property": "approved"}}},
	    "done": {"type": "final", "entry": {"type": "setPropertyError", "property": "x", "message": "reached"}}
	  }
	}`)

	c := &registry.Context{Data: models.RecordData{}}

	pending, err := machine.Run(c)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Empty(t, c.Errors)
}

func TestMachine_SetPropertyChangesDelta(t *testing.T) {
	machine := compile(t, `{
	  "initial": "a",
	  "states": {
	    "a": {"always": [{"target": "b", "cond": {"type": "setProperty", "property": "status", "value": "approved"}}]},
	    "b": {"type": "final"}
	  }
	}`)

	c := &registry.Context{Data: models.RecordData{"status": "draft"}, Delta: models.RecordData{}}

	_, err := machine.Run(c)
	require.NoError(t, err)
	assert.Equal(t, "approved", c.Delta["status"])
}

func TestMachine_TargetlessTransitionRunsActions(t *testing.T) {
	machine := compile(t, `{
	  "initial": "a",
	  "states": {
	    "a": {"always": {"actions": {"type": "setPropertyError", "property": "name", "message": "required"}}}
	  }
	}`)

	c := &registry.Context{Data: models.RecordData{}}

	_, err := machine.Run(c)
	require.NoError(t, err)
	assert.Len(t, c.Errors, 1)
}

func TestMachine_StepLimit(t *testing.T) {
	machine := compile(t, `{
	  "initial": "a",
	  "states": {
	    "a": {"always": "b"},
	    "b": {"always": "a"}
	  }
	}`)

	_, err := machine.Run(&registry.Context{Data: models.RecordData{}})
	require.ErrorIs(t, err, ErrStepLimit)
}

func TestMachine_GuardError(t *testing.T) {
	machine := compile(t, `{
	  "initial": "a",
	  "states": {
	    "a": {"always": {"target": "b", "cond": {"type": "matchProperty", "property": "total"}}},
	    "b": {"type": "final"}
	  }
	}`)

	_, err := machine.Run(&registry.Context{Data: models.RecordData{"total": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "guard matchProperty")
}

func TestInvocation_Run(t *testing.T) {
	machine := compile(t, `{
	  "initial": "a",
	  "states": {"a": {"invoke": {"src": "upsert"}}}
	}`)

	pending, err := machine.Run(&registry.Context{Data: models.RecordData{}})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	err = pending[0].Run(context.Background(), &registry.Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service upsert of state a")
}
