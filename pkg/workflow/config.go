// Package workflow runs the state machines that gate record writes.
package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/nodebase/pkg/registry"
	"github.com/xeipuuv/gojsonschema"
)

var ErrInvalidConfig = errors.New("invalid workflow config")

// StateFinal marks a state that ends its machine.
const StateFinal = "final"

// MachineConfig is the declarative machine stored on a workflow version.
type MachineConfig struct {
	ID      string                 `json:"id"`
	Initial string                 `json:"initial"`
	States  map[string]StateConfig `json:"states"`
}

type StateConfig struct {
	Type   string                 `json:"type,omitempty"`
	Entry  Declarations           `json:"entry,omitempty"`
	Exit   Declarations           `json:"exit,omitempty"`
	Always Transitions            `json:"always,omitempty"`
	On     map[string]Transitions `json:"on,omitempty"`
	Invoke *InvokeConfig          `json:"invoke,omitempty"`
}

type TransitionConfig struct {
	Target  string       `json:"target,omitempty"`
	Cond    *Declaration `json:"cond,omitempty"`
	Actions Declarations `json:"actions,omitempty"`
}

type InvokeConfig struct {
	Src     Declaration `json:"src"`
	OnDone  Transitions `json:"onDone,omitempty"`
	OnError Transitions `json:"onError,omitempty"`
}

// Declaration names a guard, action or service with its parameters. The short form is the
// bare name.
type Declaration registry.Meta

func (d *Declaration) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*d = Declaration{"type": name}

		return nil
	}

	var object map[string]any

	err := json.Unmarshal(data, &object)
	if err != nil {
		return err
	}

	*d = Declaration(object)

	return nil
}

func (d Declaration) Meta() registry.Meta {
	return registry.Meta(d)
}

// Declarations accepts a single declaration or a list.
type Declarations []Declaration

func (d *Declarations) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
		var list []Declaration

		err := json.Unmarshal(data, &list)
		if err != nil {
			return err
		}

		*d = list

		return nil
	}

	var single Declaration

	err := json.Unmarshal(data, &single)
	if err != nil {
		return err
	}

	*d = Declarations{single}

	return nil
}

// Transitions accepts a target name, a transition object or a list of transition objects.
type Transitions []TransitionConfig

func (t *Transitions) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)

	switch {
	case bytes.HasPrefix(trimmed, []byte(`"`)):
		var target string

		err := json.Unmarshal(trimmed, &target)
		if err != nil {
			return err
		}

		*t = Transitions{{Target: target}}
	case bytes.HasPrefix(trimmed, []byte("[")):
		var list []TransitionConfig

		err := json.Unmarshal(trimmed, &list)
		if err != nil {
			return err
		}

		*t = list
	default:
		var single TransitionConfig

		err := json.Unmarshal(trimmed, &single)
		if err != nil {
			return err
		}

		*t = Transitions{single}
	}

	return nil
}

// eventless returns the transitions taken without an event: "always" and the legacy
// empty event name.
func (s StateConfig) eventless() Transitions {
	return append(append(Transitions{}, s.Always...), s.On[""]...)
}

// ParseConfig checks the structure of a machine config and decodes it.
func ParseConfig(raw json.RawMessage) (*MachineConfig, error) {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(machineSchema), gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if !result.Valid() {
		var problems []string
		for _, problem := range result.Errors() {
			problems = append(problems, problem.String())
		}

		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}

	var config MachineConfig

	err = json.Unmarshal(raw, &config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &config, nil
}
