package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/dukex/nodebase/pkg/registry"
)

// maxSteps bounds the transitions of one run so a cycle of eventless transitions ends.
const maxSteps = 256

var ErrStepLimit = errors.New("workflow machine did not settle")

// Machine is a machine config with every guard, action and service resolved.
type Machine struct {
	id      string
	initial string
	states  map[string]*state
}

type state struct {
	name      string
	final     bool
	entry     []boundAction
	exit      []boundAction
	eventless []*transition
	invoke    *invocation
}

type transition struct {
	target  string
	guard   *boundGuard
	actions []boundAction
}

type boundGuard struct {
	name string
	fn   registry.Guard
	meta registry.Meta
}

type boundAction struct {
	name string
	fn   registry.Action
	meta registry.Meta
}

type invocation struct {
	name   string
	fn     registry.Service
	meta   registry.Meta
	onDone []*transition
}

// Invocation is a service requested by a run. Services run after every machine gating the
// operation finished without errors.
type Invocation struct {
	Machine string
	State   string
	Service string

	fn   registry.Service
	meta registry.Meta
}

func (i Invocation) Run(ctx context.Context, c *registry.Context) error {
	err := i.fn(ctx, c, i.meta)
	if err != nil {
		return fmt.Errorf("service %s of state %s: %w", i.Service, i.State, err)
	}

	return nil
}

// Compiler turns machine configs into machines using a registry.
type Compiler struct {
	registry *registry.Registry
}

func NewCompiler(r *registry.Registry) *Compiler {
	return &Compiler{registry: r}
}

// CompileConfig reports whether a config compiles.
func (c *Compiler) CompileConfig(raw json.RawMessage) error {
	_, err := c.Compile(raw)

	return err
}

// Compile checks the config and resolves the names it declares. Transitions on named
// events are not compiled: machines run without external events.
func (c *Compiler) Compile(raw json.RawMessage) (*Machine, error) {
	config, err := ParseConfig(raw)
	if err != nil {
		return nil, err
	}

	if _, ok := config.States[config.Initial]; !ok {
		return nil, fmt.Errorf("%w: initial state %q is not declared", ErrInvalidConfig, config.Initial)
	}

	machine := &Machine{
		id:      config.ID,
		initial: config.Initial,
		states:  make(map[string]*state, len(config.States)),
	}

	for _, name := range slices.Sorted(maps.Keys(config.States)) {
		compiled, err := c.state(name, config.States[name], config.States)
		if err != nil {
			return nil, fmt.Errorf("%w: state %q: %w", ErrInvalidConfig, name, err)
		}

		machine.states[name] = compiled
	}

	return machine, nil
}

func (c *Compiler) state(name string, config StateConfig, states map[string]StateConfig) (*state, error) {
	var err error

	compiled := &state{name: name, final: config.Type == StateFinal}

	compiled.entry, err = c.actions(config.Entry)
	if err != nil {
		return nil, err
	}

	compiled.exit, err = c.actions(config.Exit)
	if err != nil {
		return nil, err
	}

	compiled.eventless, err = c.transitions(config.eventless(), states)
	if err != nil {
		return nil, err
	}

	if config.Invoke == nil {
		return compiled, nil
	}

	serviceName := config.Invoke.Src.Meta().Type()

	service, err := c.registry.Service(serviceName)
	if err != nil {
		return nil, err
	}

	onDone, err := c.transitions(config.Invoke.OnDone, states)
	if err != nil {
		return nil, err
	}

	compiled.invoke = &invocation{name: serviceName, fn: service, meta: config.Invoke.Src.Meta(), onDone: onDone}

	return compiled, nil
}

func (c *Compiler) actions(declarations Declarations) ([]boundAction, error) {
	bound := make([]boundAction, 0, len(declarations))

	for _, declaration := range declarations {
		name := declaration.Meta().Type()

		action, err := c.registry.Action(name)
		if err != nil {
			return nil, err
		}

		bound = append(bound, boundAction{name: name, fn: action, meta: declaration.Meta()})
	}

	return bound, nil
}

func (c *Compiler) transitions(configs Transitions, states map[string]StateConfig) ([]*transition, error) {
	compiled := make([]*transition, 0, len(configs))

	for _, config := range configs {
		if config.Target != "" {
			if _, ok := states[config.Target]; !ok {
				return nil, fmt.Errorf("target state %q is not declared", config.Target)
			}
		}

		actions, err := c.actions(config.Actions)
		if err != nil {
			return nil, err
		}

		t := &transition{target: config.Target, actions: actions}

		if config.Cond != nil {
			name := config.Cond.Meta().Type()

			guard, err := c.registry.Guard(name)
			if err != nil {
				return nil, err
			}

			t.guard = &boundGuard{name: name, fn: guard, meta: config.Cond.Meta()}
		}

		compiled = append(compiled, t)
	}

	return compiled, nil
}

// Run drives the machine from its initial state until it reaches a final state or no
// transition is enabled. Invoked services are returned in request order, and their onDone
// transitions are followed as if the service had succeeded.
func (m *Machine) Run(c *registry.Context) ([]Invocation, error) {
	var pending []Invocation

	current := m.states[m.initial]

	err := runActions(c, current.entry)
	if err != nil {
		return nil, err
	}

	for step := 0; ; step++ {
		if step >= maxSteps {
			return nil, fmt.Errorf("%w after %d transitions", ErrStepLimit, maxSteps)
		}

		if current.final {
			return pending, nil
		}

		candidates := current.eventless

		if current.invoke != nil {
			pending = append(pending, Invocation{
				Machine: m.id,
				State:   current.name,
				Service: current.invoke.name,
				fn:      current.invoke.fn,
				meta:    current.invoke.meta,
			})

			candidates = append(slices.Clone(candidates), current.invoke.onDone...)
		}

		next, err := pick(c, candidates)
		if err != nil {
			return nil, err
		}

		if next == nil {
			return pending, nil
		}

		if next.target == "" {
			return pending, runActions(c, next.actions)
		}

		err = runActions(c, current.exit)
		if err != nil {
			return nil, err
		}

		err = runActions(c, next.actions)
		if err != nil {
			return nil, err
		}

		current = m.states[next.target]

		err = runActions(c, current.entry)
		if err != nil {
			return nil, err
		}
	}
}

// pick returns the first transition whose guard passes.
func pick(c *registry.Context, candidates []*transition) (*transition, error) {
	for _, candidate := range candidates {
		if candidate.guard == nil {
			return candidate, nil
		}

		ok, err := candidate.guard.fn(c, candidate.guard.meta)
		if err != nil {
			return nil, fmt.Errorf("guard %s: %w", candidate.guard.name, err)
		}

		if ok {
			return candidate, nil
		}
	}

	return nil, nil
}

func runActions(c *registry.Context, actions []boundAction) error {
	for _, action := range actions {
		err := action.fn(c, action.meta)
		if err != nil {
			return fmt.Errorf("action %s: %w", action.name, err)
		}
	}

	return nil
}
