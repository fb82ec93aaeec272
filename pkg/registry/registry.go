// Package registry resolves the guard, action and service names used by workflow machines.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// ErrNotRegistered is returned when a machine names a guard, action or service that no
// registry entry provides.
var ErrNotRegistered = errors.New("not registered")

// Meta is the declaration that named a guard, action or service in a machine config, for
// example {"type": "matchProperty", "property": "status", "value": "open"}.
type Meta map[string]any

// Guard decides whether a transition is taken. Guards may record errors on the context.
type Guard func(c *Context, meta Meta) (bool, error)

// Action runs while a transition is taken or a state is entered or left.
type Action func(c *Context, meta Meta) error

// Service performs a side effect once every machine of a run finished without errors.
type Service func(ctx context.Context, c *Context, meta Meta) error

type Registry struct {
	logger   *slog.Logger
	guards   map[string]Guard
	actions  map[string]Action
	services map[string]Service
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:   log,
		guards:   make(map[string]Guard),
		actions:  make(map[string]Action),
		services: make(map[string]Service),
	}
}

func (r *Registry) RegisterGuard(name string, guard Guard) {
	r.guards[name] = guard
}

func (r *Registry) RegisterAction(name string, action Action) {
	r.actions[name] = action
}

func (r *Registry) RegisterService(name string, service Service) {
	r.services[name] = service
}

func (r *Registry) Guard(name string) (Guard, error) {
	guard, ok := r.guards[name]
	if !ok {
		return nil, fmt.Errorf("guard '%s' %w", name, ErrNotRegistered)
	}

	return guard, nil
}

func (r *Registry) Action(name string) (Action, error) {
	action, ok := r.actions[name]
	if !ok {
		return nil, fmt.Errorf("action '%s' %w", name, ErrNotRegistered)
	}

	return action, nil
}

func (r *Registry) Service(name string) (Service, error) {
	service, ok := r.services[name]
	if !ok {
		return nil, fmt.Errorf("service '%s' %w", name, ErrNotRegistered)
	}

	return service, nil
}

// Names lists the registered guard, action and service names, each sorted.
func (r *Registry) Names() (guards, actions, services []string) {
	return sortedKeys(r.guards), sortedKeys(r.actions), sortedKeys(r.services)
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}

	slices.Sort(keys)

	return keys
}
