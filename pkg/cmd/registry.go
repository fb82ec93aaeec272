// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"log/slog"

	"github.com/dukex/nodebase/pkg/registry"
)

// NewRegistry returns a registry holding the built-in guards, actions and services.
func NewRegistry(log *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(log)
	reg.RegisterDefaults()

	guards, actions, services := reg.Names()
	log.Debug("registry loaded", "guards", len(guards), "actions", len(actions), "services", len(services))

	return reg
}
