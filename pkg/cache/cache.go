// Package cache keeps published schema versions close to the services. Published versions
// are immutable, so entries never go stale; they are only dropped when their schema is
// deleted.
package cache

import (
	"context"

	"github.com/dukex/nodebase/pkg/models"
)

// SchemaCache stores published schema versions by id. Implementations must never be handed
// a draft version.
type SchemaCache interface {
	Get(ctx context.Context, versionID string) (*models.SchemaVersion, bool)
	Set(ctx context.Context, version *models.SchemaVersion)
	Invalidate(ctx context.Context, versionIDs ...string)
}

// Noop is a SchemaCache that stores nothing.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (*Noop) Get(context.Context, string) (*models.SchemaVersion, bool) {
	return nil, false
}

func (*Noop) Set(context.Context, *models.SchemaVersion) {}

func (*Noop) Invalidate(context.Context, ...string) {}
