package workflow

import (
	"context"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/registry"
	"github.com/dukex/nodebase/pkg/services"
)

// writer performs the writes requested by workflow services within the scope of the gated
// operation. The primary write and delete happen at most once per operation, whether a
// service asked for them or the pipeline completes the operation itself.
type writer struct {
	pipeline *Pipeline
	scope    *services.WriteScope
	version  *models.SchemaVersion

	written bool
	deleted bool
}

func (w *writer) Upsert(ctx context.Context, c *registry.Context) error {
	if w.written {
		return nil
	}

	record, err := w.pipeline.records.Upsert(ctx, w.scope, w.version, c.RecordID, c.Delta)
	if err != nil {
		return err
	}

	w.written = true
	c.RecordID = record.ID

	return nil
}

func (w *writer) Delete(ctx context.Context, c *registry.Context) error {
	if w.deleted {
		return nil
	}

	if c.RecordID == "" {
		return services.NewValidationError("Delete", "NO_RECORD", "the record has not been written", services.ErrInvalidRequest)
	}

	err := w.pipeline.records.Delete(ctx, w.scope, c.RecordID)
	if err != nil {
		return err
	}

	w.deleted = true

	return nil
}

func (w *writer) AddReferenceNode(ctx context.Context, c *registry.Context, attributeName string, payload models.RecordData) error {
	err := w.ensureRecord(ctx, c)
	if err != nil {
		return err
	}

	_, err = w.pipeline.records.CreateReferenceNode(ctx, w.scope, c.RecordID, attributeName, payload)

	return err
}

func (w *writer) AddBackReferenceNode(ctx context.Context, c *registry.Context, backReferenceName string, payload models.RecordData) error {
	err := w.ensureRecord(ctx, c)
	if err != nil {
		return err
	}

	_, err = w.pipeline.records.AddBackReferenceNode(ctx, w.scope, c.RecordID, backReferenceName, payload)

	return err
}

// ensureRecord writes a new record before anything is linked to it.
func (w *writer) ensureRecord(ctx context.Context, c *registry.Context) error {
	if c.RecordID != "" || c.Trigger == models.TriggerDelete {
		return nil
	}

	return w.Upsert(ctx, c)
}
