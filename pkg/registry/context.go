package registry

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dukex/nodebase/pkg/models"
)

// Writer performs the record writes requested by workflow services. Every call runs in the
// transaction of the gated operation.
type Writer interface {
	// Upsert writes the delta of the context to its record.
	Upsert(ctx context.Context, c *Context) error
	// Delete removes the record of the context.
	Delete(ctx context.Context, c *Context) error
	// AddReferenceNode creates a record and links it through a reference attribute of the
	// context record.
	AddReferenceNode(ctx context.Context, c *Context, attributeName string, payload models.RecordData) error
	// AddBackReferenceNode creates a record that points at the context record through the
	// forward side of a back-reference.
	AddBackReferenceNode(ctx context.Context, c *Context, backReferenceName string, payload models.RecordData) error
}

// Context is the state shared by the machines gating one record operation.
type Context struct {
	Schema         *models.SchemaVersion
	Trigger        models.WorkflowTrigger
	OrganizationID int64
	Actor          string

	// RecordID is empty until a new record has been written.
	RecordID string
	// Data is the proposed state: the original values with the delta merged over them.
	Data models.RecordData
	// Original holds the stored values before the operation, empty for new records.
	Original models.RecordData
	// Delta holds the values the operation writes.
	Delta models.RecordData

	Errors   []models.FieldError
	Messages []string

	Writer Writer
	Logger *slog.Logger
}

// AddError records a violation against an attribute.
func (c *Context) AddError(attributeName, message string) {
	c.Errors = append(c.Errors, models.FieldError{AttributeName: attributeName, Message: message})
}

// SetProperty changes the proposed state and the written delta together.
func (c *Context) SetProperty(name string, value any) {
	if c.Data == nil {
		c.Data = models.RecordData{}
	}

	if c.Delta == nil {
		c.Delta = models.RecordData{}
	}

	c.Data[name] = value
	c.Delta[name] = value
}

// Lookup reads a dotted path such as "customer.address.city" or "lines.0.amount" from the
// proposed state.
func (c *Context) Lookup(path string) (any, bool) {
	var current any = map[string]any(c.Data)

	for _, key := range strings.Split(path, ".") {
		switch node := current.(type) {
		case models.RecordData:
			value, ok := node[key]
			if !ok {
				return nil, false
			}

			current = value
		case map[string]any:
			value, ok := node[key]
			if !ok {
				return nil, false
			}

			current = value
		case []any:
			index, err := strconv.Atoi(key)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}

			current = node[index]
		default:
			return nil, false
		}
	}

	return current, true
}
