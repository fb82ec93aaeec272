package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/nodebase/pkg/models"
)

var errNoWriter = errors.New("workflow context has no record writer")

// RegisterDefaults registers the built-in guards, actions and services.
func (r *Registry) RegisterDefaults() {
	r.RegisterGuard("hasMany", hasMany)
	r.RegisterGuard("hasProperty", hasProperty)
	r.RegisterGuard("isEmptyProperty", isEmptyProperty)
	r.RegisterGuard("matchProperty", matchProperty)
	r.RegisterGuard("setProperty", setProperty)
	r.RegisterGuard("setPropertyError", setPropertyGuard)

	r.RegisterAction("setPropertyError", setPropertyError)
	r.RegisterAction("showMessage", showMessage)
	r.RegisterAction("defineBackReferenceNode", defineBackReferenceNode)

	// Presentation hints for authoring clients.
	r.RegisterAction("disableAllAttributes", noop)
	r.RegisterAction("disableAttributes", noop)
	r.RegisterAction("disableAttributeSelection", noop)

	r.RegisterService("upsert", upsert)
	r.RegisterService("update", upsert)
	r.RegisterService("delete", remove)
	r.RegisterService("addReferenceNode", addReferenceNode)
	r.RegisterService("addBackReferenceNode", addBackReferenceNode)
}

func setPropertyError(c *Context, meta Meta) error {
	c.AddError(meta.String("property"), meta.String("message"))

	return nil
}

func showMessage(c *Context, meta Meta) error {
	message := meta.String("message")
	c.Messages = append(c.Messages, message)

	if c.Logger != nil {
		c.Logger.Info("Workflow message", "message", message, "record_id", c.RecordID)
	}

	return nil
}

func defineBackReferenceNode(c *Context, meta Meta) error {
	if c.Logger != nil {
		c.Logger.Debug("Back-reference node defined", "back_reference", meta.String("backReference"))
	}

	return nil
}

func noop(*Context, Meta) error {
	return nil
}

func upsert(ctx context.Context, c *Context, _ Meta) error {
	if c.Writer == nil {
		return errNoWriter
	}

	return c.Writer.Upsert(ctx, c)
}

func remove(ctx context.Context, c *Context, _ Meta) error {
	if c.Writer == nil {
		return errNoWriter
	}

	return c.Writer.Delete(ctx, c)
}

// addReferenceNode creates the record declared by "payload" and links it through the
// reference attribute named by "attribute".
func addReferenceNode(ctx context.Context, c *Context, meta Meta) error {
	if c.Writer == nil {
		return errNoWriter
	}

	name := meta.String("attribute")
	if name == "" {
		return fmt.Errorf("addReferenceNode needs an attribute")
	}

	return c.Writer.AddReferenceNode(ctx, c, name, payload(c, meta))
}

// addBackReferenceNode creates the record declared by "payload" pointing at the context
// record through the back-reference named by "backReference".
func addBackReferenceNode(ctx context.Context, c *Context, meta Meta) error {
	if c.Writer == nil {
		return errNoWriter
	}

	name := meta.String("backReference")
	if name == "" {
		return fmt.Errorf("addBackReferenceNode needs a backReference")
	}

	return c.Writer.AddBackReferenceNode(ctx, c, name, payload(c, meta))
}

// payload reads a literal "payload" object, or the object held by the "property" path of the
// proposed state.
func payload(c *Context, meta Meta) models.RecordData {
	if literal, ok := meta.Object("payload"); ok {
		return models.RecordData(literal).Clone()
	}

	if path := meta.String("property"); path != "" {
		if value, ok := c.Lookup(path); ok {
			if object, ok := value.(map[string]any); ok {
				return models.RecordData(object).Clone()
			}
		}
	}

	return models.RecordData{}
}
