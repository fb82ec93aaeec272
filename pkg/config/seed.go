// Package config loads schema and workflow definitions from YAML seed files.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dukex/nodebase/pkg/attributes"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/services"
	"gopkg.in/yaml.v3"
)

// schemaOption names a seeded schema inside reference options. It is replaced by the
// schemaVersionId of that schema when the seed is applied.
const schemaOption = "schema"

var ErrUnknownSchema = errors.New("seed references an unknown schema")

// SeedFile represents the structure of a seed YAML file.
type SeedFile struct {
	Schemas   []SchemaSeed   `yaml:"schemas"`
	Workflows []WorkflowSeed `yaml:"workflows"`
}

// SchemaSeed represents a schema in the YAML file. Schemas are created in file order, so
// a reference may only name a schema listed before it.
type SchemaSeed struct {
	Name       string          `yaml:"name"`
	Label      string          `yaml:"label"`
	Type       string          `yaml:"type"`
	Publish    bool            `yaml:"publish"`
	Attributes []AttributeSeed `yaml:"attributes"`
}

// AttributeSeed represents one attribute of a seeded schema.
type AttributeSeed struct {
	Name       string         `yaml:"name"`
	Label      string         `yaml:"label"`
	Type       string         `yaml:"type"`
	IsRequired bool           `yaml:"required"`
	Options    map[string]any `yaml:"options"`
}

// WorkflowSeed represents a workflow attached to a seeded schema.
type WorkflowSeed struct {
	Name    string         `yaml:"name"`
	Label   string         `yaml:"label"`
	Schema  string         `yaml:"schema"`
	Trigger string         `yaml:"trigger"`
	Publish bool           `yaml:"publish"`
	Config  map[string]any `yaml:"config"`
}

// LoadSeed reads and parses a seed file.
func LoadSeed(filepath string) (*SeedFile, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", filepath, err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse YAML seed: %w", err)
	}

	return &seed, nil
}

// Seeder applies seed files through the schema and workflow services.
type Seeder struct {
	schemas   *services.Schema
	workflows *services.Workflows
	logger    *slog.Logger
}

func NewSeeder(schemas *services.Schema, workflows *services.Workflows, logger *slog.Logger) *Seeder {
	return &Seeder{schemas: schemas, workflows: workflows, logger: logger}
}

// Apply creates every schema and workflow of the seed in the organization. It stops at the
// first failure; definitions created before it are kept.
func (s *Seeder) Apply(ctx context.Context, organizationID int64, actor string, seed *SeedFile) error {
	versions := map[string]string{}

	for _, schemaSeed := range seed.Schemas {
		payload, err := schemaSeed.Payload(versions)
		if err != nil {
			return err
		}

		version, err := s.schemas.Create(ctx, organizationID, actor, payload)
		if err != nil {
			return fmt.Errorf("failed to create schema %s: %w", schemaSeed.Name, err)
		}

		if schemaSeed.Publish {
			version, err = s.schemas.Publish(ctx, organizationID, actor, version.ID)
			if err != nil {
				return fmt.Errorf("failed to publish schema %s: %w", schemaSeed.Name, err)
			}
		}

		versions[schemaSeed.Name] = version.ID

		s.logger.InfoContext(ctx, "schema seeded", "schema_name", schemaSeed.Name, "schema_version_id", version.ID)
	}

	for _, workflowSeed := range seed.Workflows {
		payload, err := workflowSeed.Payload(versions)
		if err != nil {
			return err
		}

		version, err := s.workflows.Create(ctx, organizationID, actor, payload)
		if err != nil {
			return fmt.Errorf("failed to create workflow %s: %w", workflowSeed.Name, err)
		}

		if workflowSeed.Publish {
			_, err = s.workflows.Publish(ctx, organizationID, actor, version.ID)
			if err != nil {
				return fmt.Errorf("failed to publish workflow %s: %w", workflowSeed.Name, err)
			}
		}

		s.logger.InfoContext(ctx, "workflow seeded", "workflow_name", workflowSeed.Name, "workflow_version_id", version.ID)
	}

	return nil
}

// Payload converts the seed into a create payload. versions maps the names of schemas
// already created to their version ids.
func (s SchemaSeed) Payload(versions map[string]string) (services.SchemaPayload, error) {
	payload := services.SchemaPayload{
		Name:       s.Name,
		Label:      s.Label,
		Type:       s.Type,
		Attributes: make([]services.AttributePayload, 0, len(s.Attributes)),
	}

	for _, attribute := range s.Attributes {
		options, err := attribute.options(versions)
		if err != nil {
			return services.SchemaPayload{}, fmt.Errorf("schema %s attribute %s: %w", s.Name, attribute.Name, err)
		}

		payload.Attributes = append(payload.Attributes, services.AttributePayload{
			Name:       attribute.Name,
			Label:      attribute.Label,
			Type:       attributes.Type(attribute.Type),
			IsRequired: attribute.IsRequired,
			Options:    options,
		})
	}

	return payload, nil
}

func (a AttributeSeed) options(versions map[string]string) (json.RawMessage, error) {
	if len(a.Options) == 0 {
		return nil, nil
	}

	options := make(map[string]any, len(a.Options))
	for key, value := range a.Options {
		options[key] = value
	}

	if name, ok := options[schemaOption].(string); ok {
		versionID, found := versions[name]
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, name)
		}

		delete(options, schemaOption)
		options["schemaVersionId"] = versionID
	}

	return json.Marshal(options)
}

// Payload converts the seed into a workflow create payload.
func (w WorkflowSeed) Payload(versions map[string]string) (services.WorkflowPayload, error) {
	versionID, found := versions[w.Schema]
	if !found {
		return services.WorkflowPayload{}, fmt.Errorf("workflow %s: %w: %s", w.Name, ErrUnknownSchema, w.Schema)
	}

	config, err := json.Marshal(w.Config)
	if err != nil {
		return services.WorkflowPayload{}, fmt.Errorf("workflow %s: %w", w.Name, err)
	}

	return services.WorkflowPayload{
		Name:            w.Name,
		Label:           w.Label,
		SchemaVersionID: versionID,
		Trigger:         models.WorkflowTrigger(w.Trigger),
		Config:          config,
	}, nil
}
