package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dukex/nodebase/pkg/attributes"
	"github.com/dukex/nodebase/pkg/cache"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/otelhelper"
	"github.com/dukex/nodebase/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SchemaPayload describes a schema version as authored by a caller.
type SchemaPayload struct {
	Name       string             `json:"name"       validate:"required,max=255"`
	Label      string             `json:"label"      validate:"max=255"`
	Type       string             `json:"type"       validate:"max=100"`
	Attributes []AttributePayload `json:"attributes" validate:"dive"`
}

// AttributePayload describes one attribute. An id addresses an existing attribute of the
// version being updated.
type AttributePayload struct {
	ID         string          `json:"id,omitempty" validate:"omitempty,uuid"`
	Name       string          `json:"name"         validate:"required,max=255"`
	Label      string          `json:"label"        validate:"max=255"`
	Position   *int            `json:"position,omitempty"`
	Type       attributes.Type `json:"type"         validate:"required"`
	IsRequired bool            `json:"isRequired"`
	Options    json.RawMessage `json:"options,omitempty"`
}

// FindSchemasRequest contains options for listing schemas.
type FindSchemasRequest struct {
	Search    string
	Limit     int `validate:"min=0,max=100"`
	Offset    int `validate:"min=0"`
	SortBy    string
	SortOrder string `validate:"omitempty,oneof=asc desc"`
}

// Schema is the schema version directory.
type Schema struct {
	persistence persistence.Persistence
	cache       cache.SchemaCache
	validate    *validator.Validate
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewSchema creates a new schema service.
func NewSchema(p persistence.Persistence, schemaCache cache.SchemaCache, logger *slog.Logger, tracer trace.Tracer) *Schema {
	return &Schema{
		persistence: p,
		cache:       schemaCache,
		validate:    validator.New(),
		logger:      logger,
		tracer:      tracer,
	}
}

// Find lists the schema definitions of an organization with their published and latest
// versions.
func (s *Schema) Find(ctx context.Context, organizationID int64, req FindSchemasRequest) (summaries []*models.SchemaSummary, total int64, err error) {
	ctx, span := startSpan(ctx, s.tracer, "schema.find", organizationID)
	defer func() { finish(span, err) }()

	err = s.validate.Struct(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if req.Limit == 0 {
		req.Limit = 20
	}

	definitions, total, err := s.persistence.Schemas().ListDefinitions(ctx, persistence.ListSchemasOptions{
		OrganizationID: organizationID,
		Search:         req.Search,
		Limit:          req.Limit,
		Offset:         req.Offset,
		SortBy:         req.SortBy,
		SortOrder:      req.SortOrder,
	})
	if err != nil {
		if persistence.IsInvalidSortField(err) {
			return nil, 0, invalid("Find", "INVALID_SORT_FIELD", ErrInvalidSortField,
				"invalid sort field '%s', allowed: createdAt, updatedAt, name", req.SortBy)
		}

		return nil, 0, fmt.Errorf("failed to list schemas: %w", err)
	}

	summaries = make([]*models.SchemaSummary, 0, len(definitions))

	for _, definition := range definitions {
		summary := &models.SchemaSummary{Definition: definition}

		if definition.PublishedVersionID != nil {
			summary.Published, err = s.persistence.Schemas().Version(ctx, organizationID, *definition.PublishedVersionID)
			if err != nil {
				return nil, 0, fmt.Errorf("failed to load published version: %w", err)
			}
		}

		summary.Latest, err = s.persistence.Schemas().LatestVersion(ctx, organizationID, definition.ID)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to load latest version: %w", err)
		}

		summaries = append(summaries, summary)
	}

	return summaries, total, nil
}

// FindByID returns the published version of a schema, or its latest version when none is
// published.
func (s *Schema) FindByID(ctx context.Context, organizationID int64, schemaID string) (version *models.SchemaVersion, err error) {
	ctx, span := startSpan(ctx, s.tracer, "schema.find_by_id", organizationID, attribute.String(otelhelper.SchemaIDKey, schemaID))
	defer func() { finish(span, err) }()

	definition, err := s.persistence.Schemas().Definition(ctx, organizationID, schemaID)
	if err != nil {
		return nil, err
	}

	if definition.PublishedVersionID != nil {
		return s.Version(ctx, s.persistence, organizationID, *definition.PublishedVersionID)
	}

	latest, err := s.persistence.Schemas().LatestVersion(ctx, organizationID, schemaID)
	if err != nil {
		return nil, err
	}

	return s.withBackReferences(ctx, s.persistence, latest)
}

func (s *Schema) FindByName(ctx context.Context, organizationID int64, name string) (version *models.SchemaVersion, err error) {
	ctx, span := startSpan(ctx, s.tracer, "schema.find_by_name", organizationID, attribute.String(otelhelper.SchemaNameKey, name))
	defer func() { finish(span, err) }()

	found, err := s.persistence.Schemas().VersionByName(ctx, organizationID, name)
	if err != nil {
		return nil, err
	}

	return s.Version(ctx, s.persistence, organizationID, found.ID)
}

func (s *Schema) FindByType(ctx context.Context, organizationID int64, schemaType string) (versions []*models.SchemaVersion, err error) {
	ctx, span := startSpan(ctx, s.tracer, "schema.find_by_type", organizationID)
	defer func() { finish(span, err) }()

	found, err := s.persistence.Schemas().VersionsByType(ctx, organizationID, schemaType)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas by type: %w", err)
	}

	versions = make([]*models.SchemaVersion, 0, len(found))

	for _, version := range found {
		version, err = s.withBackReferences(ctx, s.persistence, version)
		if err != nil {
			return nil, err
		}

		versions = append(versions, version)
	}

	return versions, nil
}

func (s *Schema) FindVersionByID(ctx context.Context, organizationID int64, versionID string) (version *models.SchemaVersion, err error) {
	ctx, span := startSpan(ctx, s.tracer, "schema.find_version_by_id", organizationID, attribute.String(otelhelper.SchemaVersionIDKey, versionID))
	defer func() { finish(span, err) }()

	return s.Version(ctx, s.persistence, organizationID, versionID)
}

// Version loads a schema version through the given repositories, reading published versions
// through the cache, and attaches its back-references.
func (s *Schema) Version(ctx context.Context, repos persistence.Repositories, organizationID int64, versionID string) (*models.SchemaVersion, error) {
	version, ok := s.cache.Get(ctx, versionID)
	if !ok || version.OrganizationID != organizationID {
		var err error

		version, err = repos.Schemas().Version(ctx, organizationID, versionID)
		if err != nil {
			return nil, err
		}

		if version.IsPublished {
			s.cache.Set(ctx, version)
		}
	}

	return s.withBackReferences(ctx, repos, version)
}

// withBackReferences synthesizes one virtual attribute per source schema and forward attribute
// name targeting the version. Forward attributes sharing a name across the versions of one
// source schema fold into a single back-reference, described by the newest of them, so records
// written under older versions stay reachable. A back-reference takes the name of its forward
// attribute, prefixed with the source schema name and then its version number when that name
// is taken.
func (s *Schema) withBackReferences(ctx context.Context, repos persistence.Repositories, version *models.SchemaVersion) (*models.SchemaVersion, error) {
	inbound, err := repos.Schemas().InboundReferences(ctx, version.OrganizationID, version.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load back-references: %w", err)
	}

	type group struct {
		reference *persistence.InboundReference
		sourceIDs []string
	}

	var groups []*group

	index := map[[2]string]*group{}

	for _, reference := range inbound {
		key := [2]string{reference.SourceSchemaID, reference.Attribute.Name}

		g, ok := index[key]
		if !ok {
			g = &group{reference: reference}
			index[key] = g
			groups = append(groups, g)
		}

		g.sourceIDs = append(g.sourceIDs, reference.Attribute.ID)
	}

	for _, g := range groups {
		source := g.reference.Attribute

		name := source.Name
		if version.AttributeByName(name) != nil {
			name = g.reference.SourceVersionName + "_" + source.Name
		}

		if version.AttributeByName(name) != nil {
			name = fmt.Sprintf("%s_v%d_%s", g.reference.SourceVersionName, g.reference.SourceVersion, source.Name)
		}

		inverse := source.ReferenceType.Inverse()
		sourceVersionID := source.SchemaVersionID

		version.Attributes = append(version.Attributes, &models.Attribute{
			ID:                        source.ID,
			SchemaVersionID:           version.ID,
			Name:                      name,
			Label:                     source.Label,
			Position:                  len(version.Attributes),
			Type:                      attributes.TypeReference,
			Options:                   &attributes.ReferenceOptions{SchemaVersionID: sourceVersionID, ReferenceType: inverse},
			ReferenceType:             inverse,
			ReferencedSchemaVersionID: &sourceVersionID,
			IsBackReference:           true,
			SourceAttributeIDs:        g.sourceIDs,
			CreatedAt:                 source.CreatedAt,
			UpdatedAt:                 source.UpdatedAt,
		})
	}

	return version, nil
}

// Create stores a schema definition with its first version and attributes.
func (s *Schema) Create(ctx context.Context, organizationID int64, actor string, payload SchemaPayload) (version *models.SchemaVersion, err error) {
	ctx, span := startSpan(ctx, s.tracer, "schema.create", organizationID,
		attribute.String(otelhelper.SchemaNameKey, payload.Name), attribute.String(otelhelper.ActorKey, actor))
	defer func() { finish(span, err) }()

	err = s.validate.Struct(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var versionID string

	err = s.persistence.InTx(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		definition := &models.SchemaDefinition{OrganizationID: organizationID, CreatedBy: actor, ModifiedBy: actor}

		err := repos.Schemas().SaveDefinition(ctx, definition)
		if err != nil {
			return err
		}

		created := &models.SchemaVersion{
			SchemaDefinitionID: definition.ID,
			OrganizationID:     organizationID,
			Version:            1,
			Name:               payload.Name,
			Label:              payload.Label,
			Type:               payload.Type,
			CreatedBy:          actor,
			ModifiedBy:         actor,
		}

		err = repos.Schemas().SaveVersion(ctx, created)
		if err != nil {
			return err
		}

		versionID = created.ID

		return s.saveAttributes(ctx, repos, created, nil, payload.Attributes)
	})
	if err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "schema created", "schema_version_id", versionID, "name", payload.Name)

	return s.Version(ctx, s.persistence, organizationID, versionID)
}

// Update edits an unpublished version in place. Attributes carrying an id are updated, new
// ones inserted and attributes missing from the payload soft deleted.
func (s *Schema) Update(ctx context.Context, organizationID int64, actor, versionID string, payload SchemaPayload) (version *models.SchemaVersion, err error) {
	ctx, span := startSpan(ctx, s.tracer, "schema.update", organizationID,
		attribute.String(otelhelper.SchemaVersionIDKey, versionID), attribute.String(otelhelper.ActorKey, actor))
	defer func() { finish(span, err) }()

	err = s.validate.Struct(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	err = s.persistence.InTx(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		current, err := repos.Schemas().LockVersion(ctx, organizationID, versionID)
		if err != nil {
			return err
		}

		if current.IsPublished {
			return invalid("Update", "PUBLISHED_VERSION", ErrPublishedVersion,
				"version %d of %s is published, create a new version to change it", current.Version, current.Name)
		}

		current.Name = payload.Name
		current.Label = payload.Label
		current.Type = payload.Type
		current.ModifiedBy = actor

		err = repos.Schemas().SaveVersion(ctx, current)
		if err != nil {
			return err
		}

		return s.saveAttributes(ctx, repos, current, current.StoredAttributes(), payload.Attributes)
	})
	if err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "schema updated", "schema_version_id", versionID)

	return s.Version(ctx, s.persistence, organizationID, versionID)
}

// Publish freezes a version and makes it the version new records resolve to.
func (s *Schema) Publish(ctx context.Context, organizationID int64, actor, versionID string) (version *models.SchemaVersion, err error) {
	ctx, span := startSpan(ctx, s.tracer, "schema.publish", organizationID,
		attribute.String(otelhelper.SchemaVersionIDKey, versionID), attribute.String(otelhelper.ActorKey, actor))
	defer func() { finish(span, err) }()

	err = s.persistence.Schemas().PublishVersion(ctx, organizationID, versionID, actor)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "schema version published", "schema_version_id", versionID)

	return s.Version(ctx, s.persistence, organizationID, versionID)
}

// CreateVersion clones the latest version of a schema into a new unpublished version.
func (s *Schema) CreateVersion(ctx context.Context, organizationID int64, actor, schemaID string) (version *models.SchemaVersion, err error) {
	ctx, span := startSpan(ctx, s.tracer, "schema.create_version", organizationID,
		attribute.String(otelhelper.SchemaIDKey, schemaID), attribute.String(otelhelper.ActorKey, actor))
	defer func() { finish(span, err) }()

	var versionID string

	err = s.persistence.InTx(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		latest, err := repos.Schemas().LatestVersion(ctx, organizationID, schemaID)
		if err != nil {
			return err
		}

		maxVersion, err := repos.Schemas().MaxVersion(ctx, schemaID)
		if err != nil {
			return err
		}

		draft := &models.SchemaVersion{
			SchemaDefinitionID: schemaID,
			OrganizationID:     organizationID,
			Version:            maxVersion + 1,
			Name:               latest.Name,
			Label:              latest.Label,
			Type:               latest.Type,
			CreatedBy:          actor,
			ModifiedBy:         actor,
		}

		err = repos.Schemas().SaveVersion(ctx, draft)
		if err != nil {
			return err
		}

		for _, source := range latest.StoredAttributes() {
			clone := *source
			clone.ID = ""
			clone.SchemaVersionID = draft.ID

			err = repos.Schemas().SaveAttribute(ctx, &clone)
			if err != nil {
				return fmt.Errorf("failed to copy attribute %s: %w", source.Name, err)
			}
		}

		versionID = draft.ID

		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.Version(ctx, s.persistence, organizationID, versionID)
}

// Delete soft deletes a schema definition together with its versions.
func (s *Schema) Delete(ctx context.Context, organizationID int64, actor, schemaID string) (err error) {
	ctx, span := startSpan(ctx, s.tracer, "schema.delete", organizationID,
		attribute.String(otelhelper.SchemaIDKey, schemaID), attribute.String(otelhelper.ActorKey, actor))
	defer func() { finish(span, err) }()

	err = s.persistence.Schemas().DeleteDefinition(ctx, organizationID, schemaID, actor)
	if err != nil {
		return err
	}

	versionIDs, err := s.persistence.Schemas().VersionIDs(ctx, schemaID)
	if err != nil {
		return err
	}

	s.cache.Invalidate(ctx, versionIDs...)

	s.logger.InfoContext(ctx, "schema deleted", "schema_id", schemaID)

	return nil
}

// saveAttributes validates the payload attributes and reconciles them with the existing
// stored attributes of the version.
func (s *Schema) saveAttributes(ctx context.Context, repos persistence.Repositories, version *models.SchemaVersion, existing []*models.Attribute, payload []AttributePayload) error {
	byID := make(map[string]*models.Attribute, len(existing))
	for _, attribute := range existing {
		byID[attribute.ID] = attribute
	}

	seen := make(map[string]bool, len(payload))
	kept := make(map[string]bool, len(payload))
	attrs := make([]*models.Attribute, 0, len(payload))

	for i, item := range payload {
		if models.IsReservedField(item.Name) {
			return invalid("saveAttributes", "RESERVED_NAME", ErrInvalidRequest, "attribute name %q is reserved", item.Name)
		}

		if seen[item.Name] {
			return invalid("saveAttributes", "DUPLICATE_NAME", ErrInvalidRequest, "attribute name %q is used twice", item.Name)
		}

		seen[item.Name] = true

		attribute, err := s.buildAttribute(ctx, repos, version, item)
		if err != nil {
			return err
		}

		if item.ID != "" {
			current, ok := byID[item.ID]
			if !ok {
				return invalid("saveAttributes", "UNKNOWN_ATTRIBUTE", ErrUnknownAttribute,
					"attribute %s does not belong to version %s", item.ID, version.ID)
			}

			attribute.ID = current.ID
			attribute.CreatedAt = current.CreatedAt
			kept[item.ID] = true
		}

		if item.Position != nil {
			attribute.Position = *item.Position
		} else {
			attribute.Position = i
		}

		attrs = append(attrs, attribute)
	}

	for _, attribute := range existing {
		if kept[attribute.ID] {
			continue
		}

		err := repos.Schemas().DeleteAttribute(ctx, attribute.ID)
		if err != nil {
			return err
		}
	}

	for _, attribute := range attrs {
		err := repos.Schemas().SaveAttribute(ctx, attribute)
		if err != nil {
			if persistence.IsUniqueViolation(err) {
				return invalid("saveAttributes", "DUPLICATE_NAME", ErrInvalidRequest, "attribute name %q is taken", attribute.Name)
			}

			return err
		}
	}

	return nil
}

func (s *Schema) buildAttribute(ctx context.Context, repos persistence.Repositories, version *models.SchemaVersion, item AttributePayload) (*models.Attribute, error) {
	options, err := attributes.ParseOptions(item.Type, item.Options)
	if err != nil {
		if item.Type == attributes.TypeSequence {
			return nil, fmt.Errorf("%w: %s: %w", ErrSequenceMisconfigured, item.Name, err)
		}

		return nil, fmt.Errorf("attribute %s: %w", item.Name, err)
	}

	attribute := &models.Attribute{
		SchemaVersionID: version.ID,
		Name:            item.Name,
		Label:           item.Label,
		Type:            item.Type,
		IsRequired:      item.IsRequired,
		Options:         options,
	}

	if reference, ok := options.(*attributes.ReferenceOptions); ok {
		_, err = repos.Schemas().Version(ctx, version.OrganizationID, reference.SchemaVersionID)
		if err != nil {
			if persistence.IsSchemaNotFound(err) {
				return nil, invalid("buildAttribute", "INVALID_REFERENCE", ErrInvalidReference,
					"attribute %s references unknown schema version %s", item.Name, reference.SchemaVersionID)
			}

			return nil, err
		}

		target := reference.SchemaVersionID
		attribute.ReferenceType = reference.ReferenceType
		attribute.ReferencedSchemaVersionID = &target
	}

	return attribute, nil
}
