package services

import (
	"context"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/persistence"
	"github.com/dukex/nodebase/pkg/query"
)

// Include selects the references a normalized record embeds. References and
// BackReferences expand one level; Relations expands named paths to any depth. References
// that are not expanded render as {"id": ...} stubs and back-references are omitted.
type Include struct {
	References     bool
	BackReferences bool
	Relations      query.RelationTree
}

// IncludeFrom reads the expansion flags of find options.
func IncludeFrom(opts query.Options) Include {
	return Include{
		References:     opts.IncludeReferences,
		BackReferences: opts.IncludeBackReferences,
		Relations:      query.ParseRelations(opts.Relations),
	}
}

// child returns the expansion applied to the records found through the attribute. Only
// named relation paths carry past the first level, so recursion ends with the path.
func (i Include) child(attribute *models.Attribute) (Include, bool) {
	if sub, ok := i.Relations[attribute.Name]; ok {
		return Include{Relations: sub}, true
	}

	if attribute.IsBackReference {
		return Include{}, i.BackReferences
	}

	return Include{}, i.References
}

type normalizer struct {
	repos          persistence.Repositories
	schemas        *Schema
	organizationID int64
	versions       map[string]*models.SchemaVersion
}

func newNormalizer(repos persistence.Repositories, schemas *Schema, organizationID int64) *normalizer {
	return &normalizer{
		repos:          repos,
		schemas:        schemas,
		organizationID: organizationID,
		versions:       map[string]*models.SchemaVersion{},
	}
}

func (n *normalizer) version(ctx context.Context, versionID string) (*models.SchemaVersion, error) {
	if version, ok := n.versions[versionID]; ok {
		return version, nil
	}

	version, err := n.schemas.Version(ctx, n.repos, n.organizationID, versionID)
	if err != nil {
		if persistence.IsSchemaNotFound(err) {
			n.versions[versionID] = nil

			return nil, nil
		}

		return nil, err
	}

	n.versions[versionID] = version

	return version, nil
}

// normalize flattens records into attribute name maps in input order. Records whose schema
// version no longer resolves are skipped.
func (n *normalizer) normalize(ctx context.Context, records []*models.Record, include Include) ([]models.RecordData, error) {
	type group struct {
		version *models.SchemaVersion
		records []*models.Record
		data    []models.RecordData
	}

	var order []string

	groups := map[string]*group{}
	result := make([]models.RecordData, 0, len(records))

	for _, record := range records {
		version, err := n.version(ctx, record.SchemaVersionID)
		if err != nil {
			return nil, err
		}

		if version == nil {
			continue
		}

		data := flatten(record, version)
		result = append(result, data)

		g, ok := groups[version.ID]
		if !ok {
			g = &group{version: version}
			groups[version.ID] = g
			order = append(order, version.ID)
		}

		g.records = append(g.records, record)
		g.data = append(g.data, data)
	}

	for _, versionID := range order {
		g := groups[versionID]

		for _, attribute := range g.version.Attributes {
			if !attribute.IsReference() && !attribute.IsBackReference {
				continue
			}

			child, expand := include.child(attribute)
			if !expand {
				continue
			}

			err := n.expand(ctx, g.records, g.data, attribute, child)
			if err != nil {
				return nil, err
			}
		}
	}

	return result, nil
}

// expand splices the records linked through one attribute into the normalized data.
func (n *normalizer) expand(ctx context.Context, records []*models.Record, data []models.RecordData, attribute *models.Attribute, include Include) error {
	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID)
	}

	var stmt query.Statement
	if attribute.IsBackReference {
		stmt = query.BackLinks(ids, attribute.SourceAttributeIDs)
	} else {
		stmt = query.ForwardLinks(ids, []string{attribute.ID})
	}

	links, err := n.repos.Records().Links(ctx, stmt)
	if err != nil {
		return err
	}

	targetIDs := make([]string, 0, len(links))
	seen := map[string]bool{}

	for _, link := range links {
		if !seen[link.TargetID] {
			seen[link.TargetID] = true
			targetIDs = append(targetIDs, link.TargetID)
		}
	}

	targets := map[string]models.RecordData{}

	if len(targetIDs) > 0 {
		loaded, err := n.repos.Records().GetMany(ctx, n.organizationID, targetIDs)
		if err != nil {
			return err
		}

		normalized, err := n.normalize(ctx, loaded, include)
		if err != nil {
			return err
		}

		for _, target := range normalized {
			targets[target.ID()] = target
		}
	}

	byRecord := map[string][]any{}

	for _, link := range links {
		if target, ok := targets[link.TargetID]; ok {
			byRecord[link.RecordID] = append(byRecord[link.RecordID], target)
		}
	}

	for i, record := range records {
		linked := byRecord[record.ID]

		switch {
		case attribute.IsToMany():
			if linked == nil {
				linked = []any{}
			}

			data[i][attribute.Name] = linked
		case len(linked) > 0:
			data[i][attribute.Name] = linked[0]
		default:
			data[i][attribute.Name] = nil
		}
	}

	return nil
}

// flatten reads the stored attribute values of a record. Cleared values are kept as nil.
func flatten(record *models.Record, version *models.SchemaVersion) models.RecordData {
	data := models.RecordData{
		models.FieldID:              record.ID,
		models.FieldSchemaVersionID: record.SchemaVersionID,
		models.FieldCreatedAt:       record.CreatedAt,
		models.FieldUpdatedAt:       record.UpdatedAt,
		models.FieldCreatedBy:       record.CreatedBy,
		models.FieldModifiedBy:      record.ModifiedBy,
	}

	for _, attribute := range version.StoredAttributes() {
		values := record.ValuesOf(attribute.ID)

		if attribute.IsReference() {
			stubs := make([]any, 0, len(values))

			for _, value := range values {
				if value.ReferenceID != nil {
					stubs = append(stubs, map[string]any{models.FieldID: *value.ReferenceID})
				}
			}

			switch {
			case attribute.IsToMany():
				data[attribute.Name] = stubs
			case len(stubs) > 0:
				data[attribute.Name] = stubs[0]
			}

			continue
		}

		if len(values) == 0 {
			continue
		}

		data[attribute.Name] = values[0].Decode(attribute.Type, attribute.Options)
	}

	return data
}
