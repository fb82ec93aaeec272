package services

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/dukex/nodebase/pkg/attributes"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/otelhelper"
	"github.com/dukex/nodebase/pkg/query"
	"go.opentelemetry.io/otel/attribute"
)

const payloadValuesKey = "attributeValues"

// Upsert merges delta into the record with the given id, or into a new record when the id
// is empty. Keys absent from delta keep their stored values; attributes that never held a
// value receive their default. Sequence attributes ignore delta and draw their next number.
// It must run inside the transaction of scope.
func (r *Records) Upsert(ctx context.Context, scope *WriteScope, version *models.SchemaVersion, recordID string, delta models.RecordData) (record *models.Record, err error) {
	ctx, span := startSpan(ctx, r.tracer, "records.upsert", scope.OrganizationID,
		attribute.String(otelhelper.SchemaVersionIDKey, version.ID),
		attribute.String(otelhelper.RecordIDKey, recordID),
		attribute.String(otelhelper.ActorKey, scope.Actor))
	defer func() { finish(span, err) }()

	err = checkDelta(version, delta)
	if err != nil {
		return nil, err
	}

	record, err = r.openRecord(ctx, scope, version, recordID)
	if err != nil {
		return nil, err
	}

	for _, attr := range version.StoredAttributes() {
		switch {
		case attr.Type == attributes.TypeSequence:
			_, err = r.sequence.Next(ctx, scope, record, attr)
		case attr.IsReference():
			raw, present := delta[attr.Name]
			if present {
				err = r.writeReferences(ctx, scope, record, attr, raw)
			}
		default:
			err = r.writeValue(ctx, scope, record, attr, delta)
		}

		if err != nil {
			return nil, err
		}
	}

	record, err = scope.Repos.Records().Get(ctx, scope.OrganizationID, record.ID)
	if err != nil {
		return nil, err
	}

	err = checkRequired(version, record)
	if err != nil {
		return nil, err
	}

	if !slices.Contains(scope.Upserted, record.ID) {
		scope.Upserted = append(scope.Upserted, record.ID)
	}

	r.logger.DebugContext(ctx, "record upserted", "record_id", record.ID, "schema_version_id", version.ID)

	return record, nil
}

// UpsertData writes a record payload naming its own schema version, in flat form or in the
// attributeValues wire form, and returns the record id.
func (r *Records) UpsertData(ctx context.Context, scope *WriteScope, payload models.RecordData) (string, error) {
	versionID, _ := payload[models.FieldSchemaVersionID].(string)
	if versionID == "" {
		return "", invalid("UpsertData", "MISSING_SCHEMA_VERSION", ErrInvalidRequest, "nested record has no schemaVersionId")
	}

	version, err := r.schemas.Version(ctx, scope.Repos, scope.OrganizationID, versionID)
	if err != nil {
		return "", err
	}

	delta, err := Delta(version, payload)
	if err != nil {
		return "", err
	}

	record, err := r.Upsert(ctx, scope, version, payload.ID(), delta)
	if err != nil {
		return "", err
	}

	return record.ID, nil
}

// Delete soft deletes a record and every live reference pointing at it. The referencing
// records themselves are kept.
func (r *Records) Delete(ctx context.Context, scope *WriteScope, recordID string) (err error) {
	ctx, span := startSpan(ctx, r.tracer, "records.delete", scope.OrganizationID,
		attribute.String(otelhelper.RecordIDKey, recordID), attribute.String(otelhelper.ActorKey, scope.Actor))
	defer func() { finish(span, err) }()

	err = scope.Repos.Records().Delete(ctx, scope.OrganizationID, recordID, scope.Actor)
	if err != nil {
		return err
	}

	dangling, err := scope.Repos.Records().DeleteReferencesTo(ctx, recordID, scope.Actor)
	if err != nil {
		return err
	}

	for _, value := range dangling {
		err = appendLog(ctx, scope, value, true)
		if err != nil {
			return err
		}
	}

	scope.Deleted = append(scope.Deleted, recordID)

	r.logger.DebugContext(ctx, "record deleted", "record_id", recordID, "dangling_references", len(dangling))

	return nil
}

// CreateReferenceNode creates a record from payload and links it to the source record
// through the named reference attribute. A to-one attribute that already holds a value is
// rejected before anything is written.
func (r *Records) CreateReferenceNode(ctx context.Context, scope *WriteScope, sourceID, attributeName string, payload models.RecordData) (source *models.Record, err error) {
	ctx, span := startSpan(ctx, r.tracer, "records.create_reference_node", scope.OrganizationID,
		attribute.String(otelhelper.RecordIDKey, sourceID), attribute.String(otelhelper.AttributeNameKey, attributeName))
	defer func() { finish(span, err) }()

	source, err = scope.Repos.Records().Get(ctx, scope.OrganizationID, sourceID)
	if err != nil {
		return nil, err
	}

	version, err := r.schemas.Version(ctx, scope.Repos, scope.OrganizationID, source.SchemaVersionID)
	if err != nil {
		return nil, err
	}

	attr := version.AttributeByName(attributeName)
	if attr == nil {
		return nil, invalid("CreateReferenceNode", "UNKNOWN_ATTRIBUTE", ErrUnknownAttribute,
			"%q is not an attribute of %s", attributeName, version.Name)
	}

	if !attr.IsReference() {
		return nil, invalid("CreateReferenceNode", "NOT_A_REFERENCE", ErrInvalidRequest, "%q is not a reference attribute", attributeName)
	}

	if !attr.IsToMany() && len(source.ValuesOf(attr.ID)) > 0 {
		return nil, invalid("CreateReferenceNode", "CARDINALITY", ErrCardinalityViolation,
			"%q is %s and already holds a reference", attributeName, attr.ReferenceType)
	}

	payload = withVersion(payload, attr.ReferencedSchemaVersionID)

	targetID, err := r.writeNested(ctx, scope, payload)
	if err != nil {
		return nil, err
	}

	err = r.link(ctx, scope, source, attr, targetID)
	if err != nil {
		return nil, err
	}

	return scope.Repos.Records().Get(ctx, scope.OrganizationID, sourceID)
}

// AddBackReferenceNode creates a record of the schema owning a back-reference's forward
// attribute, pointing at the target record.
func (r *Records) AddBackReferenceNode(ctx context.Context, scope *WriteScope, targetID, backReferenceName string, payload models.RecordData) (created string, err error) {
	ctx, span := startSpan(ctx, r.tracer, "records.add_back_reference_node", scope.OrganizationID,
		attribute.String(otelhelper.RecordIDKey, targetID), attribute.String(otelhelper.AttributeNameKey, backReferenceName))
	defer func() { finish(span, err) }()

	target, err := scope.Repos.Records().Get(ctx, scope.OrganizationID, targetID)
	if err != nil {
		return "", err
	}

	version, err := r.schemas.Version(ctx, scope.Repos, scope.OrganizationID, target.SchemaVersionID)
	if err != nil {
		return "", err
	}

	back := version.AttributeByName(backReferenceName)
	if back == nil || !back.IsBackReference {
		return "", invalid("AddBackReferenceNode", "UNKNOWN_ATTRIBUTE", ErrUnknownAttribute,
			"%q is not a back-reference of %s", backReferenceName, version.Name)
	}

	sourceVersion, err := r.schemas.Version(ctx, scope.Repos, scope.OrganizationID, *back.ReferencedSchemaVersionID)
	if err != nil {
		return "", err
	}

	forward := sourceVersion.AttributeByID(back.ID)
	if forward == nil {
		return "", invalid("AddBackReferenceNode", "UNKNOWN_ATTRIBUTE", ErrUnknownAttribute,
			"forward attribute of %q no longer exists", backReferenceName)
	}

	if !back.ReferenceType.IsToMany() {
		links, err := scope.Repos.Records().Links(ctx, query.BackLinks([]string{targetID}, back.SourceAttributeIDs))
		if err != nil {
			return "", err
		}

		if len(links) > 0 {
			return "", invalid("AddBackReferenceNode", "CARDINALITY", ErrCardinalityViolation,
				"%s is already referenced through %q", targetID, forward.Name)
		}
	}

	payload = withVersion(payload, &sourceVersion.ID)

	if _, wire := payload[payloadValuesKey]; wire {
		payload, err = flatPayload(sourceVersion, payload)
		if err != nil {
			return "", err
		}
	}

	if forward.IsToMany() {
		current, _ := payload[forward.Name].([]any)
		payload[forward.Name] = append(slices.Clone(current), targetID)
	} else {
		payload[forward.Name] = targetID
	}

	return r.writeNested(ctx, scope, payload)
}

func (r *Records) openRecord(ctx context.Context, scope *WriteScope, version *models.SchemaVersion, recordID string) (*models.Record, error) {
	if recordID == "" {
		record := &models.Record{
			OrganizationID:  scope.OrganizationID,
			SchemaVersionID: version.ID,
			CreatedBy:       scope.Actor,
			ModifiedBy:      scope.Actor,
		}

		err := scope.Repos.Records().Save(ctx, record)
		if err != nil {
			return nil, err
		}

		return record, nil
	}

	record, err := scope.Repos.Records().Get(ctx, scope.OrganizationID, recordID)
	if err != nil {
		return nil, err
	}

	if record.SchemaVersionID != version.ID {
		return nil, invalid("Upsert", "SCHEMA_VERSION_MISMATCH", ErrInvalidRequest,
			"record %s belongs to schema version %s", record.ID, record.SchemaVersionID)
	}

	record.ModifiedBy = scope.Actor

	err = scope.Repos.Records().Save(ctx, record)
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (r *Records) writeValue(ctx context.Context, scope *WriteScope, record *models.Record, attr *models.Attribute, delta models.RecordData) error {
	existing := record.ValuesOf(attr.ID)

	raw, present := delta[attr.Name]
	if !present {
		if len(existing) > 0 {
			return nil
		}

		fallback, ok := attributes.DefaultValue(attr.Options)
		if !ok {
			return nil
		}

		raw = fallback
	}

	encoded, err := attributes.Encode(attr.Type, attr.Options, raw)
	if err != nil {
		return fmt.Errorf("%s: %w", attr.Name, err)
	}

	if len(existing) == 0 && encoded.IsZero() {
		return nil
	}

	value := &models.AttributeValue{
		RecordID:    record.ID,
		AttributeID: attr.ID,
		CreatedBy:   scope.Actor,
	}

	if len(existing) > 0 {
		value = existing[0]
	}

	value.Value = encoded
	value.ModifiedBy = scope.Actor

	err = scope.Repos.Records().SaveValue(ctx, value, false)
	if err != nil {
		return err
	}

	return appendLog(ctx, scope, value, false)
}

// writeReferences replaces the targets of a reference attribute. Links to targets that stay
// are kept, removed ones are soft deleted and new ones appended in payload order.
func (r *Records) writeReferences(ctx context.Context, scope *WriteScope, record *models.Record, attr *models.Attribute, raw any) error {
	targets, err := r.referenceTargets(ctx, scope, attr, raw)
	if err != nil {
		return err
	}

	if !attr.IsToMany() && len(targets) > 1 {
		return invalid("Upsert", "CARDINALITY", ErrCardinalityViolation,
			"%q is %s and accepts a single reference, got %d", attr.Name, attr.ReferenceType, len(targets))
	}

	err = r.checkTargets(ctx, scope, attr, targets)
	if err != nil {
		return err
	}

	existing := record.ValuesOf(attr.ID)
	linked := map[string]bool{}

	for _, value := range existing {
		if value.ReferenceID != nil && slices.Contains(targets, *value.ReferenceID) && !linked[*value.ReferenceID] {
			linked[*value.ReferenceID] = true

			continue
		}

		err = scope.Repos.Records().DeleteValue(ctx, value.ID, scope.Actor)
		if err != nil {
			return err
		}

		err = appendLog(ctx, scope, value, true)
		if err != nil {
			return err
		}
	}

	for _, target := range targets {
		if linked[target] {
			continue
		}

		linked[target] = true

		err = r.link(ctx, scope, record, attr, target)
		if err != nil {
			return err
		}
	}

	return nil
}

// referenceTargets resolves a reference value to record ids, writing nested payloads first.
func (r *Records) referenceTargets(ctx context.Context, scope *WriteScope, attr *models.Attribute, raw any) ([]string, error) {
	var items []any

	switch value := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		items = value
	case []string:
		for _, id := range value {
			items = append(items, id)
		}
	default:
		items = []any{value}
	}

	targets := make([]string, 0, len(items))

	for _, item := range items {
		if nested, ok := item.(map[string]any); ok && isNestedPayload(nested) {
			id, err := r.writeNested(ctx, scope, withVersion(nested, attr.ReferencedSchemaVersionID))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", attr.Name, err)
			}

			targets = append(targets, id)

			continue
		}

		id, err := attributes.ReferenceID(item)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", attr.Name, err)
		}

		targets = append(targets, id)
	}

	return targets, nil
}

func (r *Records) checkTargets(ctx context.Context, scope *WriteScope, attr *models.Attribute, targets []string) error {
	if len(targets) == 0 {
		return nil
	}

	found, err := scope.Repos.Records().GetMany(ctx, scope.OrganizationID, targets)
	if err != nil {
		return err
	}

	for _, target := range targets {
		exists := slices.ContainsFunc(found, func(record *models.Record) bool { return record.ID == target })
		if !exists {
			return invalid("Upsert", "INVALID_REFERENCE", ErrInvalidReference, "%q references unknown record %s", attr.Name, target)
		}
	}

	return nil
}

func (r *Records) link(ctx context.Context, scope *WriteScope, record *models.Record, attr *models.Attribute, targetID string) error {
	value := &models.AttributeValue{
		RecordID:    record.ID,
		AttributeID: attr.ID,
		Value:       attributes.Value{ReferenceID: &targetID},
		CreatedBy:   scope.Actor,
		ModifiedBy:  scope.Actor,
	}

	err := scope.Repos.Records().SaveValue(ctx, value, false)
	if err != nil {
		return err
	}

	return appendLog(ctx, scope, value, false)
}

func (r *Records) writeNested(ctx context.Context, scope *WriteScope, payload models.RecordData) (string, error) {
	if scope.Nested != nil {
		return scope.Nested(ctx, scope, payload)
	}

	return r.UpsertData(ctx, scope, payload)
}

// Delta returns the attribute name keyed changes of a record payload, accepting the flat
// form and the attributeValues wire form.
func Delta(version *models.SchemaVersion, payload models.RecordData) (models.RecordData, error) {
	if _, wire := payload[payloadValuesKey]; wire {
		flat, err := flatPayload(version, payload)
		if err != nil {
			return nil, err
		}

		payload = flat
	}

	delta := models.RecordData{}

	for key, value := range payload {
		if !models.IsReservedField(key) {
			delta[key] = value
		}
	}

	return delta, nil
}

// FlattenPayload converts the attribute id addressed wire payload into attribute names.
// Several values of one to-many reference attribute collect into a list.
func FlattenPayload(version *models.SchemaVersion, payload models.RecordPayload) (models.RecordData, error) {
	data := models.RecordData{models.FieldSchemaVersionID: payload.SchemaVersionID}

	if payload.ID != nil {
		data[models.FieldID] = *payload.ID
	}

	for _, item := range payload.AttributeValues {
		attr := version.AttributeByID(item.AttributeID)
		if attr == nil {
			return nil, invalid("FlattenPayload", "UNKNOWN_ATTRIBUTE", ErrUnknownAttribute,
				"attribute %s does not belong to %s", item.AttributeID, version.Name)
		}

		value := item.Decode(attr.Type, attr.Options)

		if attr.IsToMany() {
			current, _ := data[attr.Name].([]any)
			data[attr.Name] = append(current, value)

			continue
		}

		data[attr.Name] = value
	}

	return data, nil
}

func flatPayload(version *models.SchemaVersion, payload models.RecordData) (models.RecordData, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var wire models.RecordPayload

	err = json.Unmarshal(encoded, &wire)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	return FlattenPayload(version, wire)
}

func checkDelta(version *models.SchemaVersion, delta models.RecordData) error {
	for key := range delta {
		if models.IsReservedField(key) {
			continue
		}

		attr := version.AttributeByName(key)
		if attr == nil {
			return invalid("Upsert", "UNKNOWN_ATTRIBUTE", ErrUnknownAttribute, "%q is not an attribute of %s", key, version.Name)
		}

		if attr.IsBackReference {
			return invalid("Upsert", "BACK_REFERENCE", ErrInvalidRequest,
				"%q is a back-reference and is written through its forward attribute", key)
		}
	}

	return nil
}

func checkRequired(version *models.SchemaVersion, record *models.Record) error {
	for _, attr := range version.StoredAttributes() {
		if !attr.IsRequired {
			continue
		}

		values := record.ValuesOf(attr.ID)
		if len(values) == 0 || values[0].IsZero() {
			return invalid("Upsert", "REQUIRED_ATTRIBUTE", ErrRequiredAttribute, "%q is required", attr.Name)
		}
	}

	return nil
}

// isNestedPayload reports whether a reference item carries a record to write rather than a
// reference to an existing one.
func isNestedPayload(item map[string]any) bool {
	if _, ok := item[payloadValuesKey]; ok {
		return true
	}

	versionID, ok := item[models.FieldSchemaVersionID].(string)

	return ok && versionID != ""
}

// IsNestedPayload reports whether a delta value holds nested record payloads.
func IsNestedPayload(value any) bool {
	switch v := value.(type) {
	case map[string]any:
		return isNestedPayload(v)
	case []any:
		return slices.ContainsFunc(v, IsNestedPayload)
	default:
		return false
	}
}

func withVersion(payload models.RecordData, versionID *string) models.RecordData {
	out := make(models.RecordData, len(payload)+1)
	for key, value := range payload {
		out[key] = value
	}

	if _, ok := out[models.FieldSchemaVersionID].(string); !ok && versionID != nil {
		out[models.FieldSchemaVersionID] = *versionID
	}

	return out
}
