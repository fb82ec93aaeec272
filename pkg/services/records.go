package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/otelhelper"
	"github.com/dukex/nodebase/pkg/persistence"
	"github.com/dukex/nodebase/pkg/query"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// WriteScope carries one transactional write: the transaction bound repositories, the
// caller identity and the records touched so far.
type WriteScope struct {
	Repos          persistence.Repositories
	OrganizationID int64
	Actor          string

	// Nested writes a nested record payload found in a delta and returns the record id.
	// When nil the record store writes nested payloads itself.
	Nested func(ctx context.Context, scope *WriteScope, payload models.RecordData) (string, error)

	Upserted []string
	Deleted  []string
}

// Records is the attribute value record store.
type Records struct {
	persistence persistence.Persistence
	schemas     *Schema
	sequence    *Sequence
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewRecords(p persistence.Persistence, schemas *Schema, sequence *Sequence, logger *slog.Logger, tracer trace.Tracer) *Records {
	return &Records{
		persistence: p,
		schemas:     schemas,
		sequence:    sequence,
		logger:      logger,
		tracer:      tracer,
	}
}

// Find returns one page of the records of a schema version matching the options, and the
// total number of matches. The reference passes run as separate reads after the base pass.
func (r *Records) Find(ctx context.Context, organizationID int64, versionID string, opts query.Options) (data []models.RecordData, total int64, err error) {
	ctx, span := startSpan(ctx, r.tracer, "records.find", organizationID, attribute.String(otelhelper.SchemaVersionIDKey, versionID))
	defer func() { finish(span, err) }()

	version, err := r.schemas.Version(ctx, r.persistence, organizationID, versionID)
	if err != nil {
		return nil, 0, err
	}

	compiled, err := query.Compile(version, organizationID, opts)
	if err != nil {
		return nil, 0, queryError(err)
	}

	ids, err := r.persistence.Records().SelectIDs(ctx, compiled.Page)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to select records: %w", err)
	}

	total, err = r.persistence.Records().Count(ctx, compiled.Count)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	records, err := r.persistence.Records().GetMany(ctx, organizationID, ids)
	if err != nil {
		return nil, 0, err
	}

	data, err = newNormalizer(r.persistence, r.schemas, organizationID).normalize(ctx, records, IncludeFrom(opts))
	if err != nil {
		return nil, 0, err
	}

	return data, total, nil
}

// FindByID returns one normalized record.
func (r *Records) FindByID(ctx context.Context, organizationID int64, recordID string, include Include) (data models.RecordData, err error) {
	ctx, span := startSpan(ctx, r.tracer, "records.find_by_id", organizationID, attribute.String(otelhelper.RecordIDKey, recordID))
	defer func() { finish(span, err) }()

	record, err := r.persistence.Records().Get(ctx, organizationID, recordID)
	if err != nil {
		return nil, err
	}

	return r.Normalize(ctx, r.persistence, organizationID, record, include)
}

// Normalize flattens one record through the given repositories.
func (r *Records) Normalize(ctx context.Context, repos persistence.Repositories, organizationID int64, record *models.Record, include Include) (models.RecordData, error) {
	data, err := newNormalizer(repos, r.schemas, organizationID).normalize(ctx, []*models.Record{record}, include)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, persistence.NewRecordError("Normalize", record.ID, ErrSchemaVersionNotFound)
	}

	return data[0], nil
}

// History returns the value log of a record, newest first.
func (r *Records) History(ctx context.Context, organizationID int64, recordID string) (logs []*models.AttributeValueLog, err error) {
	ctx, span := startSpan(ctx, r.tracer, "records.history", organizationID, attribute.String(otelhelper.RecordIDKey, recordID))
	defer func() { finish(span, err) }()

	return r.persistence.Records().History(ctx, organizationID, recordID)
}

func queryError(err error) error {
	if errors.Is(err, query.ErrUnknownField) {
		return fmt.Errorf("%w: %w", ErrUnknownAttribute, err)
	}

	return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
}
