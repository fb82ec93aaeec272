package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/nodebase/pkg/attributes"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/persistence"
	"github.com/dukex/nodebase/pkg/query"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// RecordRepository handles record, attribute value and value log database operations.
type RecordRepository struct {
	db     querier
	logger *slog.Logger
}

// NewRecordRepository creates a new record repository.
func NewRecordRepository(db querier, logger *slog.Logger) *RecordRepository {
	return &RecordRepository{db: db, logger: logger}
}

const slotColumns = `
		  , av.text_value
		  , av.number_value
		  , av.date_value
		  , av.time_value::text
		  , av.datetime_value
		  , av.json_value
		  , av.reference_record_id`

const valueColumns = `
			av.id
		  , av.record_id
		  , av.attribute_id` + slotColumns + `
		  , av.created_by
		  , av.modified_by
		  , av.created_at
		  , av.updated_at
		  , av.deleted_at`

// slots receives the typed columns of an attribute value row.
type slots struct {
	text      sql.NullString
	number    sql.NullFloat64
	date      sql.NullTime
	clock     sql.NullString
	datetime  sql.NullTime
	json      []byte
	reference sql.NullString
}

func (s *slots) dest() []any {
	return []any{&s.text, &s.number, &s.date, &s.clock, &s.datetime, &s.json, &s.reference}
}

func (s *slots) value() attributes.Value {
	var value attributes.Value

	value.Text = stringPtr(s.text)
	value.Time = stringPtr(s.clock)
	value.ReferenceID = stringPtr(s.reference)

	if s.number.Valid {
		n := s.number.Float64
		value.Number = &n
	}

	if s.date.Valid {
		d := s.date.Time
		date := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		value.Date = &date
	}

	value.DateTime = timePtr(s.datetime)

	if len(s.json) > 0 {
		value.JSON = json.RawMessage(s.json)
	}

	return value
}

// slotArgs returns the column arguments of a value in slotColumns order.
func slotArgs(value attributes.Value) []any {
	var date, document any

	if value.Date != nil {
		date = value.Date.Format(attributes.DateLayout)
	}

	if len(value.JSON) > 0 {
		document = string(value.JSON)
	}

	return []any{value.Text, value.Number, date, value.Time, value.DateTime, document, value.ReferenceID}
}

func scanValue(row scanner) (*models.AttributeValue, error) {
	var (
		value     models.AttributeValue
		columns   slots
		deletedAt sql.NullTime
	)

	dest := append([]any{&value.ID, &value.RecordID, &value.AttributeID}, columns.dest()...)
	dest = append(dest, &value.CreatedBy, &value.ModifiedBy, &value.CreatedAt, &value.UpdatedAt, &deletedAt)

	err := row.Scan(dest...)
	if err != nil {
		return nil, err
	}

	value.Value = columns.value()
	value.DeletedAt = timePtr(deletedAt)

	return &value, nil
}

func (r *RecordRepository) Get(ctx context.Context, organizationID int64, recordID string) (*models.Record, error) {
	records, err := r.GetMany(ctx, organizationID, []string{recordID})
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, persistence.NewRecordError("Get", recordID, persistence.ErrRecordNotFound)
	}

	return records[0], nil
}

// GetMany loads live records in the order of recordIDs.
func (r *RecordRepository) GetMany(ctx context.Context, organizationID int64, recordIDs []string) ([]*models.Record, error) {
	if len(recordIDs) == 0 {
		return nil, nil
	}

	ids, err := validIDs(recordIDs)
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT
			id
		  , organization_id
		  , schema_version_id
		  , created_by
		  , modified_by
		  , created_at
		  , updated_at
		  , deleted_at
		FROM records
		WHERE id = ANY($1) AND organization_id = $2 AND deleted_at IS NULL
	`, pq.Array(ids), organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	byID := make(map[string]*models.Record, len(ids))

	for rows.Next() {
		var (
			record    models.Record
			deletedAt sql.NullTime
		)

		err := rows.Scan(
			&record.ID,
			&record.OrganizationID,
			&record.SchemaVersionID,
			&record.CreatedBy,
			&record.ModifiedBy,
			&record.CreatedAt,
			&record.UpdatedAt,
			&deletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		record.DeletedAt = timePtr(deletedAt)
		byID[record.ID] = &record
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	if len(byID) == 0 {
		return nil, nil
	}

	err = r.loadValues(ctx, byID)
	if err != nil {
		return nil, err
	}

	records := make([]*models.Record, 0, len(byID))

	for _, id := range ids {
		if record, ok := byID[id]; ok {
			records = append(records, record)
			delete(byID, id)
		}
	}

	return records, nil
}

func (r *RecordRepository) loadValues(ctx context.Context, byID map[string]*models.Record) error {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	rows, err := r.db.QueryContext(ctx, "SELECT"+valueColumns+`
		FROM attribute_values av
		WHERE av.record_id = ANY($1) AND av.deleted_at IS NULL
		ORDER BY av.created_at ASC, av.id ASC
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to query attribute values: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	for rows.Next() {
		value, err := scanValue(rows)
		if err != nil {
			return fmt.Errorf("failed to scan attribute value: %w", err)
		}

		record := byID[value.RecordID]
		record.Values = append(record.Values, value)
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("error iterating attribute values: %w", err)
	}

	return nil
}

// Save inserts or updates a record row. Values are saved separately.
func (r *RecordRepository) Save(ctx context.Context, record *models.Record) error {
	now := time.Now().UTC()

	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	record.UpdatedAt = now

	if record.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate record ID: %w", err)
		}

		record.ID = id.String()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO records (id, organization_id, schema_version_id, created_by, modified_by, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			modified_by = EXCLUDED.modified_by,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`,
		record.ID,
		record.OrganizationID,
		record.SchemaVersionID,
		record.CreatedBy,
		record.ModifiedBy,
		record.CreatedAt,
		record.UpdatedAt,
		record.DeletedAt,
	)
	if err != nil {
		return persistence.NewRecordError("Save", record.ID, mapError(err))
	}

	return nil
}

// Delete soft deletes a record. Its values are kept.
func (r *RecordRepository) Delete(ctx context.Context, organizationID int64, recordID, actor string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE records SET deleted_at = $1, updated_at = $1, modified_by = $2
		WHERE id = $3 AND organization_id = $4 AND deleted_at IS NULL
	`, time.Now().UTC(), actor, recordID, organizationID)
	if err != nil {
		return persistence.NewRecordError("Delete", recordID, err)
	}

	return requireAffected(result, persistence.NewRecordError("Delete", recordID, persistence.ErrRecordNotFound))
}

// SaveValue inserts or updates an attribute value. Sequence values are flagged so the unique
// sequence index covers them.
func (r *RecordRepository) SaveValue(ctx context.Context, value *models.AttributeValue, sequence bool) error {
	now := time.Now().UTC()

	if value.CreatedAt.IsZero() {
		value.CreatedAt = now
	}

	value.UpdatedAt = now

	if value.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate attribute value ID: %w", err)
		}

		value.ID = id.String()
	}

	args := []any{value.ID, value.RecordID, value.AttributeID}
	args = append(args, slotArgs(value.Value)...)
	args = append(args, sequence, value.CreatedBy, value.ModifiedBy, value.CreatedAt, value.UpdatedAt, value.DeletedAt)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attribute_values (id, record_id, attribute_id, text_value, number_value, date_value, time_value,
			datetime_value, json_value, reference_record_id, is_sequence, created_by, modified_by, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			text_value = EXCLUDED.text_value,
			number_value = EXCLUDED.number_value,
			date_value = EXCLUDED.date_value,
			time_value = EXCLUDED.time_value,
			datetime_value = EXCLUDED.datetime_value,
			json_value = EXCLUDED.json_value,
			reference_record_id = EXCLUDED.reference_record_id,
			is_sequence = EXCLUDED.is_sequence,
			modified_by = EXCLUDED.modified_by,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`, args...)
	if err != nil {
		return persistence.NewRecordError("SaveValue", value.RecordID, mapError(err))
	}

	return nil
}

func (r *RecordRepository) DeleteValue(ctx context.Context, valueID, actor string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE attribute_values SET deleted_at = $1, updated_at = $1, modified_by = $2
		WHERE id = $3 AND deleted_at IS NULL
	`, time.Now().UTC(), actor, valueID)
	if err != nil {
		return fmt.Errorf("failed to delete attribute value %s: %w", valueID, err)
	}

	return nil
}

func (r *RecordRepository) DeleteReferencesTo(ctx context.Context, recordID, actor string) ([]*models.AttributeValue, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE attribute_values av SET deleted_at = $1, updated_at = $1, modified_by = $2
		WHERE av.reference_record_id = $3 AND av.deleted_at IS NULL
		RETURNING`+valueColumns,
		time.Now().UTC(), actor, recordID)
	if err != nil {
		return nil, persistence.NewRecordError("DeleteReferencesTo", recordID, err)
	}

	defer closeRows(ctx, r.logger, rows)

	var values []*models.AttributeValue

	for rows.Next() {
		value, err := scanValue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attribute value: %w", err)
		}

		values = append(values, value)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating attribute values: %w", err)
	}

	return values, nil
}

func (r *RecordRepository) AppendLog(ctx context.Context, log *models.AttributeValueLog) error {
	if log.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate value log ID: %w", err)
		}

		log.ID = id.String()
	}

	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	args := []any{log.ID, log.AttributeValueID, log.RecordID, log.AttributeID}
	args = append(args, slotArgs(log.Value)...)
	args = append(args, log.IsDeleted, log.CreatedBy, log.CreatedAt)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attribute_value_logs (id, attribute_value_id, record_id, attribute_id, text_value, number_value,
			date_value, time_value, datetime_value, json_value, reference_record_id, is_deleted, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, args...)
	if err != nil {
		return persistence.NewRecordError("AppendLog", log.RecordID, err)
	}

	return nil
}

// History returns the value log of a record, newest first.
func (r *RecordRepository) History(ctx context.Context, organizationID int64, recordID string) ([]*models.AttributeValueLog, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM records WHERE id = $1 AND organization_id = $2)",
		recordID, organizationID,
	).Scan(&exists)
	if err != nil {
		return nil, persistence.NewRecordError("History", recordID, err)
	}

	if !exists {
		return nil, persistence.NewRecordError("History", recordID, persistence.ErrRecordNotFound)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT
			av.id
		  , av.attribute_value_id
		  , av.record_id
		  , av.attribute_id`+slotColumns+`
		  , av.is_deleted
		  , av.created_by
		  , av.created_at
		FROM attribute_value_logs av
		WHERE av.record_id = $1
		ORDER BY av.created_at DESC, av.id DESC
	`, recordID)
	if err != nil {
		return nil, persistence.NewRecordError("History", recordID, err)
	}

	defer closeRows(ctx, r.logger, rows)

	logs := make([]*models.AttributeValueLog, 0)

	for rows.Next() {
		var (
			log     models.AttributeValueLog
			columns slots
		)

		dest := append([]any{&log.ID, &log.AttributeValueID, &log.RecordID, &log.AttributeID}, columns.dest()...)
		dest = append(dest, &log.IsDeleted, &log.CreatedBy, &log.CreatedAt)

		err := rows.Scan(dest...)
		if err != nil {
			return nil, fmt.Errorf("failed to scan value log: %w", err)
		}

		log.Value = columns.value()
		logs = append(logs, &log)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating value logs: %w", err)
	}

	return logs, nil
}

func (r *RecordRepository) MaxSequence(ctx context.Context, attributeID string) (float64, bool, error) {
	var current sql.NullFloat64

	err := r.db.QueryRowContext(ctx,
		"SELECT MAX(number_value) FROM attribute_values WHERE attribute_id = $1",
		attributeID,
	).Scan(&current)
	if err != nil {
		return 0, false, fmt.Errorf("failed to query sequence maximum: %w", err)
	}

	return current.Float64, current.Valid, nil
}

func (r *RecordRepository) SequenceTaken(ctx context.Context, attributeID string, number float64) (bool, error) {
	var taken bool

	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM attribute_values WHERE attribute_id = $1 AND number_value = $2)",
		attributeID, number,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("failed to check sequence value: %w", err)
	}

	return taken, nil
}

// SelectIDs runs a statement selecting record ids in its first column.
func (r *RecordRepository) SelectIDs(ctx context.Context, stmt query.Statement) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query record ids: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	ids := make([]string, 0)

	for rows.Next() {
		var id string

		err := rows.Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record id: %w", err)
		}

		ids = append(ids, id)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating record ids: %w", err)
	}

	return ids, nil
}

func (r *RecordRepository) Count(ctx context.Context, stmt query.Statement) (int64, error) {
	var count int64

	err := r.db.QueryRowContext(ctx, stmt.SQL, stmt.Args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}

	return count, nil
}

// Links runs a statement selecting (record id, attribute id, target id) triples.
func (r *RecordRepository) Links(ctx context.Context, stmt query.Statement) ([]query.Link, error) {
	rows, err := r.db.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query record links: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	var links []query.Link

	for rows.Next() {
		var link query.Link

		err := rows.Scan(&link.RecordID, &link.AttributeID, &link.TargetID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record link: %w", err)
		}

		links = append(links, link)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating record links: %w", err)
	}

	return links, nil
}

// validIDs drops duplicates and fails on ids that are not uuids, which PostgreSQL would
// otherwise reject for the whole statement.
func validIDs(ids []string) ([]string, error) {
	seen := make(map[string]bool, len(ids))
	valid := make([]string, 0, len(ids))

	for _, id := range ids {
		if seen[id] {
			continue
		}

		seen[id] = true

		if _, err := uuid.Parse(id); err != nil {
			return nil, persistence.NewRecordError("Get", id, errors.Join(persistence.ErrRecordNotFound, err))
		}

		valid = append(valid, id)
	}

	return valid, nil
}
