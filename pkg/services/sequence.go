package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/nodebase/pkg/attributes"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/persistence"
)

// Sequence assigns counter values to sequence attributes. Numbers are unique per attribute
// across every record ever written, deleted ones included.
type Sequence struct {
	logger *slog.Logger
}

func NewSequence(logger *slog.Logger) *Sequence {
	return &Sequence{logger: logger}
}

// Next assigns the next number of the attribute to the record unless the record already
// holds a positive one, in which case the existing value is returned. It must run inside
// the transaction of the enclosing write.
func (s *Sequence) Next(ctx context.Context, scope *WriteScope, record *models.Record, attribute *models.Attribute) (*models.AttributeValue, error) {
	for _, existing := range record.ValuesOf(attribute.ID) {
		if existing.Number != nil && *existing.Number > 0 {
			return existing, nil
		}
	}

	options, ok := attribute.Options.(*attributes.SequenceOptions)
	if !ok || options.Start == nil || options.Increment == nil {
		return nil, invalid("Sequence.Next", "SEQUENCE_MISCONFIGURED", ErrSequenceMisconfigured,
			"sequence attribute %s needs a start and an increment", attribute.Name)
	}

	records := scope.Repos.Records()

	current, found, err := records.MaxSequence(ctx, attribute.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read sequence %s: %w", attribute.Name, err)
	}

	next := *options.Start
	if found {
		next = current + *options.Increment
	}

	taken, err := records.SequenceTaken(ctx, attribute.ID, next)
	if err != nil {
		return nil, fmt.Errorf("failed to check sequence %s: %w", attribute.Name, err)
	}

	if taken {
		return nil, fmt.Errorf("%w: %s value %s was claimed concurrently", ErrSequenceConflict, attribute.Name, attributes.FormatNumber(next))
	}

	text := options.Prefix + attributes.FormatNumber(next)

	value := &models.AttributeValue{
		RecordID:    record.ID,
		AttributeID: attribute.ID,
		Value:       attributes.Value{Number: &next, Text: &text},
		CreatedBy:   scope.Actor,
		ModifiedBy:  scope.Actor,
	}

	if existing := record.ValuesOf(attribute.ID); len(existing) > 0 {
		value.ID = existing[0].ID
		value.CreatedAt = existing[0].CreatedAt
	}

	err = records.SaveValue(ctx, value, true)
	if err != nil {
		if persistence.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s value %s: %w", ErrSequenceConflict, attribute.Name, attributes.FormatNumber(next), err)
		}

		return nil, err
	}

	err = appendLog(ctx, scope, value, false)
	if err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "sequence value assigned", "attribute_id", attribute.ID, "record_id", record.ID, "value", text)

	return value, nil
}

func appendLog(ctx context.Context, scope *WriteScope, value *models.AttributeValue, deleted bool) error {
	err := scope.Repos.Records().AppendLog(ctx, &models.AttributeValueLog{
		AttributeValueID: value.ID,
		RecordID:         value.RecordID,
		AttributeID:      value.AttributeID,
		Value:            value.Value,
		IsDeleted:        deleted,
		CreatedBy:        scope.Actor,
	})
	if err != nil {
		return fmt.Errorf("failed to log attribute value %s: %w", value.ID, err)
	}

	return nil
}
