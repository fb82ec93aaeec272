package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/nodebase/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		recordErr := persistence.NewRecordError("Get", "record-123", persistence.ErrRecordNotFound)
		schemaErr := &persistence.SchemaError{Op: "Version", VersionID: "version-1", Err: persistence.ErrSchemaVersionNotFound}

		assert.True(t, persistence.IsRecordNotFound(recordErr))
		assert.True(t, persistence.IsSchemaNotFound(schemaErr))
		assert.False(t, persistence.IsRecordNotFound(schemaErr))

		assert.True(t, errors.Is(recordErr, persistence.ErrRecordNotFound))
		assert.True(t, errors.Is(schemaErr, persistence.ErrSchemaVersionNotFound))
	})

	t.Run("wrapped errors are still classified", func(t *testing.T) {
		err := fmt.Errorf("failed to save value: %w", persistence.ErrUniqueViolation)

		assert.True(t, persistence.IsUniqueViolation(err))
		assert.False(t, persistence.IsWorkflowNotFound(err))
	})

	t.Run("record error contains context", func(t *testing.T) {
		err := persistence.NewRecordError("Delete", "record-123", persistence.ErrRecordNotFound)

		assert.Contains(t, err.Error(), "Delete")
		assert.Contains(t, err.Error(), "record-123")
		assert.Contains(t, err.Error(), "record not found")
	})

	t.Run("schema error prefers the version id", func(t *testing.T) {
		err := &persistence.SchemaError{Op: "Publish", SchemaID: "schema-1", VersionID: "version-2", Err: persistence.ErrSchemaVersionNotFound}

		assert.Contains(t, err.Error(), "version version-2")
		assert.NotContains(t, err.Error(), "schema-1")
	})
}
