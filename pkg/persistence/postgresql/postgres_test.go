package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/nodebase/pkg/attributes"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/persistence"
	"github.com/dukex/nodebase/pkg/persistence/postgresql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const organizationID int64 = 42

var postgresContainer *postgres.PostgresContainer

func TestMain(m *testing.M) {
	code := m.Run()

	if postgresContainer != nil {
		_ = testcontainers.TerminateContainer(postgresContainer)
	}

	os.Exit(code)
}

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{
		"workflow_versions", "workflows", "attribute_value_logs", "attribute_values", "records",
		"attributes", "schema_versions", "schema_definitions", "schema_migrations",
	} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("nodebase_test"),
			postgres.WithUsername("nodebase"),
			postgres.WithPassword("nodebase"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx, databaseURL
}

// createSchema stores a definition with one version carrying the given attributes.
func createSchema(ctx context.Context, t *testing.T, repos persistence.Repositories, name string, attrs ...*models.Attribute) *models.SchemaVersion {
	t.Helper()

	definition := &models.SchemaDefinition{OrganizationID: organizationID, CreatedBy: "tester", ModifiedBy: "tester"}
	require.NoError(t, repos.Schemas().SaveDefinition(ctx, definition))

	version := &models.SchemaVersion{
		SchemaDefinitionID: definition.ID,
		OrganizationID:     organizationID,
		Version:            1,
		Name:               name,
		Label:              name,
		Type:               "entity",
		CreatedBy:          "tester",
		ModifiedBy:         "tester",
	}
	require.NoError(t, repos.Schemas().SaveVersion(ctx, version))

	for i, attribute := range attrs {
		attribute.SchemaVersionID = version.ID
		attribute.Position = i
		require.NoError(t, repos.Schemas().SaveAttribute(ctx, attribute))
	}

	stored, err := repos.Schemas().Version(ctx, organizationID, version.ID)
	require.NoError(t, err)

	return stored
}

func textAttribute(name string) *models.Attribute {
	return &models.Attribute{Name: name, Label: name, Type: attributes.TypeText, Options: &attributes.TextOptions{}}
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	for _, table := range []string{"schema_definitions", "attributes", "records", "attribute_values", "attribute_value_logs", "workflow_versions"} {
		var exists bool

		err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "%s table should exist", table)
	}

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 3, version)

	applied, err := postgresql.Migrate(ctx, slog.New(slog.DiscardHandler), databaseURL)
	require.NoError(t, err)
	assert.Equal(t, 3, applied)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestNewPersistence_InTxRollsBack(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	var schemaID string

	err := p.InTx(ctx, func(ctx context.Context, repos persistence.Repositories) error {
		version := createSchema(ctx, t, repos, "customer", textAttribute("name"))
		schemaID = version.SchemaDefinitionID

		return persistence.ErrUniqueViolation
	})
	require.ErrorIs(t, err, persistence.ErrUniqueViolation)

	_, err = p.Schemas().Definition(ctx, organizationID, schemaID)
	assert.True(t, persistence.IsSchemaNotFound(err))
}
