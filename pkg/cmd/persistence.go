package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/nodebase/pkg/persistence/postgresql"
)

var supportedPersistenceProviders = []string{"postgres", "postgresql"}

// NewPersistence opens the PostgreSQL persistence named by the database URL and applies
// pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*postgresql.Persistence, error) {
	provider := parsePersistenceProvider(databaseURL)
	if provider == "" {
		return nil, fmt.Errorf("unsupported database url scheme, expected one of %s", strings.Join(supportedPersistenceProviders, ", "))
	}

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s persistence: %w", provider, err)
	}

	return p, nil
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	for _, supported := range supportedPersistenceProviders {
		if provider == supported {
			return provider
		}
	}

	return ""
}
