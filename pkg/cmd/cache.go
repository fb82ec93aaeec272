package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/nodebase/pkg/cache"
)

// NewSchemaCache connects the published schema cache. An empty URL disables caching.
func NewSchemaCache(ctx context.Context, logger *slog.Logger, redisURL string, ttl time.Duration) (cache.SchemaCache, func() error, error) {
	if redisURL == "" {
		return cache.NewNoop(), func() error { return nil }, nil
	}

	client, err := cache.NewRedis(ctx, logger, redisURL, ttl)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect schema cache: %w", err)
	}

	return client, client.Close, nil
}
