package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "nodebase:schema_version:"

// Redis caches published schema versions as JSON documents. Cache failures are logged and
// treated as misses.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis connects to the Redis server behind url, e.g. redis://localhost:6379/0.
func NewRedis(ctx context.Context, logger *slog.Logger, url string, ttl time.Duration) (*Redis, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(ctx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return &Redis{client: client, ttl: ttl, logger: logger}, nil
}

func (r *Redis) Get(ctx context.Context, versionID string) (*models.SchemaVersion, bool) {
	payload, err := r.client.Get(ctx, keyPrefix+versionID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.WarnContext(ctx, "failed to read cached schema version", "schema_version_id", versionID, "error", err)
		}

		return nil, false
	}

	var version models.SchemaVersion

	err = json.Unmarshal(payload, &version)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to decode cached schema version", "schema_version_id", versionID, "error", err)

		return nil, false
	}

	return &version, true
}

func (r *Redis) Set(ctx context.Context, version *models.SchemaVersion) {
	if !version.IsPublished {
		return
	}

	payload, err := json.Marshal(version)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to encode schema version", "schema_version_id", version.ID, "error", err)

		return
	}

	err = r.client.Set(ctx, keyPrefix+version.ID, payload, r.ttl).Err()
	if err != nil {
		r.logger.WarnContext(ctx, "failed to cache schema version", "schema_version_id", version.ID, "error", err)
	}
}

func (r *Redis) Invalidate(ctx context.Context, versionIDs ...string) {
	if len(versionIDs) == 0 {
		return
	}

	keys := make([]string, 0, len(versionIDs))
	for _, id := range versionIDs {
		keys = append(keys, keyPrefix+id)
	}

	err := r.client.Del(ctx, keys...).Err()
	if err != nil {
		r.logger.WarnContext(ctx, "failed to invalidate cached schema versions", "count", len(keys), "error", err)
	}
}

// Close releases the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
