package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey = "quickchat:schema_version"
	schemaVersion    = 1
)

// Migrate brings the keyspace to the current schema version. Presence sets
// are cleared on every startup regardless of version: sockets do not survive
// a relay restart, so stale membership would report ghosts as online.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	stored, err := client.Get(ctx, schemaVersionKey).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	current := 0
	if stored != "" {
		current, err = strconv.Atoi(stored)
		if err != nil {
			return fmt.Errorf("corrupt schema version %q: %w", stored, err)
		}
	}

	if current > schemaVersion {
		return fmt.Errorf("keyspace schema version %d is newer than supported %d", current, schemaVersion)
	}

	if err := client.Del(ctx, presenceKey).Err(); err != nil {
		return fmt.Errorf("failed to reset presence: %w", err)
	}

	if current < schemaVersion {
		if err := client.Set(ctx, schemaVersionKey, schemaVersion, 0).Err(); err != nil {
			return fmt.Errorf("failed to write schema version: %w", err)
		}
		if logger != nil {
			logger.Infow("keyspace migrated", "from", current, "to", schemaVersion)
		}
	}

	return nil
}
