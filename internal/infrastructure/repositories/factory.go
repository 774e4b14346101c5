package repositories

import (
	"context"
	"fmt"

	"quickchat/internal/core/ports"
	"quickchat/internal/infrastructure/repositories/memory"
	redisrepo "quickchat/internal/infrastructure/repositories/redis"
	"quickchat/pkg/config"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory selects the storage backend from configuration: Redis
// when enabled, in-memory otherwise.
type RepositoryFactory struct {
	cfg    *config.Config
	client *goredis.Client
	logger *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	f := &RepositoryFactory{cfg: cfg, logger: logger}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis backend: %w", err)
		}
		f.client = client
	}

	return f, nil
}

func (f *RepositoryFactory) CreateCallHistoryRepository() ports.CallHistoryRepository {
	if f.client != nil {
		return redisrepo.NewRedisCallHistoryRepository(f.client, f.cfg.History.MaxEntries)
	}
	return memory.NewMemoryCallHistoryRepository(f.cfg.History.MaxEntries)
}

func (f *RepositoryFactory) CreatePresenceRepository() ports.PresenceRepository {
	if f.client != nil {
		return redisrepo.NewRedisPresenceRepository(f.client)
	}
	return memory.NewMemoryPresenceRepository()
}

// HealthCheck verifies the backing store is reachable. The in-memory backend
// is always healthy.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.client == nil {
		return nil
	}
	if err := f.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}
	return nil
}

func (f *RepositoryFactory) Close() error {
	return redisrepo.CloseRedisClient(f.client)
}
