package redis

import (
	"context"
	"fmt"

	"quickchat/internal/core/domain"
	"quickchat/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const presenceKey = "quickchat:online_users"

// RedisPresenceRepository tracks connected users in one Redis set so multiple
// relay instances share a consistent presence view.
type RedisPresenceRepository struct {
	client *redis.Client
}

func NewRedisPresenceRepository(client *redis.Client) ports.PresenceRepository {
	return &RedisPresenceRepository{client: client}
}

func (r *RedisPresenceRepository) SetOnline(ctx context.Context, user domain.UserID) error {
	if err := r.client.SAdd(ctx, presenceKey, string(user)).Err(); err != nil {
		return fmt.Errorf("failed to mark user online: %w", err)
	}
	return nil
}

func (r *RedisPresenceRepository) SetOffline(ctx context.Context, user domain.UserID) error {
	if err := r.client.SRem(ctx, presenceKey, string(user)).Err(); err != nil {
		return fmt.Errorf("failed to mark user offline: %w", err)
	}
	return nil
}

func (r *RedisPresenceRepository) IsOnline(ctx context.Context, user domain.UserID) (bool, error) {
	online, err := r.client.SIsMember(ctx, presenceKey, string(user)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return online, nil
}

func (r *RedisPresenceRepository) ListOnline(ctx context.Context) ([]domain.UserID, error) {
	members, err := r.client.SMembers(ctx, presenceKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list online users: %w", err)
	}

	users := make([]domain.UserID, 0, len(members))
	for _, member := range members {
		users = append(users, domain.UserID(member))
	}
	return users, nil
}
