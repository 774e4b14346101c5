package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"quickchat/internal/core/domain"
	"quickchat/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const historyKey = "quickchat:call_history"

// RedisCallHistoryRepository persists call records in one capped Redis list,
// newest first. LPUSH plus LTRIM keeps the cap without a separate sweep.
type RedisCallHistoryRepository struct {
	client     *redis.Client
	maxEntries int
}

func NewRedisCallHistoryRepository(client *redis.Client, maxEntries int) ports.CallHistoryRepository {
	if maxEntries <= 0 {
		maxEntries = 50
	}
	return &RedisCallHistoryRepository{client: client, maxEntries: maxEntries}
}

func (r *RedisCallHistoryRepository) Add(ctx context.Context, record *domain.CallRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal call record: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, historyKey, data)
	pipe.LTrim(ctx, historyKey, 0, int64(r.maxEntries-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store call record: %w", err)
	}
	return nil
}

func (r *RedisCallHistoryRepository) List(ctx context.Context, limit int) ([]*domain.CallRecord, error) {
	if limit <= 0 || limit > r.maxEntries {
		limit = r.maxEntries
	}

	raw, err := r.client.LRange(ctx, historyKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read call history: %w", err)
	}

	records := make([]*domain.CallRecord, 0, len(raw))
	for _, item := range raw {
		var record domain.CallRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			// Skip corrupt entries instead of failing the whole read.
			continue
		}
		records = append(records, &record)
	}
	return records, nil
}

func (r *RedisCallHistoryRepository) ListByUser(ctx context.Context, user domain.UserID, limit int) ([]*domain.CallRecord, error) {
	all, err := r.List(ctx, r.maxEntries)
	if err != nil {
		return nil, err
	}

	var out []*domain.CallRecord
	for _, record := range all {
		if record.Peer != user {
			continue
		}
		out = append(out, record)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
