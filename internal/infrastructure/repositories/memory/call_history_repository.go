package memory

import (
	"context"
	"sync"

	"quickchat/internal/core/domain"
	"quickchat/internal/core/ports"
)

// MemoryCallHistoryRepository keeps call records in memory, newest first,
// capped at maxEntries. Oldest records fall off when the cap is reached.
type MemoryCallHistoryRepository struct {
	records    []*domain.CallRecord
	maxEntries int
	mu         sync.RWMutex
}

func NewMemoryCallHistoryRepository(maxEntries int) ports.CallHistoryRepository {
	if maxEntries <= 0 {
		maxEntries = 50
	}
	return &MemoryCallHistoryRepository{maxEntries: maxEntries}
}

func (r *MemoryCallHistoryRepository) Add(ctx context.Context, record *domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append([]*domain.CallRecord{record}, r.records...)
	if len(r.records) > r.maxEntries {
		r.records = r.records[:r.maxEntries]
	}
	return nil
}

func (r *MemoryCallHistoryRepository) List(ctx context.Context, limit int) ([]*domain.CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.records) {
		limit = len(r.records)
	}

	out := make([]*domain.CallRecord, limit)
	copy(out, r.records[:limit])
	return out, nil
}

func (r *MemoryCallHistoryRepository) ListByUser(ctx context.Context, user domain.UserID, limit int) ([]*domain.CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.CallRecord
	for _, record := range r.records {
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
