package memory

import (
	"context"
	"sync"

	"quickchat/internal/core/domain"
	"quickchat/internal/core/ports"
)

type MemoryPresenceRepository struct {
	online map[domain.UserID]struct{}
	mu     sync.RWMutex
}

func NewMemoryPresenceRepository() ports.PresenceRepository {
	return &MemoryPresenceRepository{
		online: make(map[domain.UserID]struct{}),
	}
}

func (r *MemoryPresenceRepository) SetOnline(ctx context.Context, user domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online[user] = struct{}{}
	return nil
}

func (r *MemoryPresenceRepository) SetOffline(ctx context.Context, user domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.online, user)
	return nil
}

func (r *MemoryPresenceRepository) IsOnline(ctx context.Context, user domain.UserID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.online[user]
	return ok, nil
}

func (r *MemoryPresenceRepository) ListOnline(ctx context.Context) ([]domain.UserID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]domain.UserID, 0, len(r.online))
	for user := range r.online {
		users = append(users, user)
	}
	return users, nil
}
