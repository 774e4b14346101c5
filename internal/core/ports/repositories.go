package ports

import (
	"context"

	"quickchat/internal/core/domain"
)

type CallHistoryRepository interface {
	Add(ctx context.Context, record *domain.CallRecord) error
	List(ctx context.Context, limit int) ([]*domain.CallRecord, error)
	ListByUser(ctx context.Context, user domain.UserID, limit int) ([]*domain.CallRecord, error)
}

type PresenceRepository interface {
	SetOnline(ctx context.Context, user domain.UserID) error
	SetOffline(ctx context.Context, user domain.UserID) error
	IsOnline(ctx context.Context, user domain.UserID) (bool, error)
	ListOnline(ctx context.Context) ([]domain.UserID, error)
}
