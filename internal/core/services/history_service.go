package services

import (
	"context"
	"fmt"

	"quickchat/internal/core/domain"
	"quickchat/internal/core/ports"
	"quickchat/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// HistoryService records one entry per ended call and serves history reads.
// Writes go through a circuit breaker so a dead storage backend cannot stall
// call teardown.
type HistoryService struct {
	repo    ports.CallHistoryRepository
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

func NewHistoryService(repo ports.CallHistoryRepository, log *zap.Logger) *HistoryService {
	s := &HistoryService{
		repo:    repo,
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig()),
		logger:  log.Sugar(),
	}
	s.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		s.logger.Warnw("history storage circuit state changed", "from", from.String(), "to", to.String())
	})
	return s
}

func (s *HistoryService) Record(ctx context.Context, record *domain.CallRecord) error {
	err := s.breaker.Execute(ctx, func() error {
		return s.repo.Add(ctx, record)
	})
	if err != nil {
		return fmt.Errorf("failed to record call history: %w", err)
	}

	s.logger.Infow("call recorded",
		"call_id", record.CallID,
		"peer", record.Peer,
		"direction", record.Direction,
		"duration", record.Duration,
		"end_reason", record.EndReason,
	)
	return nil
}

func (s *HistoryService) List(ctx context.Context, limit int) ([]*domain.CallRecord, error) {
	return s.repo.List(ctx, limit)
}

func (s *HistoryService) ListByUser(ctx context.Context, user domain.UserID, limit int) ([]*domain.CallRecord, error) {
	return s.repo.ListByUser(ctx, user, limit)
}
