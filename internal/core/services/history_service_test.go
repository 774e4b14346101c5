package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"quickchat/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubHistoryRepo struct {
	records []*domain.CallRecord
	err     error
}

func (r *stubHistoryRepo) Add(ctx context.Context, record *domain.CallRecord) error {
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, record)
	return nil
}

func (r *stubHistoryRepo) List(ctx context.Context, limit int) ([]*domain.CallRecord, error) {
	if limit > len(r.records) {
		limit = len(r.records)
	}
	return r.records[:limit], nil
}

func (r *stubHistoryRepo) ListByUser(ctx context.Context, user domain.UserID, limit int) ([]*domain.CallRecord, error) {
	var out []*domain.CallRecord
	for _, rec := range r.records {
		if rec.Peer == user {
			out = append(out, rec)
		}
	}
	return out, nil
}

func sampleRecord(peer string) *domain.CallRecord {
	call := &domain.Call{
		ID:        domain.CallID("call-1"),
		Direction: domain.DirectionOutgoing,
		Peer:      domain.UserID(peer),
		Kind:      domain.MediaKindAudio,
		State:     domain.CallStateEnded,
		StartedAt: time.Now().Add(-time.Minute),
	}
	return domain.NewCallRecord(call, time.Now(), domain.EndReasonUserEnded)
}

func TestHistoryServiceRecord(t *testing.T) {
	repo := &stubHistoryRepo{}
	svc := NewHistoryService(repo, zap.NewNop())

	err := svc.Record(context.Background(), sampleRecord("bob"))
	require.NoError(t, err)
	require.Len(t, repo.records, 1)
	assert.Equal(t, domain.UserID("bob"), repo.records[0].Peer)
}

func TestHistoryServiceRecordPropagatesStorageError(t *testing.T) {
	repo := &stubHistoryRepo{err: errors.New("storage down")}
	svc := NewHistoryService(repo, zap.NewNop())

	err := svc.Record(context.Background(), sampleRecord("bob"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record call history")
}

func TestHistoryServiceBreakerOpensAfterRepeatedFailures(t *testing.T) {
	repo := &stubHistoryRepo{err: errors.New("storage down")}
	svc := NewHistoryService(repo, zap.NewNop())

	// Enough failures to trip the breaker.
	for i := 0; i < 10; i++ {
		_ = svc.Record(context.Background(), sampleRecord("bob"))
	}

	// With the breaker open the repo error is no longer reachable but the
	// caller still gets a failure.
	repo.err = nil
	err := svc.Record(context.Background(), sampleRecord("bob"))
	assert.Error(t, err)
	assert.Empty(t, repo.records)
}

func TestHistoryServiceList(t *testing.T) {
	repo := &stubHistoryRepo{}
	svc := NewHistoryService(repo, zap.NewNop())

	require.NoError(t, svc.Record(context.Background(), sampleRecord("bob")))
	require.NoError(t, svc.Record(context.Background(), sampleRecord("carol")))

	records, err := svc.List(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	byUser, err := svc.ListByUser(context.Background(), domain.UserID("carol"), 10)
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, domain.UserID("carol"), byUser[0].Peer)
}
