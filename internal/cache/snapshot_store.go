package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SAP-F-2025/exam-session-service/internal/engine"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore keeps the latest auto-save payload of each session under
// snapshot:<sessionId>.
type SnapshotStore struct {
	helper *CacheHelper
	ttl    time.Duration
}

func NewSnapshotStore(client *redis.Client, ttl time.Duration) *SnapshotStore {
	if ttl <= 0 {
		ttl = SnapshotCacheConfig.TTL
	}
	return &SnapshotStore{
		helper: NewCacheHelper(client, SnapshotCacheConfig.Prefix),
		ttl:    ttl,
	}
}

func (s *SnapshotStore) Put(ctx context.Context, snap *engine.Snapshot) error {
	if !s.helper.Available() {
		return ErrCacheNotAvailable
	}
	if err := s.helper.Set(ctx, snapshotKey(snap.SessionID), snap, s.ttl); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Get(ctx context.Context, sessionID uint) (*engine.Snapshot, error) {
	var snap engine.Snapshot
	err := s.helper.Get(ctx, snapshotKey(sessionID), &snap)
	switch {
	case err == nil:
		return &snap, nil
	case errors.Is(err, ErrCacheNotFound), errors.Is(err, ErrCacheNotAvailable):
		return nil, ErrSnapshotNotFound
	default:
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
}

func (s *SnapshotStore) Delete(ctx context.Context, sessionID uint) error {
	return s.helper.Delete(ctx, snapshotKey(sessionID))
}

func snapshotKey(sessionID uint) string {
	return strconv.FormatUint(uint64(sessionID), 10)
}
