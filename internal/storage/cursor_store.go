package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cursorPrefix = "touchless:poll:cursor:"

// CursorStore records the last cursor returned for each crawl job. A stored empty string means the first page.
type CursorStore struct {
	redis redis.Cmdable
	ttl   time.Duration
}

// NewCursorStore creates a cursor store. Entries expire after ttl, which should cover the provider's retention window.
func NewCursorStore(client redis.Cmdable, ttl time.Duration) *CursorStore {
	return &CursorStore{redis: client, ttl: ttl}
}

// Save records cursor as the resume point of jobID
func (s *CursorStore) Save(ctx context.Context, jobID, cursor string) error {
	if err := s.redis.Set(ctx, cursorPrefix+jobID, cursor, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// Get returns the resume point of jobID
func (s *CursorStore) Get(ctx context.Context, jobID string) (string, bool, error) {
	cursor, err := s.redis.Get(ctx, cursorPrefix+jobID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get cursor: %w", err)
	}
	return cursor, true, nil
}

// Delete forgets jobID
func (s *CursorStore) Delete(ctx context.Context, jobID string) error {
	if err := s.redis.Del(ctx, cursorPrefix+jobID).Err(); err != nil {
		return fmt.Errorf("failed to delete cursor: %w", err)
	}
	return nil
}
