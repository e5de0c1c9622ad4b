package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const pollLockPrefix = "touchless:poll:lock:"

// releaseScript deletes the lock only if it still holds the caller's token
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// PollLock is a per-job mutual exclusion lock held in Redis
type PollLock struct {
	redis redis.Cmdable
}

// NewPollLock creates a poll lock on the given client
func NewPollLock(client redis.Cmdable) *PollLock {
	return &PollLock{redis: client}
}

// Acquire takes the lock for jobID. ok is false when another poller holds it.
func (l *PollLock) Acquire(ctx context.Context, jobID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, pollLockPrefix+jobID, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire poll lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lock if token still owns it
func (l *PollLock) Release(ctx context.Context, jobID, token string) error {
	if err := releaseScript.Run(ctx, l.redis, []string{pollLockPrefix + jobID}, token).Err(); err != nil {
		return fmt.Errorf("failed to release poll lock: %w", err)
	}
	return nil
}
