package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "dispatch:lock:"

var ErrLockNotHeld = errors.New("lock not held")

// releaseScript deletes the key only when it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock is a Redis-backed single-flight lock keyed by entry point name.
type RunLock struct {
	client redis.UniversalClient
}

func NewRunLock(client redis.UniversalClient) *RunLock {
	return &RunLock{client: client}
}

func (l *RunLock) TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(name), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RunLock) Unlock(ctx context.Context, name, token string) error {
	released, err := releaseScript.Run(ctx, l.client, []string{lockKey(name)}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", name, err)
	}
	if released == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func lockKey(name string) string {
	return lockKeyPrefix + name
}
