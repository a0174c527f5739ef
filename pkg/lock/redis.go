package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/trainyard/pkg/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a Locker shared by every scheduler process using the same
// Redis. The key expires after ttl so a crashed holder cannot wedge the pool.
type RedisLocker struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedis creates a lock on key. ttl must exceed the longest critical section.
func NewRedis(client redis.UniversalClient, key string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, key: key, ttl: ttl, retry: 50 * time.Millisecond}
}

func (l *RedisLocker) Acquire(ctx context.Context, timeout time.Duration) (func(), error) {
	token := uuid.New().String()
	deadline := time.Now().Add(timeout)

	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire %s: %w", l.key, err)
		}
		if ok {
			return func() { l.release(token) }, nil
		}

		if time.Now().Add(l.retry).After(deadline) {
			return nil, ErrTimeout
		}
		select {
		case <-time.After(l.retry):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *RedisLocker) release(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
		logger := log.WithComponent("lock")
		logger.Warn().Err(err).Str("key", l.key).Msg("Failed to release redis lock; it will expire")
	}
}
