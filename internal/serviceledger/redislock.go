package serviceledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisLockKey is the key RedisLocker claims when none is configured.
const DefaultRedisLockKey = "serviceledger:append-lock"

// releaseScript deletes the lock only if it still holds the caller's token,
// so an expired holder cannot release a lock someone else now owns.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serialises appends across ledger instances that do not share a
// PostgreSQL session, e.g. several ledgerd replicas in front of one store.
type RedisLocker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	poll   time.Duration
	logger *zap.Logger
}

// NewRedisLocker creates a RedisLocker. ttl bounds how long a crashed holder
// can block other writers; it must exceed the slowest expected append.
func NewRedisLocker(client *redis.Client, key string, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if key == "" {
		key = DefaultRedisLockKey
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{
		client: client,
		key:    key,
		ttl:    ttl,
		poll:   25 * time.Millisecond,
		logger: logger,
	}
}

// Lock implements AppendLocker.
func (l *RedisLocker) Lock(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: redis lock: %w", ErrStorageUnavailable, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			l.logger.Error("release redis append lock", zap.String("key", l.key), zap.Error(err))
		}
	}, nil
}
