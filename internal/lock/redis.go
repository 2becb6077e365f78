package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

const (
	defaultTTL          = 30 * time.Second
	defaultRetryBackoff = 25 * time.Millisecond
)

// RedisLocker is a Locker shared by every instance pointing at the same Redis
type RedisLocker struct {
	client redis.UniversalClient
	log    *logrus.Logger
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker creates a Redis-backed locker. Keys expire after ttl so a
// crashed holder of a lock cannot block the key forever.
func NewRedisLocker(client redis.UniversalClient, log *logrus.Logger, prefix string, ttl time.Duration) *RedisLocker {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "microcredit:lock"
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLocker{client: client, log: log, prefix: prefix, ttl: ttl, retry: defaultRetryBackoff}
}

// Connect initializes a Redis client from URL or host:port input
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: addr})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// Lock polls SET NX until the key is acquired or ctx is done
func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := r.prefix + ":" + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, fullKey, token, r.ttl).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(r.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{fullKey}, token).Err(); err != nil {
				r.log.Warnf("Failed to release lock %s: %v", key, err)
			}
		})
	}, nil
}

// Open returns a RedisLocker when addr is set and an in-process KeyedMutex otherwise
func Open(ctx context.Context, addr string, log *logrus.Logger) (Locker, func(), error) {
	if addr == "" {
		log.Info("REDIS_ADDR not set, holder locks are process-local")
		return NewKeyedMutex(), func() {}, nil
	}
	client, err := Connect(ctx, addr)
	if err != nil {
		return nil, nil, err
	}
	return NewRedisLocker(client, log, "", 0), func() { client.Close() }, nil
}
