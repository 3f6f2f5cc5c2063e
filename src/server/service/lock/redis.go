// SPDX-License-Identifier: MIT
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes key only if its value still matches the owning
// node's token, so one node can never release a lock a newer owner has
// since acquired after this node's TTL lapsed.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// RedisStore implements Store against a shared Redis instance, so the
// halt flag and AUTH throttle can be coordinated across a pool of
// onionbridge processes sitting behind the same Tor client.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore returns a RedisStore whose client connects to addr
// (host:port) on first use; it does not dial here. db
// selects the Redis logical database; pass 0 for the default.
func NewRedisStore(addr, password string, db int) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: client, prefix: "onionbridge:lock:"}
}

// Ping verifies connectivity to Redis, surfacing misconfiguration at
// startup instead of at the first AUTH attempt.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, nodeID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock: redis SETNX: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) ReleaseLock(ctx context.Context, key string) error {
	if err := s.client.Eval(ctx, releaseScript, []string{s.prefix + key}, nodeID).Err(); err != nil {
		return fmt.Errorf("lock: redis release script: %w", err)
	}
	return nil
}

func (s *RedisStore) IsLocked(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("lock: redis EXISTS: %w", err)
	}
	return n > 0, nil
}

var _ Store = (*RedisStore)(nil)
