package varstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed Store, adapted from the teacher's
// runtime/statestore.RedisStore: same client/TTL/prefix shape, scoped to a
// single task's flat key/value variables rather than whole conversation
// documents. Useful for exposing a running task's variables to an external
// admin/debug tool without routing through the host process.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	taskID int64
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the expiration applied to every key written. Zero disables
// expiration.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// WithPrefix sets the Redis key prefix. Default is "spearlet".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore creates a variable store scoped to taskID.
func NewRedisStore(client *redis.Client, taskID int64, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "spearlet",
		taskID: taskID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(varKey string) string {
	return fmt.Sprintf("%s:task:%d:var:%s", s.prefix, s.taskID, varKey)
}

func (s *RedisStore) Get(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	val, err := s.client.Get(context.Background(), s.key(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false
		}
		return "", false
	}
	return val, true
}

func (s *RedisStore) Set(key, value string) {
	if key == "" {
		return
	}
	s.client.Set(context.Background(), s.key(key), value, s.ttl)
}

func (s *RedisStore) Delete(key string) {
	if key == "" {
		return
	}
	s.client.Del(context.Background(), s.key(key))
}

func (s *RedisStore) Snapshot() map[string]string {
	ctx := context.Background()
	pattern := fmt.Sprintf("%s:task:%d:var:*", s.prefix, s.taskID)
	out := make(map[string]string)

	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		shortKey := full[len(fmt.Sprintf("%s:task:%d:var:", s.prefix, s.taskID)):]
		if v, err := s.client.Get(ctx, full).Result(); err == nil {
			out[shortKey] = v
		}
	}
	return out
}

func (s *RedisStore) Close() error {
	return nil
}
