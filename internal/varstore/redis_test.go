package varstore_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/edgeworks-io/spearlet/internal/varstore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*varstore.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return varstore.NewRedisStore(client, 7, varstore.WithPrefix("test")), mr
}

func TestRedisStoreGetSetDelete(t *testing.T) {
	s, _ := newTestRedisStore(t)

	_, ok := s.Get("missing")
	assert.False(t, ok)

	s.Set("greeting", "hello")
	v, ok := s.Get("greeting")
	assert.True(t, ok)
	assert.Equal(t, "hello", v)

	s.Delete("greeting")
	_, ok = s.Get("greeting")
	assert.False(t, ok)
}

func TestRedisStoreScopedByTaskID(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s1 := varstore.NewRedisStore(client, 1, varstore.WithPrefix("test"))
	s2 := varstore.NewRedisStore(client, 2, varstore.WithPrefix("test"))

	s1.Set("k", "task1-value")
	s2.Set("k", "task2-value")

	v1, _ := s1.Get("k")
	v2, _ := s2.Get("k")
	assert.Equal(t, "task1-value", v1)
	assert.Equal(t, "task2-value", v2)
}

func TestRedisStoreSnapshot(t *testing.T) {
	s, _ := newTestRedisStore(t)
	s.Set("a", "1")
	s.Set("b", "2")

	assert.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap["a"] == "1" && snap["b"] == "2"
	}, time.Second, 10*time.Millisecond)
}
