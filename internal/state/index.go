package state

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Index is the existence index in front of the artifact directory.
type Index interface {
	Has(ctx context.Context, name string) (bool, error)
	Add(ctx context.Context, names ...string) error
}

// MemoryIndex is a process-local Index.
type MemoryIndex struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{names: make(map[string]struct{})}
}

func (m *MemoryIndex) Has(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.names[name]
	return ok, nil
}

func (m *MemoryIndex) Add(_ context.Context, names ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		m.names[n] = struct{}{}
	}
	return nil
}

func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.names)
}

// DefaultIndexKey is the redis set holding artifact names.
const DefaultIndexKey = "statuskeeper:artifacts"

// RedisIndex keeps artifact names in a redis set so several processes that
// share an artifact directory also share the index.
type RedisIndex struct {
	client *redis.Client
	key    string
}

// NewRedisIndex connects to redisURL and verifies the connection.
func NewRedisIndex(ctx context.Context, redisURL, key string) (*RedisIndex, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisIndexFromClient(client, key), nil
}

func NewRedisIndexFromClient(client *redis.Client, key string) *RedisIndex {
	if key == "" {
		key = DefaultIndexKey
	}
	return &RedisIndex{client: client, key: key}
}

func (r *RedisIndex) Has(ctx context.Context, name string) (bool, error) {
	return r.client.SIsMember(ctx, r.key, name).Result()
}

func (r *RedisIndex) Add(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	members := make([]any, len(names))
	for i, n := range names {
		members[i] = n
	}
	return r.client.SAdd(ctx, r.key, members...).Err()
}

func (r *RedisIndex) Close() error {
	return r.client.Close()
}
