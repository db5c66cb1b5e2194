// Package cache stores computed availability keyed by namespace. A namespace
// (one professional) is invalidated as a whole when its inputs change.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a namespaced byte cache.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error
	InvalidateNamespace(ctx context.Context, namespace string) error
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisStore keeps a version counter per namespace. Entry keys embed the
// current version, so bumping the counter orphans every entry of the
// namespace and lets them expire on their own TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) versionKey(namespace string) string {
	return fmt.Sprintf("%s:%s:version", s.prefix, namespace)
}

func (s *RedisStore) entryKey(namespace string, version int64, key string) string {
	return fmt.Sprintf("%s:%s:v%d:%s", s.prefix, namespace, version, key)
}

func (s *RedisStore) version(ctx context.Context, namespace string) (int64, error) {
	v, err := s.client.Get(ctx, s.versionKey(namespace)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cache version: %w", err)
	}
	return v, nil
}

func (s *RedisStore) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	v, err := s.version(ctx, namespace)
	if err != nil {
		return nil, false, err
	}
	data, err := s.client.Get(ctx, s.entryKey(namespace, v, key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}
	return data, true, nil
}

func (s *RedisStore) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	v, err := s.version(ctx, namespace)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.entryKey(namespace, v, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

func (s *RedisStore) InvalidateNamespace(ctx context.Context, namespace string) error {
	if err := s.client.Incr(ctx, s.versionKey(namespace)).Err(); err != nil {
		return fmt.Errorf("bump cache version: %w", err)
	}
	return nil
}

// memoryEntry holds a cached value and its expiration time.
type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// Memory is an in-process Store used when no redis is configured.
type Memory struct {
	entries map[string]*memoryEntry
	mu      sync.RWMutex
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*memoryEntry)}
}

func memoryKey(namespace, key string) string {
	return namespace + "\x00" + key
}

// Get performs lazy expiration: an expired entry is deleted and reported as a miss.
func (m *Memory) Get(_ context.Context, namespace, key string) ([]byte, bool, error) {
	k := memoryKey(namespace, key)
	m.mu.RLock()
	entry, ok := m.entries[k]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, k)
		m.mu.Unlock()
		return nil, false, nil
	}
	return entry.data, true, nil
}

func (m *Memory) Set(_ context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[memoryKey(namespace, key)] = &memoryEntry{
		data:      value,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (m *Memory) InvalidateNamespace(_ context.Context, namespace string) error {
	prefix := namespace + "\x00"
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	return nil
}

// StartCleanup periodically drops expired entries until ctx is cancelled.
func (m *Memory) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.mu.Lock()
				now := time.Now()
				for k, v := range m.entries {
					if now.After(v.expiresAt) {
						delete(m.entries, k)
					}
				}
				m.mu.Unlock()
			}
		}
	}()
}
