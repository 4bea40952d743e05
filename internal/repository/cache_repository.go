package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/sma-program-sync/pkg/errors"
)

// CacheRepository stores short-lived JSON values in Redis, or in process memory when no
// Redis client is configured.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger

	mu     sync.Mutex
	memory map[string]memoryEntry
	now    func() time.Time
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// NewCacheRepository constructs a cache repository. client may be nil.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		logger.Warn("redis not configured, using in-memory cache")
	}
	return &CacheRepository{
		client: client,
		logger: logger,
		memory: make(map[string]memoryEntry),
		now:    time.Now,
	}
}

// Set marshals the provided value and stores it with the given TTL.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}

	if r.client == nil {
		r.mu.Lock()
		r.memory[key] = memoryEntry{payload: payload, expiresAt: r.now().Add(ttl)}
		r.mu.Unlock()
		return nil
	}

	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Get retrieves and unmarshals the cached value into dest.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	raw, err := r.read(ctx, key, false)
	if err != nil {
		return err
	}
	return decode(key, raw, dest)
}

// Take retrieves the cached value and removes it atomically, so a key can be consumed once.
func (r *CacheRepository) Take(ctx context.Context, key string, dest interface{}) error {
	raw, err := r.read(ctx, key, true)
	if err != nil {
		return err
	}
	return decode(key, raw, dest)
}

func (r *CacheRepository) read(ctx context.Context, key string, remove bool) ([]byte, error) {
	if r.client == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		entry, ok := r.memory[key]
		if !ok {
			return nil, appErrors.ErrCacheMiss
		}
		if !r.now().Before(entry.expiresAt) {
			delete(r.memory, key)
			return nil, appErrors.ErrCacheMiss
		}
		if remove {
			delete(r.memory, key)
		}
		return entry.payload, nil
	}

	var (
		raw []byte
		err error
	)
	if remove {
		raw, err = r.client.GetDel(ctx, key).Bytes()
	} else {
		raw, err = r.client.Get(ctx, key).Bytes()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, appErrors.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return raw, nil
}

func decode(key string, raw []byte, dest interface{}) error {
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return nil
}

// Ping verifies the backing store. The in-memory fallback is always ready.
func (r *CacheRepository) Ping(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
