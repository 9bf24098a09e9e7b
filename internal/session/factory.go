package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StoreType represents the type of session store.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
)

// StoreOption is a functional option for configuring a session store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	dir         string
	redisURL    string
	redisClient *redis.Client
	redisTTL    time.Duration
}

// WithDir sets the save directory for the file store.
func WithDir(dir string) StoreOption {
	return func(c *storeConfig) {
		c.dir = dir
	}
}

// WithRedisURL sets the connection URL for the Redis store.
func WithRedisURL(url string) StoreOption {
	return func(c *storeConfig) {
		c.redisURL = url
	}
}

// WithRedisClient sets an existing Redis client for the Redis store.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithRedisTTL sets the TTL for Redis keys.
func WithRedisTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.redisTTL = ttl
	}
}

// NewStore creates a Store of the given type.
func NewStore(ctx context.Context, storeType StoreType, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	switch storeType {
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeFile:
		if cfg.dir == "" {
			return nil, fmt.Errorf("file session store requires a directory")
		}
		return NewFileStore(cfg.dir)
	case StoreTypeRedis:
		if cfg.redisClient != nil {
			return NewRedisStore(cfg.redisClient, cfg.redisTTL), nil
		}
		if cfg.redisURL == "" {
			return nil, fmt.Errorf("redis session store requires a client or url")
		}
		store, err := NewRedisStoreFromURL(ctx, cfg.redisURL)
		if err != nil {
			return nil, err
		}
		store.ttl = cfg.redisTTL
		return store, nil
	default:
		return nil, fmt.Errorf("invalid session store type %q", storeType)
	}
}
