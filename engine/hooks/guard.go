package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ReplayGuard atomically marks (source domain, nonce) pairs as processed. Claim returns true for
// exactly one caller per pair.
type ReplayGuard interface {
	Claim(ctx context.Context, domain uint32, nonce uint64) (bool, error)
	Release(ctx context.Context, domain uint32, nonce uint64) error
}

type messageKey struct {
	domain uint32
	nonce  uint64
}

// MemoryGuard is a process local ReplayGuard
type MemoryGuard struct {
	mu        sync.Mutex
	processed map[messageKey]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{processed: make(map[messageKey]struct{})}
}

func (g *MemoryGuard) Claim(_ context.Context, domain uint32, nonce uint64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := messageKey{domain, nonce}
	if _, ok := g.processed[key]; ok {
		return false, nil
	}
	g.processed[key] = struct{}{}
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, domain uint32, nonce uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.processed, messageKey{domain, nonce})
	return nil
}

// DefaultRedisKeyPrefix namespaces claim keys
const DefaultRedisKeyPrefix = "stablerouter:processed"

// RedisClient is the part of a go-redis client the guard uses; *redis.Client and
// *redis.ClusterClient both satisfy it
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisGuard shares claims between executors through SETNX
type RedisGuard struct {
	client RedisClient
	prefix string
	// ttl bounds how long a claim is kept, zero keeps it forever
	ttl time.Duration
}

// NewRedisGuard creates a guard over client
func NewRedisGuard(client RedisClient, prefix string, ttl time.Duration) *RedisGuard {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl}
}

// NewRedisClient connects to the redis server at url, e.g. redis://localhost:6379/0
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (g *RedisGuard) key(domain uint32, nonce uint64) string {
	return fmt.Sprintf("%s:%d:%d", g.prefix, domain, nonce)
}

func (g *RedisGuard) Claim(ctx context.Context, domain uint32, nonce uint64) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.key(domain, nonce), time.Now().Unix(), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim message %d/%d: %w", domain, nonce, err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, domain uint32, nonce uint64) error {
	return g.client.Del(ctx, g.key(domain, nonce)).Err()
}
