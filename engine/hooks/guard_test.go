package hooks_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/hooks"
	"github.com/go-redis/redis/v8"
	"github.com/zeebo/assert"
)

type mockRedis struct {
	setNXFunc func(key string, ttl time.Duration) (bool, error)
	delFunc   func(keys ...string) (int64, error)
}

func (m *mockRedis) SetNX(_ context.Context, key string, _ interface{}, ttl time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(m.setNXFunc(key, ttl))
}

func (m *mockRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	return redis.NewIntResult(m.delFunc(keys...))
}

func TestMemoryGuard_OneClaimPerMessage(t *testing.T) {
	ctx := context.Background()
	guard := hooks.NewMemoryGuard()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := guard.Claim(ctx, 6, 42)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, wins.Load(), int32(1))

	// nonces are scoped by domain
	ok, err := guard.Claim(ctx, 3, 42)
	assert.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, guard.Release(ctx, 6, 42))
	ok, err = guard.Claim(ctx, 6, 42)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisGuard(t *testing.T) {
	ctx := context.Background()
	claimed := map[string]bool{}
	client := &mockRedis{
		setNXFunc: func(key string, ttl time.Duration) (bool, error) {
			assert.Equal(t, ttl, 24*time.Hour)
			if claimed[key] {
				return false, nil
			}
			claimed[key] = true
			return true, nil
		},
		delFunc: func(keys ...string) (int64, error) {
			for _, k := range keys {
				delete(claimed, k)
			}
			return int64(len(keys)), nil
		},
	}
	guard := hooks.NewRedisGuard(client, "", 24*time.Hour)

	ok, err := guard.Claim(ctx, 6, 7)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, claimed["stablerouter:processed:6:7"])

	ok, err = guard.Claim(ctx, 6, 7)
	assert.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, guard.Release(ctx, 6, 7))
	assert.False(t, claimed["stablerouter:processed:6:7"])
}

func TestRedisGuard_ErrorIsReturned(t *testing.T) {
	boom := errors.New("connection refused")
	guard := hooks.NewRedisGuard(&mockRedis{
		setNXFunc: func(string, time.Duration) (bool, error) { return false, boom },
	}, "test", 0)

	ok, err := guard.Claim(context.Background(), 1, 1)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, boom))
}
