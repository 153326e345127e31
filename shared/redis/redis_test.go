package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedThing struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestViewCacheRoundTripAndTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	cache := NewViewCache[cachedThing](client, 30*time.Second, nil)

	_, ok := cache.Get(ctx, "thing:1")
	assert.False(t, ok)

	cache.Set(ctx, "thing:1", &cachedThing{Name: "a", Count: 2})
	got, ok := cache.Get(ctx, "thing:1")
	require.True(t, ok)
	assert.Equal(t, cachedThing{Name: "a", Count: 2}, *got)

	mr.FastForward(31 * time.Second)
	_, ok = cache.Get(ctx, "thing:1")
	assert.False(t, ok, "entry must expire after the TTL")

	cache.Set(ctx, "thing:2", &cachedThing{Name: "b"})
	cache.Delete(ctx, "thing:2")
	_, ok = cache.Get(ctx, "thing:2")
	assert.False(t, ok)
}

func TestViewCacheIgnoresCorruptEntries(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, client.Set(ctx, "thing:bad", "{not json", 0).Err())

	_, ok := NewViewCache[cachedThing](client, 0, nil).Get(ctx, "thing:bad")
	assert.False(t, ok)
}

func TestLockerSkipsWhenHeld(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	locker := NewLocker(client)

	var innerRan bool
	ran, err := locker.TryWithLock(ctx, "lock:job", time.Minute, func(ctx context.Context) error {
		innerRan2, err := locker.TryWithLock(ctx, "lock:job", time.Minute, func(context.Context) error {
			innerRan = true
			return nil
		})
		assert.False(t, innerRan2)
		return err
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, innerRan, "a second holder must not run while the lock is taken")

	ran, err = locker.TryWithLock(ctx, "lock:job", time.Minute, func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, ran, "lock must be released after the first run")
}

func TestLockerPropagatesJobError(t *testing.T) {
	_, client := setupTestRedis(t)
	boom := errors.New("boom")

	ran, err := NewLocker(client).TryWithLock(context.Background(), "lock:err", time.Minute, func(context.Context) error {
		return boom
	})
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)
}
