package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	sharedredis "github.com/eaglebank/moneyflow/shared/redis"
)

type mockSweeper struct {
	sweepFn func(ctx context.Context) (int64, error)
	calls   int
}

func (m *mockSweeper) SweepExpired(ctx context.Context) (int64, error) {
	m.calls++
	return m.sweepFn(ctx)
}

func newLocker(t *testing.T) (*miniredis.Miniredis, *sharedredis.Locker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, sharedredis.NewLocker(client)
}

func TestRunOnceReturnsSweepCount(t *testing.T) {
	_, locker := newLocker(t)
	sweeper := &mockSweeper{sweepFn: func(context.Context) (int64, error) { return 7, nil }}

	n, err := NewTokenSweeper(sweeper, locker, time.Minute, zap.NewNop()).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, 1, sweeper.calls)
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	mr, locker := newLocker(t)
	require.NoError(t, mr.Set(sweepLockKey, "other-replica"))
	sweeper := &mockSweeper{sweepFn: func(context.Context) (int64, error) { return 3, nil }}

	n, err := NewTokenSweeper(sweeper, locker, time.Minute, zap.NewNop()).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, sweeper.calls)
}

func TestRunOncePropagatesSweepError(t *testing.T) {
	_, locker := newLocker(t)
	boom := errors.New("db down")
	sweeper := &mockSweeper{sweepFn: func(context.Context) (int64, error) { return 0, boom }}

	_, err := NewTokenSweeper(sweeper, locker, time.Minute, zap.NewNop()).RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	_, locker := newLocker(t)
	sweeper := &mockSweeper{sweepFn: func(context.Context) (int64, error) { return 0, nil }}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewTokenSweeper(sweeper, locker, time.Minute, zap.NewNop())
	assert.Error(t, s.Start(ctx, "every day please"))
	assert.NoError(t, s.Start(ctx, "0 2 * * *"))
}
