// Package scheduler runs the account-service background jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const sweepLockKey = "lock:refresh-token-sweep"

// Sweeper deletes expired refresh tokens; *session.Manager satisfies it.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Locker runs fn only if key can be taken; *redis.Locker satisfies it.
type Locker interface {
	TryWithLock(ctx context.Context, key string, expiry time.Duration, fn func(context.Context) error) (bool, error)
}

// TokenSweeper runs the refresh-token sweep on a cron schedule. Each run
// holds a distributed lock so that only one replica sweeps; the sweep is
// a single conditional delete and would also be correct without it.
type TokenSweeper struct {
	sweeper Sweeper
	locker  Locker
	lockTTL time.Duration
	logger  *zap.Logger
	cron    *cron.Cron
}

func NewTokenSweeper(sweeper Sweeper, locker Locker, lockTTL time.Duration, logger *zap.Logger) *TokenSweeper {
	return &TokenSweeper{
		sweeper: sweeper,
		locker:  locker,
		lockTTL: lockTTL,
		logger:  logger,
		cron:    cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start schedules the sweep (standard five-field cron expression) and returns.
// The job stops when ctx is cancelled.
func (s *TokenSweeper) Start(ctx context.Context, schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("refresh token sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	s.cron.Start()
	s.logger.Info("refresh token sweeper scheduled", zap.String("schedule", schedule))

	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()
	return nil
}

// RunOnce performs one locked sweep and returns the number of tokens
// removed. A sweep skipped because another replica holds the lock
// returns (0, nil).
func (s *TokenSweeper) RunOnce(ctx context.Context) (int64, error) {
	var removed int64
	ran, err := s.locker.TryWithLock(ctx, sweepLockKey, s.lockTTL, func(ctx context.Context) error {
		n, err := s.sweeper.SweepExpired(ctx)
		removed = n
		return err
	})
	if err != nil {
		return 0, err
	}
	if !ran {
		s.logger.Info("refresh token sweep skipped, lock held elsewhere")
		return 0, nil
	}
	s.logger.Info("refresh token sweep completed", zap.Int64("removed", removed))
	return removed, nil
}
