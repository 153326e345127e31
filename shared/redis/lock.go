package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
)

// Locker hands out single-attempt distributed locks. It is used to keep a
// periodic job from running on more than one replica at a time; the jobs
// themselves stay safe without it.
type Locker struct {
	rs *redsync.Redsync
}

func NewLocker(client *goredislib.Client) *Locker {
	return &Locker{rs: redsync.New(goredis.NewPool(client))}
}

// TryWithLock runs fn while holding key. When another holder owns the lock
// it returns (false, nil) without running fn.
func (l *Locker) TryWithLock(ctx context.Context, key string, expiry time.Duration, fn func(context.Context) error) (bool, error) {
	mutex := l.rs.NewMutex(key, redsync.WithExpiry(expiry), redsync.WithTries(1))

	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	defer func() {
		// Expiry releases the lock if unlock fails.
		_, _ = mutex.UnlockContext(context.WithoutCancel(ctx))
	}()

	return true, fn(ctx)
}
