package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's token,
// so one holder can never release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua resets the TTL of a lock key only while the caller still owns it.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

const unlockTimeout = 5 * time.Second

// LockManager implements domain.LockManager with SET NX plus TTL and a
// Lua-based conditional unlock. It shares vault locks across every
// vaultkeeper process pointed at the same Redis. A held lock is extended
// every ttl/3 until it is released, so a holder outliving its TTL keeps it.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	extendSc *redis.Script
	newToken func() string
	logger   *slog.Logger
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client, logger *slog.Logger) *LockManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
		newToken: func() string { return uuid.New().String() },
		logger:   logger.With(slog.String("component", "redis_lock")),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire tries once to take the lock for key. It returns domain.ErrLockHeld
// when another holder owns it. The returned unlock function is safe to call
// more than once and keeps working after ctx is cancelled.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := lm.newToken()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go lm.keepAlive(lk, token, ttl, stop, done)

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			close(stop)
			<-done
			unlockCtx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

// keepAlive extends the lock every ttl/3 until stop is closed or the lock is
// found to belong to someone else.
func (lm *LockManager) keepAlive(lk, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	every := ttl / 3
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			held, err := lm.extend(ctx, lk, token, ttl)
			cancel()
			if err != nil {
				lm.logger.Warn("lock extend failed",
					slog.String("key", lk),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !held {
				lm.logger.Error("lock lost before release", slog.String("key", lk))
				return
			}
		}
	}
}

// extend resets the TTL of lk if token still owns it.
func (lm *LockManager) extend(ctx context.Context, lk, token string, ttl time.Duration) (bool, error) {
	n, err := lm.extendSc.Run(ctx, lm.rdb, []string{lk}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: extend lock %s: %w", lk, err)
	}
	return n == 1, nil
}

var _ domain.LockManager = (*LockManager)(nil)
