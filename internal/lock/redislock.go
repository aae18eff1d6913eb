package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// ErrBusy means the key stayed held for longer than MaxWait.
	ErrBusy = errors.New("lock: resource busy")

	errNoClient = errors.New("lock: redis client not configured")
)

// releaseScript deletes the key only while it still carries our token, so an expired lock taken over
// by another holder is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// OrderPlacementKey serialises order placement for one customer.
func OrderPlacementKey(userID int64) string {
	return fmt.Sprintf("lock:order:user:%d", userID)
}

// Locker is a single-instance Redis mutex (SET NX PX plus token-checked release).
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
	// MaxWait bounds how long acquisition polls a held key. Zero waits until ctx is done.
	MaxWait time.Duration
}

// Lease is a held lock.
type Lease struct {
	client *redis.Client
	key    string
	token  string
}

// Release gives the key back. Releasing after the ttl elapsed is a no-op.
func (l Lease) Release(ctx context.Context) error {
	return releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{l.key}, l.token).Err()
}

// Acquire polls until key is free, MaxWait passes or ctx ends.
func (l Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if l.R == nil {
		return Lease{}, errNoClient
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	poll := l.RetryBackoff
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	if l.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, l.MaxWait, ErrBusy)
		defer cancel()
	}

	lease := Lease{client: l.R, key: key, token: uuid.NewString()}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		ok, err := l.R.SetNX(ctx, key, lease.token, ttl).Result()
		switch {
		case ok:
			return lease, nil
		case err != nil && ctx.Err() == nil:
			return Lease{}, fmt.Errorf("lock %s: %w", key, err)
		}
		select {
		case <-ctx.Done():
			if cause := context.Cause(ctx); errors.Is(cause, ErrBusy) {
				return Lease{}, ErrBusy
			}
			return Lease{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WithLock runs fn while holding key. The lease is released whatever fn returns.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	lease, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("lock release failed")
		}
	}()
	return fn(ctx)
}
