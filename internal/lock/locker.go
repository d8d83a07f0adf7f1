package lock

import (
	"context"
	"errors"
	"time"
)

// ErrLockTimeout is returned when a lock could not be acquired within the configured wait
var ErrLockTimeout = errors.New("lock wait timeout")

// Locker is a non-blocking try-lock keyed by string.
// Lock returns ok=false when the key is already held. On success the token
// identifies this acquisition: Unlock with a stale token is a no-op, so a
// holder whose TTL ran out cannot release the lock of the next holder.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}
