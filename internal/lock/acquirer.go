package lock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const pollInterval = 5 * time.Millisecond

// Acquirer takes several locks at once in a fixed global order (sorted keys),
// waiting at most `wait` for each of them.
type Acquirer struct {
	locker Locker
	wait   time.Duration
	ttl    time.Duration
	logger *zap.Logger
}

func NewAcquirer(locker Locker, wait, ttl time.Duration, logger *zap.Logger) *Acquirer {
	return &Acquirer{
		locker: locker,
		wait:   wait,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireAll locks every key or none. The returned release func must be called
// exactly once when the caller is done.
func (a *Acquirer) AcquireAll(ctx context.Context, keys ...string) (func(), error) {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]heldLock, 0, len(sorted))
	for _, key := range sorted {
		token, err := a.acquire(ctx, key)
		if err != nil {
			a.releaseAll(held)
			return nil, err
		}
		held = append(held, heldLock{key: key, token: token})
	}

	return func() { a.releaseAll(held) }, nil
}

type heldLock struct {
	key   string
	token string
}

func (a *Acquirer) acquire(ctx context.Context, key string) (string, error) {
	backoff := retry.WithMaxDuration(a.wait, retry.NewConstant(pollInterval))

	var token string
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		t, ok, err := a.locker.Lock(ctx, key, a.ttl)
		if err != nil {
			return err
		}
		if !ok {
			return retry.RetryableError(ErrLockTimeout)
		}
		token = t
		return nil
	})
	if err == nil {
		return token, nil
	}

	if errors.Is(err, ErrLockTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return "", fmt.Errorf("acquire %s: %w", key, ErrLockTimeout)
	}
	return "", fmt.Errorf("acquire %s: %w", key, err)
}

// releaseAll unlocks in reverse order. Uses a fresh context so a cancelled
// request still frees its locks.
func (a *Acquirer) releaseAll(held []heldLock) {
	ctx, cancel := context.WithTimeout(context.Background(), a.wait)
	defer cancel()

	for i := len(held) - 1; i >= 0; i-- {
		if err := a.locker.Unlock(ctx, held[i].key, held[i].token); err != nil {
			a.logger.Error("Failed to release lock",
				zap.String("key", held[i].key),
				zap.Error(err))
		}
	}
}

// ScheduleKey is the lock key guarding one schedule and its slots
func ScheduleKey(scheduleID string) string {
	return "schedule:" + scheduleID
}

// LocationKey serializes publishing at one location
func LocationKey(locationID string) string {
	return "location:" + locationID
}

// OfferingKey serializes publishing of one offering template
func OfferingKey(offeringID string) string {
	return "offering:" + offeringID
}
