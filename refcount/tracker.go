package refcount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrLockTimeout is returned when a lock could not be acquired in time.
var ErrLockTimeout = errors.New("refcount: lock timeout")

// Store persists reference counts. A missing key has count 0.
type Store interface {
	Get(ctx context.Context, key string) (int64, error)
	Set(ctx context.Context, key string, n int64) error
	Delete(ctx context.Context, key string) error
}

// Locker provides mutual exclusion per key.
type Locker interface {
	// Lock blocks until key is locked or ctx is done. The returned function
	// releases the lock.
	Lock(ctx context.Context, key string) (unlock func(context.Context) error, err error)
}

// RemoveFunc physically deletes a file once its count dropped to zero.
type RemoveFunc func(ctx context.Context) error

// Tracker maintains reference counts of swap files.
type Tracker struct {
	store  Store
	locker Locker
	logger *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTracker returns a tracker over store and locker.
func NewTracker(store Store, locker Locker, opts ...Option) *Tracker {
	t := &Tracker{store: store, locker: locker, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewLocalTracker returns a process-local tracker.
func NewLocalTracker(opts ...Option) *Tracker {
	return NewTracker(NewMemoryStore(), NewLocalLocker(), opts...)
}

func (t *Tracker) locked(ctx context.Context, key string, fn func() error) (err error) {
	unlock, err := t.locker.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("refcount: lock %s: %w", key, err)
	}
	defer func() {
		// The critical section completed; unlocking must not be skipped on cancel.
		if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil && err == nil {
			err = fmt.Errorf("refcount: unlock %s: %w", key, uerr)
		}
	}()
	return fn()
}

// Retain adds a reference to key and returns the new count.
func (t *Tracker) Retain(ctx context.Context, key string) (int64, error) {
	var n int64
	err := t.locked(ctx, key, func() error {
		cur, err := t.store.Get(ctx, key)
		if err != nil {
			return err
		}
		n = cur + 1
		return t.store.Set(ctx, key, n)
	})
	return n, err
}

// Release drops a reference to key and returns the remaining count. When
// the count reaches zero, remove is called and the entry is deleted; if
// remove fails the reference is kept so a later Release can retry.
// Releasing an untracked key removes it.
func (t *Tracker) Release(ctx context.Context, key string, remove RemoveFunc) (int64, error) {
	var n int64
	err := t.locked(ctx, key, func() error {
		cur, err := t.store.Get(ctx, key)
		if err != nil {
			return err
		}
		if cur > 1 {
			n = cur - 1
			return t.store.Set(ctx, key, n)
		}
		if remove != nil {
			if err := remove(ctx); err != nil {
				n = max(cur, 0)
				return fmt.Errorf("refcount: remove %s: %w", key, err)
			}
		}
		t.logger.Debug("swap file released", "key", key)
		return t.store.Delete(ctx, key)
	})
	return n, err
}

// Count returns the current count of key.
func (t *Tracker) Count(ctx context.Context, key string) (int64, error) {
	return t.store.Get(ctx, key)
}
