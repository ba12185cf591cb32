package swap

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultMinAge is the minimum-age constant in the eviction priority.
const DefaultMinAge = time.Second

// Swappable is an entity the coordinator can evict to storage and that
// reloads itself transparently on access.
//
// State machine:
//
//	Building -> Active (resident) <-> Swapped ... -> Disposed
//
// Invariants: a disposed entity is neither valid nor swappable, and an entity
// with active holders has priority 0.
type Swappable interface {
	// SwapPriority returns 0 when the entity is ineligible, otherwise
	// (ageMs + minAgeMs) / minAgeMs. Higher is evicted sooner.
	SwapPriority() float64
	IsCompleted() bool
	// IsSwappable false removes the entity from eviction candidacy for good.
	IsSwappable() bool
	// IsValid reports whether the payload is resident.
	IsValid() bool
	// Swap writes the payload out and releases it. It returns false when the
	// attempt was rejected or failed; the entity is unchanged in that case.
	Swap(ctx context.Context) bool
	// Dispose releases memory and storage. Idempotent.
	Dispose()
}

// Base carries the state shared by every Swappable and implements the
// priority formula. Embed it and call Init before use.
type Base struct {
	minAgeMs     float64
	lastAccess   atomic.Int64 // unix nanos
	valid        atomic.Bool
	completed    atomic.Bool
	disposed     atomic.Bool
	notSwappable atomic.Bool
	holding      atomic.Int32
}

// Init marks the entity resident and sets the min-age constant.
func (b *Base) Init(minAge time.Duration) {
	if minAge <= 0 {
		minAge = DefaultMinAge
	}
	b.minAgeMs = float64(minAge) / float64(time.Millisecond)
	b.valid.Store(true)
	b.Touch()
}

// Touch records an access.
func (b *Base) Touch() { b.lastAccess.Store(time.Now().UnixNano()) }

// LastAccess returns the time of the last access.
func (b *Base) LastAccess() time.Time { return time.Unix(0, b.lastAccess.Load()) }

// Priority implements the eviction score.
func (b *Base) Priority() float64 {
	return b.priorityAt(time.Now())
}

func (b *Base) priorityAt(now time.Time) float64 {
	if b.holding.Load() > 0 || !b.completed.Load() || !b.valid.Load() || !b.IsSwappable() {
		return 0
	}
	ageMs := float64(now.UnixNano()-b.lastAccess.Load()) / float64(time.Millisecond)
	if ageMs < 0 {
		ageMs = 0
	}
	return (ageMs + b.minAgeMs) / b.minAgeMs
}

// Hold pins the payload in memory until the matching Unhold.
func (b *Base) Hold() { b.holding.Add(1) }

// Unhold releases a Hold.
func (b *Base) Unhold() { b.holding.Add(-1) }

// Holding returns the number of active holders.
func (b *Base) Holding() int32 { return b.holding.Load() }

// IsValid reports whether the payload is resident.
func (b *Base) IsValid() bool { return b.valid.Load() }

// SetValid updates residency.
func (b *Base) SetValid(v bool) { b.valid.Store(v) }

// IsCompleted reports whether the entity left the Building state.
func (b *Base) IsCompleted() bool { return b.completed.Load() }

// MarkCompleted returns true exactly once.
func (b *Base) MarkCompleted() bool { return b.completed.CompareAndSwap(false, true) }

// IsDisposed reports whether the entity is disposed.
func (b *Base) IsDisposed() bool { return b.disposed.Load() }

// MarkDisposed returns true exactly once and clears validity.
func (b *Base) MarkDisposed() bool {
	if !b.disposed.CompareAndSwap(false, true) {
		return false
	}
	b.valid.Store(false)
	return true
}

// IsSwappable reports whether the entity can still be evicted.
func (b *Base) IsSwappable() bool { return !b.notSwappable.Load() && !b.disposed.Load() }

// SetSwappable enables or disables eviction.
func (b *Base) SetSwappable(v bool) { b.notSwappable.Store(!v) }
