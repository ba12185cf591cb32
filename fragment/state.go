package fragment

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/swapgo/swap"
)

// codecOps are the variant-specific parts of the swap protocol. They run
// with state.mu held.
type codecOps interface {
	// writeFiles serializes the resident payload and returns the names of
	// the files written and the number of bytes stored. On error names
	// holds the files already committed by this call.
	writeFiles(ctx context.Context) (names []string, stored int, err error)
	// readFiles restores the payload from names.
	readFiles(ctx context.Context, names []string) (stored int, err error)
	// resetPayload installs the empty/default payload after a failed reload.
	resetPayload()
	// dropPayload releases the resident payload.
	dropPayload()
	// residentBytes estimates the managed memory of the resident payload.
	residentBytes() int64
}

// state implements the swap protocol shared by every fragment variant.
//
// A swap marks the fragment invalid before it checks for holders, and a
// reader holds before it checks validity, so either the swap sees the
// reader and backs off, or the reader sees the swap and reloads under mu.
type state struct {
	swap.Base
	env    *Env
	kind   string
	prefix string
	ops    codecOps

	mu        sync.Mutex
	files     []string // swap files currently retained
	clean     bool     // files match the resident payload
	accounted int64
	handle    swap.Handle
}

func (s *state) init(env *Env, kind string, ops codecOps) {
	s.env = env
	s.kind = kind
	s.ops = ops
	s.prefix = env.namer.Next()
	s.Init(env.minAge)
}

// Prefix returns the swap file prefix.
func (s *state) Prefix() string { return s.prefix }

// Files returns the URIs of the swap files currently owned.
func (s *state) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	uris := make([]string, len(s.files))
	for i, name := range s.files {
		uris[i] = s.env.store.URI(name)
	}
	return uris
}

// account moves the managed-memory reservation to n bytes. mu must be held
// once the fragment is completed.
func (s *state) account(n int64) {
	switch d := n - s.accounted; {
	case d > 0:
		s.env.rc.ReserveMemory(d)
	case d < 0:
		s.env.rc.ReleaseMemory(-d)
	}
	s.accounted = n
}

// charge accounts n bytes for a fragment that is still being built. Growth
// the budget cannot cover waits for eviction once and is then reserved
// anyway, since appended values cannot be refused.
func (s *state) charge(n int64) {
	d := n - s.accounted
	if d <= 0 {
		return
	}
	if err := s.env.rc.AcquireMemory(d); err != nil {
		s.env.logger.Debug("fragment growth over budget", "prefix", s.prefix, "bytes", d)
		_ = s.env.WaitForMemory(context.Background())
		s.env.rc.ReserveMemory(d)
	}
	s.accounted = n
}

// complete seals the fragment. register is called exactly once, with the
// outer fragment, to hand it to the coordinator.
func (s *state) complete(register func(*swap.Coordinator) swap.Handle) bool {
	if !s.MarkCompleted() {
		return false
	}
	s.mu.Lock()
	s.account(s.ops.residentBytes())
	s.mu.Unlock()

	if s.env.coord != nil {
		h := register(s.env.coord)
		s.mu.Lock()
		s.handle = h
		s.mu.Unlock()
	}
	return true
}

// SwapPriority implements swap.Swappable.
func (s *state) SwapPriority() float64 { return s.Priority() }

// Swap implements swap.Swappable.
func (s *state) Swap(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Priority() == 0 {
		return s.conflict("not eligible")
	}
	s.SetValid(false)
	if s.Holding() > 0 {
		s.SetValid(true)
		return s.conflict("reader arrived")
	}

	if !s.clean {
		start := time.Now()
		names, stored, err := s.ops.writeFiles(ctx)
		s.env.metrics.RecordSwap(s.kind, stored, time.Since(start), err)
		if err != nil {
			s.discardPartial(ctx, names)
			s.SetValid(true)
			s.env.logger.Error("swap failed, keeping data resident", "prefix", s.prefix, "kind", s.kind, "error", err)
			return false
		}
		s.replaceFiles(ctx, names)
		s.clean = true
	}

	s.ops.dropPayload()
	s.account(0)
	return true
}

// conflict rejects a swap whose candidate became ineligible after it was
// selected.
func (s *state) conflict(reason string) bool {
	s.env.metrics.RecordConflict(s.kind)
	s.env.logger.Debug("swap rejected", "reason", reason,
		"error", swap.NewError("swap", s.prefix, swap.KindConflict, nil))
	return false
}

// replaceFiles retains new file names and releases those no longer used.
func (s *state) replaceFiles(ctx context.Context, names []string) {
	tracker := s.env.tracker
	for _, name := range names {
		if slices.Contains(s.files, name) {
			continue
		}
		if _, err := tracker.Retain(ctx, s.env.store.URI(name)); err != nil {
			s.env.logger.Warn("retain swap file", "file", name, "error", err)
		}
	}
	for _, name := range s.files {
		if slices.Contains(names, name) {
			continue
		}
		s.releaseFile(ctx, name)
	}
	s.files = names
}

// discardPartial deletes files committed by a failed swap that are not
// retained from an earlier one.
func (s *state) discardPartial(ctx context.Context, names []string) {
	for _, name := range names {
		if slices.Contains(s.files, name) {
			continue
		}
		if err := s.env.store.Delete(ctx, name); err != nil {
			s.env.logger.Warn("delete partial swap file", "file", name, "error", err)
		}
	}
}

func (s *state) releaseFile(ctx context.Context, name string) {
	if _, err := s.env.tracker.Release(ctx, s.env.store.URI(name), s.env.removeFunc(name)); err != nil {
		s.env.logger.Warn("release swap file", "file", name, "error", err)
	}
}

// pin makes the payload resident and holds it until unpin.
func (s *state) pin(ctx context.Context) error {
	s.Touch()
	s.Hold()
	if s.IsValid() {
		return nil
	}
	if s.IsDisposed() {
		s.Unhold()
		return ErrDisposed
	}

	if err := s.env.WaitForMemory(ctx); err != nil {
		s.Unhold()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IsValid() {
		return nil
	}
	if s.IsDisposed() {
		s.Unhold()
		return ErrDisposed
	}
	s.reload(ctx)
	return nil
}

func (s *state) unpin() { s.Unhold() }

// reload restores the payload. mu must be held. Failures leave a default
// payload behind so the fragment stays usable.
func (s *state) reload(ctx context.Context) {
	start := time.Now()
	stored, err := s.ops.readFiles(ctx, s.files)
	s.env.metrics.RecordReload(s.kind, stored, time.Since(start), err)
	if err != nil {
		s.env.logger.Error("reload failed, using default values", "prefix", s.prefix, "kind", s.kind, "error", err)
		s.ops.resetPayload()
		s.clean = false
	} else {
		s.clean = true
	}
	s.account(s.ops.residentBytes())
	s.SetValid(true)
}

// mutate runs fn on the resident payload and marks the swap files stale.
func (s *state) mutate(ctx context.Context, fn func()) error {
	if err := s.pin(ctx); err != nil {
		return err
	}
	defer s.unpin()

	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
	s.clean = false
	if s.IsCompleted() {
		s.account(s.ops.residentBytes())
	}
	return nil
}

// Dispose implements swap.Swappable. It is idempotent.
func (s *state) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.MarkDisposed() {
		return
	}
	if s.env.coord != nil {
		s.env.coord.Deregister(s.handle)
	}
	s.ops.dropPayload()
	s.account(0)

	ctx := context.Background()
	for _, name := range s.files {
		s.releaseFile(ctx, name)
	}
	s.files = nil
	s.env.logger.Debug("fragment disposed", "prefix", s.prefix, "kind", s.kind)
}

