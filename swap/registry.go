package swap

import (
	"sync"
	"weak"

	"github.com/RoaringBitmap/roaring/v2"
)

// Handle identifies a registration. The zero Handle is not registered.
type Handle struct {
	worker int
	slot   uint32
	id     uint64
}

// Registered reports whether h refers to a registration.
func (h Handle) Registered() bool { return h.id != 0 }

// slot holds a non-owning reference to a registered entity.
type slot struct {
	id  uint64
	get func() Swappable // nil result once the entity was collected
}

type candidate struct {
	s        Swappable
	priority float64
}

// registry is the set of entities owned by one worker. Occupied slot
// indexes are tracked in a roaring bitmap and freed indexes are reused.
type registry struct {
	mu    sync.Mutex
	slots []slot
	used  *roaring.Bitmap
	free  []uint32
}

func newRegistry() *registry {
	return &registry{used: roaring.New()}
}

// weakRef returns a getter that does not keep p alive.
func weakRef[T any, P interface {
	*T
	Swappable
}](p P) func() Swappable {
	wp := weak.Make((*T)(p))
	return func() Swappable {
		if v := wp.Value(); v != nil {
			return P(v)
		}
		return nil
	}
}

func (r *registry) add(id uint64, get func() Swappable) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[idx] = slot{id: id, get: get}
	} else {
		idx = uint32(len(r.slots))
		r.slots = append(r.slots, slot{id: id, get: get})
	}
	r.used.Add(idx)
	return idx
}

func (r *registry) remove(idx uint32, id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(idx) >= len(r.slots) || r.slots[idx].id != id || !r.used.Contains(idx) {
		return false
	}
	r.release(idx)
	return true
}

// release must be called with mu held.
func (r *registry) release(idx uint32) {
	r.slots[idx] = slot{}
	r.used.Remove(idx)
	r.free = append(r.free, idx)
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.used.GetCardinality())
}

// collect appends every entity whose priority exceeds minPriority. Dead,
// disposed and permanently unswappable entries are dropped on the way.
func (r *registry) collect(minPriority float64, out []candidate) []candidate {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dead []uint32
	it := r.used.Iterator()
	for it.HasNext() {
		idx := it.Next()
		s := r.slots[idx].get()
		if s == nil || !s.IsSwappable() {
			dead = append(dead, idx)
			continue
		}
		if p := s.SwapPriority(); p > minPriority {
			out = append(out, candidate{s: s, priority: p})
		}
	}
	for _, idx := range dead {
		r.release(idx)
	}
	return out
}

// prune drops entries whose entity was collected or can no longer be
// swapped, and returns how many were removed.
func (r *registry) prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dead []uint32
	it := r.used.Iterator()
	for it.HasNext() {
		idx := it.Next()
		if s := r.slots[idx].get(); s == nil || !s.IsSwappable() {
			dead = append(dead, idx)
		}
	}
	for _, idx := range dead {
		r.release(idx)
	}
	r.used.RunOptimize()
	return len(dead)
}
