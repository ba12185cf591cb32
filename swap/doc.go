// Package swap implements the memory-pressure driven eviction engine.
//
// A Coordinator samples memory through a Sampler, maps the free ratio to a
// MemoryState and runs a fixed pool of workers. Each worker owns a weak
// registry of Swappable entities and, in every state but Good, swaps out
// the highest-priority share of them:
//
//	priority = (ageMs + minAgeMs) / minAgeMs
//
// Entities that are in use (held), still being built, already swapped or
// disposed have priority 0 and are never candidates.
//
// Producers call WaitForMemory before large allocations. It returns as soon
// as memory leaves the Critical state, and gives up with ErrNoProgress when
// nothing more can be evicted.
//
//	c, err := swap.NewCoordinator(swap.WithWorkers(2))
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	h := swap.Register(c, fragment)
//	defer c.Deregister(h)
package swap
