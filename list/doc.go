// Package list provides append-only sequences backed by swappable fragments.
//
// A List stores element i in fragment i>>bits at offset i&mask. Elements are
// appended to the tail fragment until it reaches the block size; the full
// fragment is then completed, which hands it to the swap coordinator, and a
// new tail is allocated. Completing the list seals the tail as well.
//
// Lists follow a single-producer discipline: Add, Truncate and Complete must
// not run concurrently with each other, while any number of goroutines may
// read concurrently.
//
// Example:
//
//	l := list.NewIntList(env)
//	defer l.Dispose()
//
//	for i := range 100_000 {
//	    _ = l.Add(int32(i))
//	}
//	l.Complete()
//
//	for v, err := range l.All(ctx) {
//	    if err != nil {
//	        break
//	    }
//	    process(v)
//	}
package list
