// Package fs provides the filesystem abstraction behind the local swap store.
//
//   - [LocalFS]: production implementation on the os package
//   - [FaultyFS]: test wrapper that injects open, read, write, sync and
//     rename failures for file names matching a pattern
//
// Swap IO failures must leave a fragment resident and unchanged, and FaultyFS
// is how tests drive those paths:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".tdat", fs.Fault{FailAfterBytes: 0})
//	store := blobstore.NewLocalStore(dir, blobstore.WithFileSystem(ffs))
//
// The interfaces carry no context.Context. Local file operations are not
// interruptible at the syscall level; cancellation and rate limiting happen in
// the store above.
package fs
