package list

import "github.com/hupe1980/swapgo/fragment"

var (
	// ErrIndexOutOfRange is returned for indexes outside [0, Len()).
	ErrIndexOutOfRange = fragment.ErrIndexOutOfRange

	// ErrSealed is returned by Add after Complete, or when a truncated
	// tail fragment was already completed.
	ErrSealed = fragment.ErrSealed

	// ErrDisposed is returned by operations on a disposed list.
	ErrDisposed = fragment.ErrDisposed
)
