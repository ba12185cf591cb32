package swapgo

import (
	"errors"

	"github.com/hupe1980/swapgo/fragment"
	"github.com/hupe1980/swapgo/swap"
)

var (
	// ErrIO reports a swap file read or write failure.
	ErrIO = swap.ErrIO

	// ErrSerialization reports a codec or compression failure.
	ErrSerialization = swap.ErrSerialization

	// ErrCapacityExceeded is returned when appending to a full fragment.
	ErrCapacityExceeded = swap.ErrCapacityExceeded

	// ErrConcurrentEviction reports that an entity became ineligible while
	// it was being swapped.
	ErrConcurrentEviction = swap.ErrConcurrentEviction

	// ErrIndexOutOfRange is returned for indexes outside a list.
	ErrIndexOutOfRange = fragment.ErrIndexOutOfRange

	// ErrSealed is returned when appending to a completed list.
	ErrSealed = fragment.ErrSealed

	// ErrDisposed is returned by operations on disposed data.
	ErrDisposed = fragment.ErrDisposed

	// ErrClosed is returned by operations on a closed Engine.
	ErrClosed = errors.New("swapgo: engine closed")
)

// Error describes a failed operation on a swap entity.
// errors.Is matches the taxonomy sentinels above.
type Error = swap.Error
