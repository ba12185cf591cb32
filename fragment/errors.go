package fragment

import "errors"

var (
	// ErrDisposed is returned by reads from a disposed fragment.
	ErrDisposed = errors.New("fragment: disposed")

	// ErrSealed is returned when appending to a completed fragment.
	ErrSealed = errors.New("fragment: sealed")

	// ErrIndexOutOfRange is returned for reads beyond the logical length.
	ErrIndexOutOfRange = errors.New("fragment: index out of range")

	// ErrCorrupt reports a swap file whose content does not match the
	// fragment.
	ErrCorrupt = errors.New("fragment: corrupt swap file")
)
