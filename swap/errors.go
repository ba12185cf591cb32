package swap

import (
	"errors"
	"fmt"
)

var (
	// ErrIO reports a swap file read or write failure.
	ErrIO = errors.New("swap io failure")

	// ErrSerialization reports a codec or compression failure.
	ErrSerialization = errors.New("swap serialization failure")

	// ErrCapacityExceeded is returned when appending to a full fragment.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrConcurrentEviction reports that an entity became ineligible between
	// candidate selection and the swap attempt.
	ErrConcurrentEviction = errors.New("concurrent eviction conflict")

	// ErrClosed is returned by operations on a closed coordinator.
	ErrClosed = errors.New("coordinator closed")

	// ErrNoProgress is returned by WaitForMemory when memory stayed critical
	// and nothing could be swapped for several polls in a row.
	ErrNoProgress = errors.New("memory critical, no eviction progress")
)

// Kind classifies swap failures.
type Kind uint8

const (
	KindIO Kind = iota + 1
	KindSerialization
	KindCapacity
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindSerialization:
		return "serialization"
	case KindCapacity:
		return "capacity"
	case KindConflict:
		return "conflict"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindIO:
		return ErrIO
	case KindSerialization:
		return ErrSerialization
	case KindCapacity:
		return ErrCapacityExceeded
	case KindConflict:
		return ErrConcurrentEviction
	default:
		return nil
	}
}

// Error describes a failed operation on a named swap entity.
//
// errors.Is matches both the kind's sentinel (ErrIO, ...) and the cause.
type Error struct {
	Op   string // "swap", "reload", "append", ...
	Name string // file prefix of the entity
	Kind Kind
	Err  error
}

// NewError returns an *Error.
func NewError(op, name string, kind Kind, err error) *Error {
	return &Error{Op: op, Name: name, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Kind.sentinel())
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Name, e.Kind.sentinel(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}
