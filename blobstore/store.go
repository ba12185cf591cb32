package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store holds swap files. Blobs are written once per swap and read back
// whole on reload. Implementations must be safe for concurrent use.
type Store interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)

	// Create starts a new blob. The content becomes visible under name only
	// when Close succeeds; Abort discards it.
	Create(ctx context.Context, name string) (WritableBlob, error)

	// Put writes a blob atomically.
	Put(ctx context.Context, name string, data []byte) error

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the names of all blobs starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// URI returns a location for name that is unique across every store
	// sharing a reference tracker (absolute path, s3://bucket/key, ...).
	URI(name string) string
}

// Blob is a read handle to a stored blob.
type Blob interface {
	io.ReadCloser
	// Size returns the size of the blob in bytes.
	Size() int64
}

// WritableBlob is a blob being written.
type WritableBlob interface {
	io.Writer
	// Close commits the blob.
	Close() error
	// Abort discards everything written so far. Abort after Close is a no-op.
	Abort() error
}

// ReadAll reads the whole blob into dst[:0], growing it if needed.
func ReadAll(ctx context.Context, s Store, name string, dst []byte) ([]byte, error) {
	b, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = b.Close() }()
	return readFull(b, b.Size(), dst)
}

func readFull(r io.Reader, size int64, dst []byte) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("blobstore: negative size %d", size)
	}
	if int64(cap(dst)) < size {
		dst = make([]byte, size)
	}
	dst = dst[:size]
	if _, err := io.ReadFull(r, dst); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return dst, nil
}

// WriteAll writes data through Create so the commit stays atomic, aborting
// on a failed write.
func WriteAll(w WritableBlob, data []byte) error {
	if _, err := w.Write(data); err != nil {
		_ = w.Abort()
		return err
	}
	return w.Close()
}
