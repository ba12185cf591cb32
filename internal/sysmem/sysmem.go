// Package sysmem reports the physical memory of the host.
package sysmem

import "errors"

// ErrUnsupported is returned on platforms where physical memory cannot be read.
var ErrUnsupported = errors.New("sysmem: unsupported platform")

// Total returns the physical memory in bytes.
func Total() (uint64, error) { return total() }
