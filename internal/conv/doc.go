// Package conv narrows integers with bounds checks.
//
// Swap file headers carry 32-bit counts and lengths. Values read back from a
// file, or sizes computed from in-memory slices, go through these helpers
// before they are written or trusted, so a corrupt header surfaces as an
// error instead of a wrapped length.
package conv
