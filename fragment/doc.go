// Package fragment implements the fixed-capacity blocks that are the unit
// of swap-out and swap-in.
//
// Three variants share one state machine:
//
//   - IntFragment holds int32 values in a single swap file.
//   - ObjectFragment holds values of any type, encoded by a
//     codec.Serializer and spilled across as many block files as needed.
//   - StringFragment holds one string.
//
// A fragment is built by appending, then completed, which registers it with
// the swap coordinator. From then on it may be swapped out at any time
// except while a reader holds it, and reloads itself on the next access.
//
// Swap files are named "<prefix>.tdat" or "<prefix>_<n>.tdat", where the
// prefix "s<seed>_<counter>" is unique per Namer. Every file is compressed
// with the environment's algorithm and reference counted through a
// refcount.Tracker, so a file shared with another owner outlives Dispose.
package fragment
