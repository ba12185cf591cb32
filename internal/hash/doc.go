// Package hash provides CRC32-Castagnoli checksums for swap blobs written to
// remote stores. Go's hash/crc32 uses SSE4.2 or the ARM CRC extension when
// available.
//
//	checksum := hash.CRC32C(data)
package hash
