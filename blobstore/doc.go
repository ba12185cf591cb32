// Package blobstore stores swap files.
//
// Every swap writes a fragment's framed payload to one or more blobs and
// every reload reads them back whole. Writes must be atomic: a reader either
// sees the previous content or the new one, never a torn file.
//
// # Built-in Implementations
//
//   - LocalStore: local directory, temp file + sync + rename
//   - MemoryStore: in-process map, used by tests
//   - s3.Store: Amazon S3 via the managed uploader
//   - minio.Store: MinIO and other S3-compatible services
//
// Store.URI gives the key under which a blob is reference counted, so stores
// shared between processes must return the same URI for the same object.
package blobstore
