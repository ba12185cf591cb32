// Package s3 provides an Amazon S3 implementation of blobstore.Store, used as
// a remote swap tier when local disk is small or shared between nodes.
//
// # Usage
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "swap/node-1/")
//
// Reference counts for shared swap files live in refcount/dynamo, keyed by
// Store.URI.
//
// # Features
//
//   - Streaming multipart uploads via the managed uploader
//   - CRC32C checksums on every write
//   - Automatic pagination for listing
package s3
