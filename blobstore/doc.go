// Package blobstore stores immutable named blobs such as binding checkpoints.
//
// Implementations must be safe for concurrent use and make Put atomic: a
// reader sees either the previous content of a name or the new one, never a
// partial write.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, reads through mmap
//   - MemoryStore: in-process, for tests and ephemeral registries
//   - s3.Store and s3.DDBCommitStore: Amazon S3, optionally with a DynamoDB
//     commit pointer
//   - minio.Store: MinIO and other S3-compatible servers
package blobstore
