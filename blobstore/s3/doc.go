// Package s3 stores blobs in Amazon S3.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "registries/users")
//
// Small blobs go up in a single PutObject carrying a CRC32C checksum; larger
// ones use the multipart uploader. Reads are ranged GETs.
//
// S3 has no compare-and-swap, so two registries sharing a prefix could race on
// the CURRENT pointer. DDBCommitStore keeps that pointer in DynamoDB behind a
// conditional write instead.
package s3
