// Package checkpoint persists snapshots of the live binding set.
//
// A snapshot file is laid out as
//
//	[header:40][id set][record block][crc:4]
//
// The id set is a serialized roaring bitmap of the bound ids. The record block
// holds one length-prefixed key per bound id, in ascending id order, so ids
// are never stored twice. The block is LZ4 or zstd compressed and stored raw
// when compression does not pay off. The trailing CRC-32C covers everything
// before it.
//
// Manager stores snapshots in a blobstore.Store under checkpoints/ and
// publishes the newest one through a CURRENT pointer blob written last, so a
// crash mid-checkpoint leaves the previous snapshot in effect.
package checkpoint
