// Package hash provides the CRC32-Castagnoli checksum shared by the journal,
// the checkpoint format and the S3 upload path.
//
// One-shot:
//
//	sum := hash.CRC32C(data)
//
// Streaming:
//
//	h := hash.NewCRC32C()
//	h.Write(chunk1)
//	h.Write(chunk2)
//	sum := h.Sum32()
package hash
