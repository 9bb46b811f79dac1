// Package mmap provides read-only memory-mapped access to checkpoint files.
//
//	m, err := mmap.Open("checkpoints/000042.ckpt")
//	if err != nil { ... }
//	defer m.Close()
//
//	hdr, _ := m.Slice(0, headerSize)
//	_ = m.Advise(mmap.AccessSequential)
//
// Unix uses mmap(2) and madvise(2). Windows uses CreateFileMapping and
// MapViewOfFile, and Advise is a no-op there.
//
// A Mapping is safe for concurrent reads. Close is idempotent, but slices
// obtained from Bytes or Slice must not be touched after it returns.
package mmap
