// Package idfreelist assigns dense integer ids to string keys.
//
// An id stays bound to its key until the key is released. Released ids are
// recycled oldest-first, so a freshly released id is the last one to be
// handed out again. The id space grows only when no released id is waiting.
//
// # Quick Start
//
// In-memory allocator:
//
//	a, _ := idfreelist.New()
//	id, _ := a.AssignID("alice")   // 0
//	id, _ = a.AssignID("bob")      // 1
//	a.ReleaseID("alice")
//	id, _ = a.AssignID("carol")    // 0 again
//	key, _ := a.ReverseMapID(1)    // "bob"
//
// Durable registry:
//
//	ctx := context.Background()
//	r, _ := idfreelist.Open(ctx, "./ids")
//	defer r.Close()
//	id, _ := r.Assign(ctx, "alice")
//	r.Checkpoint(ctx)
//
// # Recovery
//
// An Allocator can be rebuilt from any log of bindings:
//
//	a.StartRecovery()
//	a.RecoverID(7, "alice")
//	a.RecoverID(2, "bob")
//	a.FinishRecovery()   // ids 0, 1, 3..6 are free, lowest first
//
// Open does this automatically from the newest snapshot and the journal
// records written after it. Snapshots go to the registry directory by default
// or to any blobstore.Store (S3, MinIO) via WithCheckpointStore.
//
// # Concurrency
//
// Allocator is not safe for concurrent use. Guard adds a read/write lock;
// Registry is safe for concurrent use on its own.
//
// # Consistency
//
// A broken internal invariant panics with a *ConsistencyError. Scrub reports
// the same violations as an error without panicking, and Catch turns the
// panic into an error for tools that must keep running.
package idfreelist
