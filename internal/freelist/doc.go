// Package freelist implements a free-list id allocator with a bidirectional
// key <-> id mapping.
//
// Three structures are kept mutually consistent:
//
//   - the slot array, one tagged state per id (used, free-linked, free-terminal)
//   - the key index, the sole owner of each key's storage
//   - the back-reference array, pointing every used slot at the index entry
//     that owns it
//
// Released ids are appended to the tail of the free chain, so ids are recycled
// in FIFO order. When the chain is empty the slot array grows; existing ids are
// never relocated.
//
// # Recovery
//
// After a restart the allocator can be rebuilt from a replayed log:
//
//	fl.StartRecovery()
//	for _, b := range bindings { // any order, ids may exceed capacity
//	    if _, err := fl.Bind(b.ID, b.Key); err != nil { ... }
//	}
//	fl.FinishRecovery() // rebuilds the free chain in ascending id order
//
// # Concurrency
//
// A FreeList has no internal synchronization. Mutating calls must be
// serialized by the caller; read-only calls may run concurrently with each
// other but never with a mutation.
//
// # Failure model
//
// Unknown keys and ids are reported through comma-ok results. Misuse that
// would break the cross-structure invariants panics with a *ConsistencyError:
// recovery calls outside recovery, one id replayed under two keys, or releasing
// a slot that is not used. Replaying a bound key under another id keeps the
// existing binding. Only capacity expansion can fail with an ordinary error.
package freelist
