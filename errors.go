package idfreelist

import (
	"errors"
	"fmt"

	"github.com/hupe1980/idfreelist/blobstore"
	"github.com/hupe1980/idfreelist/checkpoint"
	"github.com/hupe1980/idfreelist/internal/freelist"
	"github.com/hupe1980/idfreelist/internal/resource"
	"github.com/hupe1980/idfreelist/journal"
)

var (
	// ErrCapacityExhausted is returned when every id up to MaxID is bound.
	ErrCapacityExhausted = freelist.ErrCapacityExhausted

	// ErrMemoryLimitExceeded is returned when the memory budget refuses a growth.
	ErrMemoryLimitExceeded = resource.ErrMemoryLimitExceeded

	// ErrCorruptJournal is returned when the journal does not decode or
	// contradicts the snapshot it continues.
	ErrCorruptJournal = journal.ErrCorruptJournal

	// ErrCorruptCheckpoint is returned when a snapshot fails verification.
	ErrCorruptCheckpoint = checkpoint.ErrCorrupt

	// ErrNotFound is returned for missing blobs.
	ErrNotFound = blobstore.ErrNotFound

	// ErrClosed is returned by operations on a closed Registry.
	ErrClosed = errors.New("registry closed")
)

// ConsistencyError is the panic value raised when allocator state breaks one
// of its structural invariants. The state must be discarded.
type ConsistencyError = freelist.ConsistencyError

// Catch runs fn and converts a ConsistencyError panic into an error. Any other
// panic is re-raised.
func Catch(fn func()) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		var ce *ConsistencyError
		if e, ok := r.(error); ok && errors.As(e, &ce) {
			err = ce
			return
		}
		panic(r)
	}()
	fn()
	return nil
}

// RecoveryError reports a failed Open. Seq is the snapshot sequence number
// recovery started from.
type RecoveryError struct {
	Dir   string
	Seq   uint64
	cause error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("recovery of %s from seq %d failed: %v", e.Dir, e.Seq, e.cause)
}

func (e *RecoveryError) Unwrap() error { return e.cause }
