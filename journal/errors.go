package journal

import "errors"

var (
	// ErrCorruptJournal is returned when a record does not decode, fails its
	// checksum, or contradicts the bindings replayed before it.
	ErrCorruptJournal = errors.New("corrupt journal")

	// ErrClosed is returned by operations on a closed journal.
	ErrClosed = errors.New("journal closed")
)
