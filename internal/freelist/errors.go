package freelist

import (
	"errors"
	"fmt"
)

// ErrCapacityExhausted is returned when growth would push the id space past core.MaxID.
var ErrCapacityExhausted = errors.New("id space exhausted")

// ConsistencyError describes a broken cross-structure invariant.
//
// It is raised with panic by mutating operations and returned by Scrub.
type ConsistencyError struct {
	Op     string
	Reason string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("freelist: %s: consistency violation: %s", e.Op, e.Reason)
}

func violation(op, format string, args ...any) *ConsistencyError {
	return &ConsistencyError{Op: op, Reason: fmt.Sprintf(format, args...)}
}
