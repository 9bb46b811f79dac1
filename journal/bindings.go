package journal

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/hupe1980/idfreelist/core"
)

// Bindings is the live key/id binding set folded from a snapshot and the
// journal records after it.
type Bindings struct {
	byID  map[core.ID]string
	byKey map[string]core.ID
}

// NewBindings returns an empty set sized for n bindings.
func NewBindings(n int) *Bindings {
	return &Bindings{
		byID:  make(map[core.ID]string, n),
		byKey: make(map[string]core.ID, n),
	}
}

// Bind adds id -> key. Re-adding the same pair is a no-op; an id or key that
// is already bound elsewhere is ErrCorruptJournal.
func (b *Bindings) Bind(id core.ID, key string) error {
	if id > core.MaxID {
		return fmt.Errorf("%w: id %d is reserved", ErrCorruptJournal, id)
	}
	if held, ok := b.byID[id]; ok {
		if held == key {
			return nil
		}
		return fmt.Errorf("%w: id %d bound to %q, record binds %q", ErrCorruptJournal, id, held, key)
	}
	if held, ok := b.byKey[key]; ok {
		return fmt.Errorf("%w: key %q bound to id %d, record binds %d", ErrCorruptJournal, key, held, id)
	}
	b.byID[id] = key
	b.byKey[key] = id
	return nil
}

// Release removes id -> key, which must be bound.
func (b *Bindings) Release(id core.ID, key string) error {
	held, ok := b.byID[id]
	if !ok || held != key {
		return fmt.Errorf("%w: release of %q at id %d which is not bound to it", ErrCorruptJournal, key, id)
	}
	delete(b.byID, id)
	delete(b.byKey, key)
	return nil
}

// Apply folds one journal record into the set.
func (b *Bindings) Apply(e Entry) error {
	switch e.Op {
	case OpBind:
		return b.Bind(e.ID, e.Key)
	case OpRelease:
		return b.Release(e.ID, e.Key)
	case OpCheckpoint:
		return nil
	default:
		return fmt.Errorf("%w: unknown op %v at seq %d", ErrCorruptJournal, e.Op, e.Seq)
	}
}

// Len returns the number of bindings.
func (b *Bindings) Len() int { return len(b.byID) }

// Lookup returns the id bound to key.
func (b *Bindings) Lookup(key string) (core.ID, bool) {
	id, ok := b.byKey[key]
	return id, ok
}

// MaxID returns the highest bound id.
func (b *Bindings) MaxID() (core.ID, bool) {
	var (
		hi    core.ID
		found bool
	)
	for id := range b.byID {
		if !found || id > hi {
			hi, found = id, true
		}
	}
	return hi, found
}

// Sorted returns the bindings in ascending id order.
func (b *Bindings) Sorted() []core.Binding {
	out := make([]core.Binding, 0, len(b.byID))
	for id, key := range b.byID {
		out = append(out, core.Binding{ID: id, Key: key})
	}
	slices.SortFunc(out, func(x, y core.Binding) int { return cmp.Compare(x.ID, y.ID) })
	return out
}

// ReplayBindings folds every record after seq into b.
func (j *Journal) ReplayBindings(seq uint64, b *Bindings) error {
	return j.ReplayAfter(seq, b.Apply)
}
