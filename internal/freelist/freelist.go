package freelist

import (
	"iter"
	"log/slog"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/idfreelist/core"
)

// DefaultMinGrowth is the smallest number of slots reserved by a single reallocation.
const DefaultMinGrowth = 16

// Budget reserves memory for slot growth.
// resource.Controller satisfies it.
type Budget interface {
	AcquireMemory(bytes int64) error
	ReleaseMemory(bytes int64)
}

// GrowFunc observes a completed growth.
type GrowFunc func(oldCapacity, newCapacity int, recovering bool)

// Config configures a FreeList.
type Config struct {
	// InitialCapacity is the number of ids threaded onto the free chain at
	// construction. May be 0.
	InitialCapacity int

	// MinGrowth is the minimum number of slots reserved by one reallocation.
	// Defaults to DefaultMinGrowth.
	MinGrowth int

	// Logger receives growth and recovery events. Nil discards them.
	Logger *slog.Logger

	// Budget, if set, is charged before every growth. A refusal surfaces as an
	// error from Assign or Bind and leaves the list unchanged.
	Budget Budget

	// OnGrow is invoked after every successful growth.
	OnGrow GrowFunc

	// Paranoid runs Scrub after every growth and after FinishRecovery and
	// panics on the first violation.
	Paranoid bool
}

// FreeList is the allocator state. See the package documentation for the
// concurrency contract.
type FreeList struct {
	store slotStore
	index keyIndex

	head core.ID
	tail core.ID
	free int

	recovering bool

	minGrowth int
	logger    *slog.Logger
	budget    Budget
	onGrow    GrowFunc
	paranoid  bool

	reservedBytes int64
}

// New creates a FreeList with cfg.InitialCapacity threaded free slots.
func New(cfg Config) (*FreeList, error) {
	if cfg.MinGrowth <= 0 {
		cfg.MinGrowth = DefaultMinGrowth
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	f := &FreeList{
		index:     newKeyIndex(cfg.InitialCapacity),
		head:      noID,
		tail:      noID,
		minGrowth: cfg.MinGrowth,
		logger:    cfg.Logger,
		budget:    cfg.Budget,
		onGrow:    cfg.OnGrow,
		paranoid:  cfg.Paranoid,
	}

	if cfg.InitialCapacity > 0 {
		if err := f.grow(cfg.InitialCapacity); err != nil {
			return nil, err
		}
	}

	f.logger.Debug("free list created", "capacity", f.store.capacity())
	return f, nil
}

// Assign returns the id bound to key, binding the lowest id at the head of the
// free chain if key is new. Assigning a known key is idempotent.
//
// The only error is a failed growth; the list is unchanged in that case.
func (f *FreeList) Assign(key string) (core.ID, error) {
	if e, ok := f.index.get(key); ok {
		f.checkHandle("assign", e)
		return e.id, nil
	}
	if f.recovering {
		panic(violation("assign", "normal assign of %q while recovering", key))
	}

	if f.free == 0 {
		if f.head != noID || f.tail != noID {
			panic(violation("assign", "free count is 0 but chain is %d..%d", f.head, f.tail))
		}
		if err := f.grow(1); err != nil {
			return 0, err
		}
	}

	id := f.head
	if id == noID {
		panic(violation("assign", "free count %d but chain is empty", f.free))
	}

	switch s := f.store.slots[id]; s.kind {
	case slotFreeLinked:
		f.head = s.next
	case slotFreeTerminal:
		if id != f.tail {
			panic(violation("assign", "terminal slot %d is not the tail %d", id, f.tail))
		}
		f.head, f.tail = noID, noID
	default:
		panic(violation("assign", "head %d is %s", id, s.kind))
	}

	f.store.bind(id, f.index.insert(key, id))
	f.free--

	if f.head == noID && f.free != 0 {
		panic(violation("assign", "chain drained with free count %d", f.free))
	}

	f.logger.Debug("id assigned", "key", key, "id", id)
	return id, nil
}

// Release unbinds key and appends its id to the tail of the free chain.
// It reports false if key is not bound.
func (f *FreeList) Release(key string) (core.ID, bool) {
	e, ok := f.index.get(key)
	if !ok {
		return 0, false
	}
	if f.recovering {
		panic(violation("release", "release of %q while recovering", key))
	}

	id := e.id
	f.checkHandle("release", e)
	if f.free >= f.store.capacity() {
		panic(violation("release", "free count %d with a bound key at capacity %d", f.free, f.store.capacity()))
	}

	f.index.remove(key)
	f.store.unbind(id)

	if f.tail != noID {
		if f.store.slots[f.tail].kind != slotFreeTerminal {
			panic(violation("release", "tail %d is %s", f.tail, f.store.slots[f.tail].kind))
		}
		f.store.slots[f.tail] = linkedSlot(id)
	} else {
		if f.head != noID || f.free != 0 {
			panic(violation("release", "no tail but head %d and free count %d", f.head, f.free))
		}
		f.head = id
	}
	f.tail = id
	f.free++

	f.logger.Debug("id released", "key", key, "id", id)
	return id, true
}

// Revoke undoes the Assign that bound key by pushing its id back onto the
// head of the free chain, so the next Assign hands out the same id again.
// Slots added by that Assign's growth stay addressable.
// It reports false if key is not bound.
func (f *FreeList) Revoke(key string) (core.ID, bool) {
	e, ok := f.index.get(key)
	if !ok {
		return 0, false
	}
	if f.recovering {
		panic(violation("revoke", "revoke of %q while recovering", key))
	}

	id := e.id
	f.checkHandle("revoke", e)

	f.index.remove(key)
	if f.head == noID {
		if f.tail != noID || f.free != 0 {
			panic(violation("revoke", "no head but tail %d and free count %d", f.tail, f.free))
		}
		f.store.unbind(id)
		f.tail = id
	} else {
		f.store.refs[id] = nil
		f.store.slots[id] = linkedSlot(f.head)
	}
	f.head = id
	f.free++

	f.logger.Debug("id revoked", "key", key, "id", id)
	return id, true
}

// Lookup returns the id bound to key.
func (f *FreeList) Lookup(key string) (core.ID, bool) {
	e, ok := f.index.get(key)
	if !ok {
		return 0, false
	}
	return e.id, true
}

// Reverse returns the key bound to id.
func (f *FreeList) Reverse(id core.ID) (string, bool) {
	if !f.store.inRange(id) || f.store.slots[id].kind != slotUsed {
		return "", false
	}
	e := f.store.refs[id]
	if e == nil {
		panic(violation("reverse", "used slot %d has no back-reference", id))
	}
	return e.key, true
}

// checkHandle verifies that e is the live handle of a used slot.
func (f *FreeList) checkHandle(op string, e *entry) {
	if !f.store.inRange(e.id) {
		panic(violation(op, "key %q maps to id %d beyond capacity %d", e.key, e.id, f.store.capacity()))
	}
	if k := f.store.slots[e.id].kind; k != slotUsed {
		panic(violation(op, "key %q maps to id %d which is %s", e.key, e.id, k))
	}
	if f.store.refs[e.id] != e {
		panic(violation(op, "back-reference of id %d is not the handle of %q", e.id, e.key))
	}
}

// Capacity returns the number of addressable ids.
func (f *FreeList) Capacity() int { return f.store.capacity() }

// Reserved returns the number of slots the backing arrays can hold without
// reallocating.
func (f *FreeList) Reserved() int { return f.store.reserved() }

// Len returns the number of bound keys.
func (f *FreeList) Len() int { return f.index.len() }

// Free returns the number of unbound slots. It is only maintained outside recovery.
func (f *FreeList) Free() int { return f.free }

// Recovering reports whether the list is between StartRecovery and FinishRecovery.
func (f *FreeList) Recovering() bool { return f.recovering }

// Head returns the next id Assign would hand out for a new key.
func (f *FreeList) Head() (core.ID, bool) {
	if f.head == noID {
		return 0, false
	}
	return f.head, true
}

// Tail returns the most recently freed id.
func (f *FreeList) Tail() (core.ID, bool) {
	if f.tail == noID {
		return 0, false
	}
	return f.tail, true
}

// All yields every binding in ascending id order.
func (f *FreeList) All() iter.Seq2[core.ID, string] {
	return func(yield func(core.ID, string) bool) {
		for i, s := range f.store.slots {
			if s.kind != slotUsed {
				continue
			}
			if !yield(core.ID(i), f.store.refs[i].key) {
				return
			}
		}
	}
}

// UsedIDs returns the set of bound ids.
func (f *FreeList) UsedIDs() *roaring.Bitmap {
	bm := roaring.New()
	for i, s := range f.store.slots {
		if s.kind == slotUsed {
			bm.Add(uint32(i))
		}
	}
	return bm
}

// FreeIDs returns the set of unbound ids.
func (f *FreeList) FreeIDs() *roaring.Bitmap {
	bm := roaring.New()
	bm.AddRange(0, uint64(f.store.capacity()))
	bm.AndNot(f.UsedIDs())
	return bm
}

// Close returns the memory reserved from the budget. The list must not be
// used afterwards.
func (f *FreeList) Close() {
	if f.budget != nil && f.reservedBytes > 0 {
		f.budget.ReleaseMemory(f.reservedBytes)
	}
	f.reservedBytes = 0
	f.logger.Debug("free list closed", "capacity", f.store.capacity())
}
