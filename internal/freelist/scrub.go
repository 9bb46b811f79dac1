package freelist

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/idfreelist/core"
)

// Scrub cross-checks the key index, the slot array, the back-references and
// the free chain. It is read-only and O(capacity) and returns the first
// violation found, or nil.
//
// While recovering the chain is not maintained, so only the key index and
// back-references are checked.
func (f *FreeList) Scrub() error {
	const op = "scrub"
	capacity := f.store.capacity()

	for key, e := range f.index.m {
		if e.key != key {
			return violation(op, "index entry %q holds key %q", key, e.key)
		}
		if !f.store.inRange(e.id) {
			return violation(op, "key %q maps to id %d beyond capacity %d", key, e.id, capacity)
		}
		if k := f.store.slots[e.id].kind; k != slotUsed {
			return violation(op, "key %q maps to id %d which is %s", key, e.id, k)
		}
		if f.store.refs[e.id] != e {
			return violation(op, "back-reference of id %d is not the handle of %q", e.id, key)
		}
	}

	var used, unused, terminals int
	for i, s := range f.store.slots {
		id := core.ID(i)
		ref := f.store.refs[i]
		switch s.kind {
		case slotUsed:
			if ref == nil {
				return violation(op, "used slot %d has no back-reference", id)
			}
			if ref.id != id {
				return violation(op, "used slot %d refers to a handle for id %d", id, ref.id)
			}
			if e, ok := f.index.get(ref.key); !ok || e != ref {
				return violation(op, "used slot %d refers to %q which the index does not own", id, ref.key)
			}
			used++
			continue
		case slotFreeLinked:
			if !f.recovering && !f.store.inRange(s.next) {
				return violation(op, "free slot %d links to %d beyond capacity %d", id, s.next, capacity)
			}
		case slotFreeTerminal:
			terminals++
		case slotUnlinked:
			if !f.recovering {
				return violation(op, "slot %d is an unlinked placeholder outside recovery", id)
			}
		default:
			return violation(op, "slot %d has invalid state %d", id, s.kind)
		}
		if ref != nil {
			return violation(op, "free slot %d still refers to %q", id, ref.key)
		}
		unused++
	}

	if used != f.index.len() {
		return violation(op, "%d used slots but %d indexed keys", used, f.index.len())
	}
	if used+unused != capacity {
		return violation(op, "%d used + %d free slots != capacity %d", used, unused, capacity)
	}
	if f.recovering {
		return nil
	}

	if unused != f.free {
		return violation(op, "%d free slots but free count %d", unused, f.free)
	}
	if terminals > 1 {
		return violation(op, "%d free-terminal slots", terminals)
	}
	return f.scrubChain()
}

// scrubChain walks the free chain from head and checks it visits exactly
// f.free distinct slots, ending at the terminal slot that is the tail.
func (f *FreeList) scrubChain() error {
	const op = "scrub"

	if f.free == 0 {
		if f.head != noID || f.tail != noID {
			return violation(op, "free count is 0 but chain is %d..%d", f.head, f.tail)
		}
		return nil
	}
	if f.head == noID || f.tail == noID {
		return violation(op, "free count %d but chain is %d..%d", f.free, f.head, f.tail)
	}

	visited := roaring.New()
	cur := f.head
	for {
		if !f.store.inRange(cur) {
			return violation(op, "chain reaches id %d beyond capacity %d", cur, f.store.capacity())
		}
		if !visited.CheckedAdd(uint32(cur)) {
			return violation(op, "chain revisits id %d", cur)
		}
		if visited.GetCardinality() > uint64(f.free) {
			return violation(op, "chain is longer than free count %d", f.free)
		}

		s := f.store.slots[cur]
		if s.kind == slotFreeTerminal {
			break
		}
		if s.kind != slotFreeLinked {
			return violation(op, "chain passes through %s slot %d", s.kind, cur)
		}
		cur = s.next
	}

	if cur != f.tail {
		return violation(op, "chain ends at %d but tail is %d", cur, f.tail)
	}
	if n := visited.GetCardinality(); n != uint64(f.free) {
		return violation(op, "chain visits %d slots but free count is %d", n, f.free)
	}
	return nil
}

func (f *FreeList) mustScrub() {
	if err := f.Scrub(); err != nil {
		panic(err)
	}
}
