package freelist

import "github.com/hupe1980/idfreelist/core"

// noID marks an empty head/tail. It is never a valid id (see core.MaxID).
const noID = ^core.ID(0)

type slotKind uint8

const (
	// slotUnlinked is a free placeholder created by recovery-mode growth.
	// FinishRecovery threads it onto the chain.
	slotUnlinked slotKind = iota
	slotFreeTerminal
	slotFreeLinked
	slotUsed
)

func (k slotKind) String() string {
	switch k {
	case slotUnlinked:
		return "unlinked"
	case slotFreeTerminal:
		return "free-terminal"
	case slotFreeLinked:
		return "free-linked"
	case slotUsed:
		return "used"
	default:
		return "invalid"
	}
}

// slot is the per-id state. next is only meaningful for slotFreeLinked.
type slot struct {
	kind slotKind
	next core.ID
}

func usedSlot() slot               { return slot{kind: slotUsed} }
func terminalSlot() slot           { return slot{kind: slotFreeTerminal} }
func linkedSlot(next core.ID) slot { return slot{kind: slotFreeLinked, next: next} }

// slotBytes is the accounted footprint of one reserved id: its state plus
// its back-reference.
const slotBytes = 16

// entry is the shared key handle. The key index owns it; a used slot's
// back-reference points at the very same entry.
type entry struct {
	key string
	id  core.ID
}

// slotStore is the id -> state array plus the parallel back-reference array.
//
// len(slots) is the addressable capacity. The backing arrays are reserved
// ahead of it in doubling steps, so extending by a few slots at a time stays
// amortized O(1).
type slotStore struct {
	slots []slot
	refs  []*entry
}

func (s *slotStore) capacity() int { return len(s.slots) }

func (s *slotStore) reserved() int { return cap(s.slots) }

func (s *slotStore) inRange(id core.ID) bool { return uint64(id) < uint64(len(s.slots)) }

// reserve reallocates the backing arrays to hold total slots.
// Existing ids keep their position and state.
func (s *slotStore) reserve(total int) {
	slots := make([]slot, len(s.slots), total)
	copy(slots, s.slots)
	refs := make([]*entry, len(s.refs), total)
	copy(refs, s.refs)
	s.slots, s.refs = slots, refs
}

// extend makes n more reserved slots addressable, as unlinked placeholders.
func (s *slotStore) extend(n int) {
	old := len(s.slots)
	s.slots = s.slots[:old+n]
	s.refs = s.refs[:old+n]
	clear(s.slots[old:])
	clear(s.refs[old:])
}

func (s *slotStore) bind(id core.ID, e *entry) {
	s.slots[id] = usedSlot()
	s.refs[id] = e
}

func (s *slotStore) unbind(id core.ID) {
	s.slots[id] = terminalSlot()
	s.refs[id] = nil
}
