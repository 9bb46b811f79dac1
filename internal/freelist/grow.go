package freelist

import (
	"fmt"

	"github.com/hupe1980/idfreelist/core"
)

// maxCapacity is the number of addressable ids (0..core.MaxID).
const maxCapacity = uint64(core.MaxID) + 1

// reserveStep returns how many slots to reserve when the backing arrays
// cannot hold requested more: the reservation doubles, but never by less than
// minGrowth.
func (f *FreeList) reserveStep(requested int) int {
	return max(requested, f.minGrowth, f.store.reserved())
}

// grow makes requested more ids addressable.
//
// In normal mode the new slots are threaded onto the tail of the free chain.
// While recovering they stay unlinked until FinishRecovery, since replayed
// bindings may still land anywhere in the new region.
func (f *FreeList) grow(requested int) error {
	old := f.store.capacity()
	if uint64(old)+uint64(requested) > maxCapacity {
		return fmt.Errorf("grow by %d slots at capacity %d: %w", requested, old, ErrCapacityExhausted)
	}
	if !f.recovering && f.free != 0 {
		panic(violation("grow", "normal growth with %d free slots", f.free))
	}

	if f.store.reserved()-old < requested {
		if err := f.reserve(requested); err != nil {
			return err
		}
	}

	f.store.extend(requested)
	newCap := old + requested

	if !f.recovering {
		for i := old; i < newCap-1; i++ {
			f.store.slots[i] = linkedSlot(core.ID(i + 1))
		}
		f.store.slots[newCap-1] = terminalSlot()

		if f.tail != noID {
			f.store.slots[f.tail] = linkedSlot(core.ID(old))
		} else {
			f.head = core.ID(old)
		}
		f.tail = core.ID(newCap - 1)
		f.free += requested
	}

	f.logger.Debug("free list grown",
		"old_capacity", old,
		"new_capacity", newCap,
		"recovering", f.recovering,
	)
	if f.onGrow != nil {
		f.onGrow(old, newCap, f.recovering)
	}
	if f.paranoid {
		f.mustScrub()
	}
	return nil
}

// reserve reallocates the backing arrays with room for at least requested
// more slots, charging the budget for the difference.
func (f *FreeList) reserve(requested int) error {
	prev := f.store.reserved()
	total := uint64(prev) + uint64(f.reserveStep(requested))
	total = min(total, maxCapacity)

	bytes := int64(total-uint64(prev)) * slotBytes
	if f.budget != nil {
		if err := f.budget.AcquireMemory(bytes); err != nil {
			return fmt.Errorf("reserve %d slots at capacity %d: %w", total, f.store.capacity(), err)
		}
		f.reservedBytes += bytes
	}

	f.store.reserve(int(total))
	f.logger.Info("free list reserved",
		"capacity", f.store.capacity(),
		"reserved", total,
		"bytes", bytes,
	)
	return nil
}
