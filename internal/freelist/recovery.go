package freelist

import "github.com/hupe1980/idfreelist/core"

// StartRecovery switches the list into recovery mode.
func (f *FreeList) StartRecovery() {
	if f.recovering {
		panic(violation("start recovery", "already recovering"))
	}
	f.recovering = true
	f.logger.Info("recovery started", "capacity", f.store.capacity(), "bound", f.index.len())
}

// Bind binds id to key while recovering, growing the slot array if id is
// beyond capacity. A key that is already bound keeps its id, which Bind
// returns, so replaying a binding twice is a no-op.
//
// Binding an id that holds another key means the replayed log is corrupt and
// panics.
func (f *FreeList) Bind(id core.ID, key string) (core.ID, error) {
	if !f.recovering {
		panic(violation("bind", "bind of id %d outside recovery", id))
	}
	if id > core.MaxID {
		panic(violation("bind", "id %d is reserved", id))
	}

	if e, ok := f.index.get(key); ok {
		if e.id != id {
			f.logger.Debug("key exists with another id", "key", key, "id", e.id, "replayed_id", id)
		} else {
			f.logger.Debug("binding already replayed", "key", key, "id", id)
		}
		return e.id, nil
	}

	if !f.store.inRange(id) {
		if err := f.grow(int(id) + 1 - f.store.capacity()); err != nil {
			return 0, err
		}
	}

	if f.store.slots[id].kind == slotUsed {
		e := f.store.refs[id]
		if e == nil {
			panic(violation("bind", "used slot %d has no back-reference", id))
		}
		panic(violation("bind", "id %d is bound to %q, replay binds it to %q", id, e.key, key))
	}

	f.store.bind(id, f.index.insert(key, id))
	f.logger.Debug("binding replayed", "key", key, "id", id)
	return id, nil
}

// FinishRecovery rebuilds the free chain from every unbound slot in ascending
// id order and leaves recovery mode.
func (f *FreeList) FinishRecovery() {
	if !f.recovering {
		panic(violation("finish recovery", "not recovering"))
	}

	f.relink()
	f.recovering = false

	f.logger.Info("recovery finished",
		"capacity", f.store.capacity(),
		"bound", f.index.len(),
		"free", f.free,
	)
	if f.paranoid {
		f.mustScrub()
	}
}

// relink threads every non-used slot, lowest id first.
func (f *FreeList) relink() {
	f.head, f.tail, f.free = noID, noID, 0

	for i, s := range f.store.slots {
		if s.kind == slotUsed {
			continue
		}
		id := core.ID(i)
		if f.tail == noID {
			f.head = id
		} else {
			f.store.slots[f.tail] = linkedSlot(id)
		}
		f.tail = id
		f.free++
	}

	if f.tail != noID {
		f.store.slots[f.tail] = terminalSlot()
	}
}
