package freelist

import "github.com/hupe1980/idfreelist/core"

// keyIndex maps key -> entry. It owns the key storage.
type keyIndex struct {
	m map[string]*entry
}

func newKeyIndex(sizeHint int) keyIndex {
	return keyIndex{m: make(map[string]*entry, sizeHint)}
}

func (x *keyIndex) get(key string) (*entry, bool) {
	e, ok := x.m[key]
	return e, ok
}

func (x *keyIndex) insert(key string, id core.ID) *entry {
	e := &entry{key: key, id: id}
	x.m[key] = e
	return e
}

func (x *keyIndex) remove(key string) {
	delete(x.m, key)
}

func (x *keyIndex) len() int { return len(x.m) }
