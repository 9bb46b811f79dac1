package idfreelist

import "sync"

// Guard serializes access to an Allocator.
//
// Update holds the lock exclusively and is required for AssignID, ReleaseID
// and recovery. View holds it shared and admits MapKey, ReverseMapID, Stats
// and Scrub only; Scrub never mutates state.
type Guard struct {
	mu sync.RWMutex
	a  *Allocator
}

// NewGuard wraps a. The caller must not use a directly afterwards.
func NewGuard(a *Allocator) *Guard {
	return &Guard{a: a}
}

// Update runs fn with exclusive access.
func (g *Guard) Update(fn func(a *Allocator) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(g.a)
}

// View runs fn with shared access. fn must not mutate the allocator.
func (g *Guard) View(fn func(a *Allocator) error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(g.a)
}

// AssignID is Update with a single AssignID.
func (g *Guard) AssignID(key string) (ID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.a.AssignID(key)
}

// ReleaseID is Update with a single ReleaseID.
func (g *Guard) ReleaseID(key string) (ID, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.a.ReleaseID(key)
}

// MapKey is View with a single MapKey.
func (g *Guard) MapKey(key string) (ID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.a.MapKey(key)
}

// ReverseMapID is View with a single ReverseMapID.
func (g *Guard) ReverseMapID(id ID) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.a.ReverseMapID(id)
}
