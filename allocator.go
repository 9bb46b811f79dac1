package idfreelist

import (
	"context"
	"iter"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/idfreelist/core"
	"github.com/hupe1980/idfreelist/internal/freelist"
	"github.com/hupe1980/idfreelist/internal/resource"
)

// ID is a dense handle bound to a key while the key is live.
type ID = core.ID

// Binding pairs an id with its key.
type Binding = core.Binding

// MaxID is the largest id an Allocator hands out.
const MaxID = core.MaxID

// Allocator hands out the lowest free id for a key and recycles released ids
// in release order.
//
// An Allocator is not safe for concurrent use. Wrap it in a Guard, or use a
// Registry, when more than one goroutine needs it.
type Allocator struct {
	fl      *freelist.FreeList
	rc      *resource.Controller
	logger  *Logger
	metrics MetricsCollector

	recoveryStart time.Time
}

// New creates an empty Allocator.
func New(optFns ...Option) (*Allocator, error) {
	o := applyOptions(optFns)
	return newAllocator(&o, o.initialCapacity, o.controller())
}

func newAllocator(o *options, capacity int, rc *resource.Controller) (*Allocator, error) {
	a := &Allocator{
		rc:      rc,
		logger:  o.logger,
		metrics: o.metricsCollector,
	}

	cfg := freelist.Config{
		InitialCapacity: capacity,
		MinGrowth:       o.minGrowth,
		Logger:          o.logger.Logger,
		Paranoid:        o.paranoid,
		OnGrow:          a.onGrow,
	}
	if rc != nil {
		cfg.Budget = rc
	}

	fl, err := freelist.New(cfg)
	if err != nil {
		return nil, err
	}
	a.fl = fl
	return a, nil
}

func (a *Allocator) onGrow(oldCapacity, newCapacity int, recovering bool) {
	a.logger.LogGrow(context.Background(), oldCapacity, newCapacity, recovering)
	a.metrics.RecordGrow(oldCapacity, newCapacity)
}

// AssignID returns the id bound to key, binding a free id first if key is
// new. The only error is a refused growth (ErrCapacityExhausted or
// ErrMemoryLimitExceeded), in which case nothing changed.
func (a *Allocator) AssignID(key string) (ID, error) {
	start := time.Now()
	before := a.fl.Len()

	id, err := a.fl.Assign(key)
	fresh := err == nil && a.fl.Len() > before

	a.metrics.RecordAssign(time.Since(start), fresh, err)
	a.logger.LogAssign(context.Background(), key, id, fresh, err)
	return id, err
}

// ReleaseID unbinds key and returns the id it held. The id becomes the
// newest free id and is reissued after all ids freed before it.
func (a *Allocator) ReleaseID(key string) (ID, bool) {
	id, ok := a.fl.Release(key)
	a.metrics.RecordRelease(ok)
	a.logger.LogRelease(context.Background(), key, id, ok)
	return id, ok
}

// revokeID undoes the AssignID that bound key, leaving its id first in line
// for the next AssignID.
func (a *Allocator) revokeID(key string) {
	if id, ok := a.fl.Revoke(key); ok {
		a.logger.DebugContext(context.Background(), "assignment revoked", "key", key, "id", id)
	}
}

// MapKey returns the id bound to key.
func (a *Allocator) MapKey(key string) (ID, bool) {
	return a.fl.Lookup(key)
}

// ReverseMapID returns the key bound to id.
func (a *Allocator) ReverseMapID(id ID) (string, bool) {
	return a.fl.Reverse(id)
}

// StartRecovery enters recovery mode. Until FinishRecovery only RecoverID,
// the lookups and Scrub may be called.
func (a *Allocator) StartRecovery() {
	a.recoveryStart = time.Now()
	a.fl.StartRecovery()
}

// RecoverID binds key to the given id while recovering, growing capacity to
// cover it. A key that is already bound keeps its id, which RecoverID
// returns.
//
// The id is trusted: an id near MaxID makes the allocator reserve slots up to
// it. Replaying input that may be corrupt needs WithMemoryLimit to turn that
// into ErrMemoryLimitExceeded.
func (a *Allocator) RecoverID(id ID, key string) (ID, error) {
	return a.fl.Bind(id, key)
}

// FinishRecovery rebuilds the free chain in ascending id order and leaves
// recovery mode.
func (a *Allocator) FinishRecovery() {
	a.fl.FinishRecovery()
	elapsed := time.Since(a.recoveryStart)
	a.metrics.RecordRecovery(a.fl.Len(), elapsed)
	a.logger.LogRecovery(context.Background(), a.fl.Len(), elapsed, nil)
}

// Recovering reports whether the allocator is in recovery mode.
func (a *Allocator) Recovering() bool { return a.fl.Recovering() }

// Scrub walks the whole state and returns the first structural violation
// found, or nil.
func (a *Allocator) Scrub() error {
	return a.fl.Scrub()
}

// Len returns the number of bound keys.
func (a *Allocator) Len() int { return a.fl.Len() }

// Capacity returns the number of addressable ids.
func (a *Allocator) Capacity() int { return a.fl.Capacity() }

// All iterates the bindings in ascending id order.
func (a *Allocator) All() iter.Seq2[ID, string] { return a.fl.All() }

// UsedIDs returns the bound ids.
func (a *Allocator) UsedIDs() *roaring.Bitmap { return a.fl.UsedIDs() }

// FreeIDs returns the addressable ids that are not bound.
func (a *Allocator) FreeIDs() *roaring.Bitmap { return a.fl.FreeIDs() }

// Stats describes allocator occupancy.
type Stats struct {
	Capacity    int           `json:"capacity"`
	Reserved    int           `json:"reserved"`
	Bound       int           `json:"bound"`
	Free        int           `json:"free"`
	Head        *ID           `json:"head,omitempty"`
	Tail        *ID           `json:"tail,omitempty"`
	Recovering  bool          `json:"recovering"`
	MemoryUsed  int64         `json:"memory_used"`
	MemoryPeak  int64         `json:"memory_peak"`
	MemoryLimit int64         `json:"memory_limit,omitempty"`
	Journal     *JournalStats `json:"journal,omitempty"`
}

// JournalStats describes a Registry journal.
type JournalStats struct {
	Path       string `json:"path"`
	BaseSeq    uint64 `json:"base_seq"`
	Seq        uint64 `json:"seq"`
	Records    int    `json:"records"`
	Bytes      int64  `json:"bytes"`
	Compressed bool   `json:"compressed"`
	Checkpoint string `json:"checkpoint,omitempty"`
}

// Stats returns occupancy figures.
func (a *Allocator) Stats() Stats {
	s := Stats{
		Capacity:    a.fl.Capacity(),
		Reserved:    a.fl.Reserved(),
		Bound:       a.fl.Len(),
		Free:        a.fl.Free(),
		Recovering:  a.fl.Recovering(),
		MemoryUsed:  a.rc.MemoryUsage(),
		MemoryPeak:  a.rc.MemoryPeak(),
		MemoryLimit: a.rc.MemoryLimit(),
	}
	if id, ok := a.fl.Head(); ok {
		s.Head = &id
	}
	if id, ok := a.fl.Tail(); ok {
		s.Tail = &id
	}
	return s
}

// Close returns the reserved memory to the budget. The Allocator must not be
// used afterwards.
func (a *Allocator) Close() {
	a.fl.Close()
}
