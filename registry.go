package idfreelist

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/hupe1980/idfreelist/blobstore"
	"github.com/hupe1980/idfreelist/checkpoint"
	"github.com/hupe1980/idfreelist/internal/resource"
	"github.com/hupe1980/idfreelist/journal"
	"golang.org/x/sync/errgroup"
)

// Registry is a durable Allocator: every binding change is journaled before
// it is acknowledged, and Open rebuilds the allocator from the latest
// snapshot plus the journal records after it.
//
// Registry methods are safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	dir     string
	alloc   *Allocator
	journal *journal.Journal
	ckpt    *checkpoint.Manager
	logger  *Logger
	metrics MetricsCollector

	autoCheckpoint bool
	lastCheckpoint string
	closed         bool
}

// Open opens or creates the registry in dir.
//
// Snapshots live in dir unless WithCheckpointStore names another store.
func Open(ctx context.Context, dir string, optFns ...Option) (*Registry, error) {
	o := applyOptions(optFns)
	rc := o.controller()
	logger := o.logger.WithDir(dir)

	store := o.checkpointStore
	if store == nil {
		store = blobstore.NewLocalStore(dir)
	}
	ckpt := checkpoint.NewManager(store, append([]func(*checkpoint.Options){
		func(co *checkpoint.Options) {
			co.Controller = rc
			co.Logger = logger.Logger
		},
	}, o.checkpointOptions...)...)

	var (
		snap *checkpoint.Snapshot
		name string
		j    *journal.Journal
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		name, err = ckpt.Current(gctx)
		if err != nil || name == "" {
			return err
		}
		snap, _, err = ckpt.Read(gctx, name)
		return err
	})
	g.Go(func() error {
		var err error
		j, err = journal.New(append(o.journalOptions, func(jo *journal.Options) {
			jo.Path = dir
			if jo.Logger == nil {
				jo.Logger = logger.Logger
			}
		})...)
		return err
	})
	if err := g.Wait(); err != nil {
		if j != nil {
			_ = j.Close()
		}
		return nil, &RecoveryError{Dir: dir, cause: err}
	}

	r := &Registry{
		dir:            dir,
		journal:        j,
		ckpt:           ckpt,
		logger:         logger,
		metrics:        o.metricsCollector,
		autoCheckpoint: o.autoCheckpoint,
		lastCheckpoint: name,
	}

	alloc, err := r.recover(ctx, &o, rc, snap)
	if err != nil {
		_ = j.Close()
		var seq uint64
		if snap != nil {
			seq = snap.Seq
		}
		return nil, &RecoveryError{Dir: dir, Seq: seq, cause: err}
	}
	r.alloc = alloc
	return r, nil
}

// recover folds the snapshot and the journal tail into the live binding set
// and replays it into a fresh allocator.
func (r *Registry) recover(ctx context.Context, o *options, rc *resource.Controller, snap *checkpoint.Snapshot) (*Allocator, error) {
	var (
		seq      uint64
		capacity = o.initialCapacity
		bindings = journal.NewBindings(0)
	)
	if snap != nil {
		seq = snap.Seq
		capacity = max(capacity, snap.Capacity)
		bindings = journal.NewBindings(len(snap.Bindings))
		for _, b := range snap.Bindings {
			if err := bindings.Bind(b.ID, b.Key); err != nil {
				return nil, err
			}
		}
	}

	if base := r.journal.BaseSeq(); base > seq+1 {
		return nil, fmt.Errorf("%w: journal starts after seq %d but the snapshot covers only %d",
			ErrCorruptJournal, base, seq)
	}
	if r.journal.Seq() < seq {
		r.logger.WarnContext(ctx, "journal is behind the snapshot",
			"journal_seq", r.journal.Seq(),
			"snapshot_seq", seq,
		)
		if err := r.journal.Rebase(seq); err != nil {
			return nil, err
		}
	}
	if err := r.journal.ReplayBindings(seq, bindings); err != nil {
		return nil, err
	}

	alloc, err := newAllocator(o, capacity, rc)
	if err != nil {
		return nil, err
	}

	var bindErr error
	err = Catch(func() {
		alloc.StartRecovery()
		for _, b := range bindings.Sorted() {
			if _, bindErr = alloc.RecoverID(b.ID, b.Key); bindErr != nil {
				return
			}
		}
		alloc.FinishRecovery()
	})
	if err == nil {
		err = bindErr
	}
	if err != nil {
		alloc.Close()
		return nil, err
	}
	return alloc, nil
}

// Assign returns the id bound to key, binding and journaling a free id if
// key is new. It returns once the bind record is durable under the journal's
// durability mode; other callers proceed while it waits.
//
// If the bind record cannot be appended, the id goes back to the head of the
// free list and the next Assign receives it. Slots grown for it stay
// addressable.
func (r *Registry) Assign(ctx context.Context, key string) (ID, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrClosed
	}
	_, bound := r.alloc.MapKey(key)

	id, err := r.alloc.AssignID(key)
	if err != nil || bound {
		r.mu.Unlock()
		return id, err
	}
	seq, err := r.journal.AppendBind(id, key)
	if err != nil {
		r.alloc.revokeID(key)
		r.mu.Unlock()
		return 0, fmt.Errorf("failed to journal binding of %q: %w", key, err)
	}
	r.maybeCheckpointLocked(ctx)
	r.mu.Unlock()

	if err := r.journal.WaitDurable(seq); err != nil {
		return 0, fmt.Errorf("binding of %q is not durable: %w", key, err)
	}
	return id, nil
}

// Release unbinds key and returns the id it held. The release record is
// appended before the allocator changes.
func (r *Registry) Release(ctx context.Context, key string) (ID, bool, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, false, ErrClosed
	}
	id, ok := r.alloc.MapKey(key)
	if !ok {
		r.mu.Unlock()
		return 0, false, nil
	}
	seq, err := r.journal.AppendRelease(id, key)
	if err != nil {
		r.mu.Unlock()
		return 0, false, fmt.Errorf("failed to journal release of %q: %w", key, err)
	}
	r.alloc.ReleaseID(key)
	r.maybeCheckpointLocked(ctx)
	r.mu.Unlock()

	if err := r.journal.WaitDurable(seq); err != nil {
		return id, true, fmt.Errorf("release of %q is not durable: %w", key, err)
	}
	return id, true, nil
}

// Lookup returns the id bound to key.
func (r *Registry) Lookup(key string) (ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return 0, false
	}
	return r.alloc.MapKey(key)
}

// Reverse returns the key bound to id.
func (r *Registry) Reverse(id ID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return "", false
	}
	return r.alloc.ReverseMapID(id)
}

// All iterates the bindings in ascending id order. The registry is read
// locked for the duration of the iteration.
func (r *Registry) All() iter.Seq2[ID, string] {
	return func(yield func(ID, string) bool) {
		r.mu.RLock()
		defer r.mu.RUnlock()
		if r.closed {
			return
		}
		for id, key := range r.alloc.All() {
			if !yield(id, key) {
				return
			}
		}
	}
}

// Checkpoint writes a snapshot of the live bindings and truncates the
// journal. It returns the snapshot name.
func (r *Registry) Checkpoint(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrClosed
	}
	return r.checkpointLocked(ctx)
}

func (r *Registry) checkpointLocked(ctx context.Context) (string, error) {
	start := time.Now()

	snap := &checkpoint.Snapshot{
		Seq:      r.journal.Seq(),
		Capacity: r.alloc.Capacity(),
		Bindings: make([]Binding, 0, r.alloc.Len()),
	}
	for id, key := range r.alloc.All() {
		snap.Bindings = append(snap.Bindings, Binding{ID: id, Key: key})
	}

	name, err := r.ckpt.Write(ctx, snap)
	if err == nil {
		// The snapshot is durable; a failure here only leaves a longer journal.
		if _, jerr := r.journal.Checkpoint(); jerr != nil {
			err = fmt.Errorf("checkpoint %s written but journal not truncated: %w", name, jerr)
		}
		r.lastCheckpoint = name
	}

	r.metrics.RecordCheckpoint(time.Since(start), err)
	r.logger.LogCheckpoint(ctx, name, len(snap.Bindings), err)
	return name, err
}

func (r *Registry) maybeCheckpointLocked(ctx context.Context) {
	if !r.autoCheckpoint || !r.journal.CheckpointDue() {
		return
	}
	// Errors are logged by checkpointLocked; the triggering call already
	// succeeded.
	_, _ = r.checkpointLocked(context.WithoutCancel(ctx))
}

// Stats returns allocator and journal figures.
func (r *Registry) Stats() (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return Stats{}, ErrClosed
	}
	s := r.alloc.Stats()
	s.Journal = &JournalStats{
		Path:       r.journal.Path(),
		BaseSeq:    r.journal.BaseSeq(),
		Seq:        r.journal.Seq(),
		Records:    r.journal.Records(),
		Bytes:      r.journal.Size(),
		Compressed: r.journal.Compressed(),
		Checkpoint: r.lastCheckpoint,
	}
	return s, nil
}

// Scrub verifies the allocator state.
func (r *Registry) Scrub() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrClosed
	}
	return r.alloc.Scrub()
}

// Dir returns the registry directory.
func (r *Registry) Dir() string { return r.dir }

// Close flushes and closes the journal. It is safe to call more than once.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	err := r.journal.Close()
	r.alloc.Close()
	if errors.Is(err, journal.ErrClosed) {
		err = nil
	}
	return err
}
