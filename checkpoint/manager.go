package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hupe1980/idfreelist/blobstore"
	"github.com/hupe1980/idfreelist/internal/resource"
)

const (
	// CurrentName is the pointer blob naming the newest snapshot.
	CurrentName = "CURRENT"
	// Dir holds the snapshot blobs.
	Dir = "checkpoints/"

	suffix = ".ckpt"
)

// Options configures a Manager.
type Options struct {
	// Compression of the record block. Default: CompressionLZ4.
	Compression Compression
	// Retain is the number of snapshots kept after a successful Write,
	// the new one included. Values below 1 keep 1. Default: 2.
	Retain int
	// Controller paces snapshot reads and writes. Nil disables pacing.
	Controller *resource.Controller
	// Logger receives checkpoint events. Nil discards them.
	Logger *slog.Logger
}

// DefaultOptions are the Manager defaults.
var DefaultOptions = Options{
	Compression: CompressionLZ4,
	Retain:      2,
}

// Manager writes and loads snapshots in a blob store.
// It is not safe for concurrent Writes.
type Manager struct {
	store blobstore.Store
	opts  Options
}

// NewManager returns a Manager over store.
func NewManager(store blobstore.Store, optFns ...func(o *Options)) *Manager {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Retain < 1 {
		opts.Retain = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{store: store, opts: opts}
}

// Store returns the underlying blob store.
func (m *Manager) Store() blobstore.Store { return m.store }

// Name returns the blob name of the snapshot taken at seq.
func Name(seq uint64) string {
	return fmt.Sprintf("%s%020d%s", Dir, seq, suffix)
}

// ParseName returns the sequence number encoded in a snapshot name.
func ParseName(name string) (uint64, bool) {
	s, ok := strings.CutPrefix(name, Dir)
	if !ok {
		return 0, false
	}
	s, ok = strings.CutSuffix(s, suffix)
	if !ok {
		return 0, false
	}
	seq, err := strconv.ParseUint(s, 10, 64)
	return seq, err == nil
}

// Write stores s, points CURRENT at it and prunes old snapshots. It returns
// the snapshot's name.
func (m *Manager) Write(ctx context.Context, s *Snapshot) (string, error) {
	var buf bytes.Buffer
	w := resource.NewRateLimitedWriter(ctx, &buf, m.opts.Controller)
	if _, err := Encode(w, s, m.opts.Compression); err != nil {
		return "", err
	}

	name := Name(s.Seq)
	if err := m.store.Put(ctx, name, buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to store checkpoint %s: %w", name, err)
	}
	if err := m.store.Put(ctx, CurrentName, []byte(name)); err != nil {
		return "", fmt.Errorf("failed to publish checkpoint %s: %w", name, err)
	}

	m.opts.Logger.Info("checkpoint written",
		"name", name,
		"seq", s.Seq,
		"bindings", len(s.Bindings),
		"bytes", buf.Len(),
	)

	m.prune(ctx, name)
	return name, nil
}

// prune deletes all but the newest Retain snapshots. current is never
// deleted. Failures are logged; a leftover snapshot is harmless.
func (m *Manager) prune(ctx context.Context, current string) {
	names, err := m.List(ctx)
	if err != nil {
		m.opts.Logger.Warn("failed to list checkpoints for pruning", "error", err)
		return
	}
	if len(names) <= m.opts.Retain {
		return
	}
	for _, name := range names[:len(names)-m.opts.Retain] {
		if name == current {
			continue
		}
		if err := m.store.Delete(ctx, name); err != nil {
			m.opts.Logger.Warn("failed to delete old checkpoint", "name", name, "error", err)
			continue
		}
		m.opts.Logger.Debug("old checkpoint deleted", "name", name)
	}
}

// List returns the stored snapshot names, oldest first.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	names, err := m.store.List(ctx, Dir)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, name := range names {
		if _, ok := ParseName(name); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// Current returns the name CURRENT points at, or "" if nothing was
// published yet.
func (m *Manager) Current(ctx context.Context) (string, error) {
	data, err := blobstore.ReadAll(ctx, m.store, CurrentName)
	if errors.Is(err, blobstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", CurrentName, err)
	}
	name := strings.TrimSpace(string(data))
	if _, ok := ParseName(name); !ok {
		return "", fmt.Errorf("%w: %s points at %q", ErrCorrupt, CurrentName, name)
	}
	return name, nil
}

// Latest loads the snapshot CURRENT points at. It returns nil, nil if there
// is none.
func (m *Manager) Latest(ctx context.Context) (*Snapshot, *Info, error) {
	name, err := m.Current(ctx)
	if err != nil || name == "" {
		return nil, nil, err
	}
	return m.Read(ctx, name)
}

// Read loads and verifies the named snapshot.
func (m *Manager) Read(ctx context.Context, name string) (*Snapshot, *Info, error) {
	data, err := blobstore.ReadAll(ctx, m.store, name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read checkpoint %s: %w", name, err)
	}

	s, info, err := Decode(resource.NewRateLimitedReader(ctx, bytes.NewReader(data), m.opts.Controller))
	if err != nil {
		return nil, nil, fmt.Errorf("checkpoint %s: %w", name, err)
	}
	if seq, ok := ParseName(name); ok && seq != s.Seq {
		return nil, nil, fmt.Errorf("%w: %s holds seq %d", ErrCorrupt, name, s.Seq)
	}

	m.opts.Logger.Debug("checkpoint loaded", "name", name, "seq", s.Seq, "bindings", len(s.Bindings))
	return s, info, nil
}
