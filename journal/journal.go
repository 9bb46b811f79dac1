// Package journal is the append-only binding log that feeds allocator
// recovery.
//
// Every bind and release is appended as a checksummed record with a
// monotonically increasing sequence number. After a snapshot of the live
// bindings is durable, Checkpoint truncates the file; the new header carries
// the last covered sequence number so numbering never restarts.
//
// Features:
//   - Optional zstd compression, one frame per flush
//   - Async, Sync and GroupCommit durability
//   - Torn-tail repair on open after a crash
//   - Bindings, which folds replayed records into the live binding set
package journal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hupe1980/idfreelist/core"
	"github.com/hupe1980/idfreelist/internal/fs"
	"github.com/klauspost/compress/zstd"
)

// FileName is the journal file inside Options.Path.
const FileName = "bindings.journal"

// Journal is a binding log. It is safe for concurrent use.
type Journal struct {
	mu     sync.Mutex
	file   fs.File
	path   string
	logger *slog.Logger

	hdr          header
	bufWriter    *bufio.Writer
	compressor   *zstd.Encoder
	decompressor *zstd.Decoder
	scratch      []byte
	dirty        bool
	err          error // sticky write failure

	seq     uint64
	records int   // records since the last checkpoint
	size    int64 // encoded bytes since the last checkpoint

	autoCheckpointOps   int
	autoCheckpointBytes int64

	durabilityMode      DurabilityMode
	groupCommitInterval time.Duration
	groupCommitMaxOps   int
	groupCommitTicker   *time.Ticker
	groupCommitStopCh   chan struct{}
	groupCommitPending  int
	groupCommitWg       sync.WaitGroup
	syncCond            *sync.Cond
	persistedSeq        uint64

	closed bool
}

// New opens the journal in Options.Path, creating it if needed.
func New(optFns ...func(o *Options)) (*Journal, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.CompressionLevel <= 0 {
		opts.CompressionLevel = DefaultOptions.CompressionLevel
	}
	if opts.GroupCommitMaxOps <= 0 {
		opts.GroupCommitMaxOps = 1
	}

	if err := opts.FS.MkdirAll(opts.Path, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	path := filepath.Join(opts.Path, FileName)

	file, err := opts.FS.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat journal: %w", err)
	}

	decompressor, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to create decompressor: %w", err)
	}

	j := &Journal{
		file:                file,
		path:                path,
		logger:              opts.Logger,
		decompressor:        decompressor,
		autoCheckpointOps:   opts.AutoCheckpointOps,
		autoCheckpointBytes: opts.AutoCheckpointBytes,
		durabilityMode:      opts.DurabilityMode,
		groupCommitInterval: opts.GroupCommitInterval,
		groupCommitMaxOps:   opts.GroupCommitMaxOps,
	}
	j.syncCond = sync.NewCond(&j.mu)

	if err := j.initialize(st.Size(), opts); err != nil {
		j.closeFiles()
		return nil, err
	}

	if _, err := j.file.Seek(0, io.SeekEnd); err != nil {
		j.closeFiles()
		return nil, fmt.Errorf("failed to seek journal end: %w", err)
	}
	if err := j.resetWriter(); err != nil {
		j.closeFiles()
		return nil, err
	}
	j.persistedSeq = j.seq

	if j.durabilityMode == DurabilityGroupCommit && j.groupCommitInterval > 0 {
		j.groupCommitStopCh = make(chan struct{})
		j.groupCommitTicker = time.NewTicker(j.groupCommitInterval)
		j.groupCommitWg.Add(1)
		go j.groupCommitWorker()
	}

	j.logger.Debug("journal opened",
		"path", path,
		"seq", j.seq,
		"records", j.records,
		"compressed", j.hdr.Compressed,
		"durability", j.durabilityMode.String(),
	)
	return j, nil
}

func (j *Journal) initialize(size int64, opts Options) error {
	if size == 0 {
		j.hdr = header{Compressed: opts.Compress, CompressionLevel: opts.CompressionLevel}
		return writeHeader(j.file, j.hdr)
	}

	hdr, err := readHeader(j.file)
	if err != nil {
		return err
	}
	j.hdr = hdr
	return j.recover()
}

// recover restores the sequence counter from the existing records and cuts
// off a record torn by a crash.
func (j *Journal) recover() error {
	j.seq = j.hdr.BaseSeq
	goodOff := int64(headerLen)
	var good []Entry

	err := j.scanLocked(func(e Entry, end int64) error {
		j.seq = max(j.seq, e.Seq)
		j.records++
		j.size += int64(encodedLen(&e))
		goodOff = end
		if j.hdr.Compressed {
			good = append(good, e)
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("failed to scan journal: %w", err)
	}

	j.logger.Warn("truncating torn journal tail", "path", j.path, "seq", j.seq, "records", j.records)
	if j.hdr.Compressed {
		return j.rewriteLocked(good)
	}
	if err := j.file.Truncate(goodOff); err != nil {
		return fmt.Errorf("failed to truncate torn journal tail: %w", err)
	}
	return nil
}

// rewriteLocked replaces the record stream with entries.
func (j *Journal) rewriteLocked(entries []Entry) error {
	if err := j.file.Truncate(int64(headerLen)); err != nil {
		return fmt.Errorf("failed to truncate journal: %w", err)
	}
	if _, err := j.file.Seek(int64(headerLen), io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek journal: %w", err)
	}
	if err := j.resetWriter(); err != nil {
		return err
	}
	for i := range entries {
		buf, err := appendEntry(j.scratch[:0], &entries[i])
		if err != nil {
			return err
		}
		j.scratch = buf
		if _, err := j.bufWriter.Write(buf); err != nil {
			return fmt.Errorf("failed to rewrite journal: %w", err)
		}
		j.dirty = true
	}
	if err := j.flushLocked(); err != nil {
		return err
	}
	return j.file.Sync()
}

func (j *Journal) resetWriter() error {
	if !j.hdr.Compressed {
		j.bufWriter = bufio.NewWriter(j.file)
		return nil
	}

	if j.compressor == nil {
		level := zstd.EncoderLevelFromZstd(j.hdr.CompressionLevel)
		enc, err := zstd.NewWriter(j.file, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
		if err != nil {
			return fmt.Errorf("failed to create compressor: %w", err)
		}
		j.compressor = enc
	} else {
		j.compressor.Reset(j.file)
	}
	j.bufWriter = bufio.NewWriter(j.compressor)
	return nil
}

// flushLocked pushes buffered records to the file. In compressed mode it
// closes the current zstd frame so a reader never meets a partial frame.
func (j *Journal) flushLocked() error {
	if !j.dirty {
		return nil
	}
	if err := j.bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	if j.compressor != nil {
		if err := j.compressor.Close(); err != nil {
			return fmt.Errorf("failed to close zstd frame: %w", err)
		}
		j.compressor.Reset(j.file)
	}
	j.dirty = false
	return nil
}

// LogBind appends a bind record, waits until it is durable under the
// configured mode and returns its sequence number.
func (j *Journal) LogBind(id core.ID, key string) (uint64, error) {
	return j.log(OpBind, id, key)
}

// LogRelease appends a release record, waits until it is durable under the
// configured mode and returns its sequence number.
func (j *Journal) LogRelease(id core.ID, key string) (uint64, error) {
	return j.log(OpRelease, id, key)
}

// AppendBind appends a bind record without waiting for it to become
// durable. Pair it with WaitDurable.
func (j *Journal) AppendBind(id core.ID, key string) (uint64, error) {
	return j.append(OpBind, id, key)
}

// AppendRelease appends a release record without waiting for it to become
// durable. Pair it with WaitDurable.
func (j *Journal) AppendRelease(id core.ID, key string) (uint64, error) {
	return j.append(OpRelease, id, key)
}

func (j *Journal) log(op Op, id core.ID, key string) (uint64, error) {
	seq, err := j.append(op, id, key)
	if err != nil {
		return 0, err
	}
	return seq, j.WaitDurable(seq)
}

func (j *Journal) append(op Op, id core.ID, key string) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writableLocked(); err != nil {
		return 0, err
	}

	e := Entry{Op: op, Seq: j.seq + 1, ID: id, Key: key}
	if err := j.writeLocked(&e); err != nil {
		return 0, err
	}
	if j.durabilityMode == DurabilityGroupCommit {
		j.groupCommitPending++
	}
	return e.Seq, nil
}

// WaitDurable blocks until the record with sequence number seq is durable
// under the configured mode. In Async mode it returns at once.
func (j *Journal) WaitDurable(seq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.persistedSeq >= seq {
		return nil
	}

	switch j.durabilityMode {
	case DurabilitySync:
		if err := j.writableLocked(); err != nil {
			return err
		}
		if err := j.file.Sync(); err != nil {
			j.err = fmt.Errorf("failed to sync journal: %w", err)
			return j.err
		}
		j.persistedSeq = j.seq
		return nil

	case DurabilityGroupCommit:
		if err := j.writableLocked(); err != nil {
			return err
		}
		if j.groupCommitPending >= j.groupCommitMaxOps || j.groupCommitTicker == nil {
			return j.doGroupCommit()
		}
		// Wait releases j.mu so the worker or another writer can sync.
		for j.persistedSeq < seq && j.err == nil && !j.closed {
			j.syncCond.Wait()
		}
		if j.persistedSeq >= seq {
			return nil
		}
		if j.err != nil {
			return j.err
		}
		return ErrClosed

	default:
		return nil
	}
}

func (j *Journal) writableLocked() error {
	if j.closed {
		return ErrClosed
	}
	return j.err
}

// writeLocked encodes, writes and flushes e. A failed write leaves the tail
// of the file undefined, so the journal refuses further writes until it is
// reopened and the torn tail repaired.
func (j *Journal) writeLocked(e *Entry) error {
	buf, err := appendEntry(j.scratch[:0], e)
	if err != nil {
		return err
	}
	j.scratch = buf

	j.dirty = true
	if _, err := j.bufWriter.Write(buf); err != nil {
		j.err = fmt.Errorf("failed to write journal record: %w", err)
		return j.err
	}
	if err := j.flushLocked(); err != nil {
		j.err = err
		return err
	}

	j.seq = e.Seq
	j.records++
	j.size += int64(len(buf))
	return nil
}

// doGroupCommit performs the fsync and wakes waiting writers.
// Caller must hold j.mu.
func (j *Journal) doGroupCommit() error {
	if j.groupCommitPending == 0 {
		return nil
	}

	if err := j.file.Sync(); err != nil {
		j.err = fmt.Errorf("failed to sync journal: %w", err)
		j.syncCond.Broadcast()
		return j.err
	}

	j.groupCommitPending = 0
	j.persistedSeq = j.seq
	j.syncCond.Broadcast()
	return nil
}

func (j *Journal) groupCommitWorker() {
	defer j.groupCommitWg.Done()

	for {
		select {
		case <-j.groupCommitStopCh:
			j.mu.Lock()
			_ = j.doGroupCommit()
			j.mu.Unlock()
			return

		case <-j.groupCommitTicker.C:
			j.mu.Lock()
			_ = j.doGroupCommit()
			j.mu.Unlock()
		}
	}
}

// Checkpoint appends a checkpoint marker, syncs it and truncates the
// journal. Call it only once a snapshot covering Seq() is durable. It returns
// the marker's sequence number, which becomes the new base.
func (j *Journal) Checkpoint() (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writableLocked(); err != nil {
		return 0, err
	}

	e := Entry{Op: OpCheckpoint, Seq: j.seq + 1}
	if err := j.writeLocked(&e); err != nil {
		return 0, err
	}
	if err := j.file.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync checkpoint marker: %w", err)
	}

	if err := j.truncateLocked(); err != nil {
		j.err = err
		return 0, err
	}
	j.logger.Info("journal checkpointed", "path", j.path, "base_seq", j.seq)
	return j.seq, nil
}

// Rebase empties the journal and continues numbering after seq. It is used
// when a snapshot covers more than the journal holds, for example after the
// journal file was lost. seq must not be below Seq().
func (j *Journal) Rebase(seq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writableLocked(); err != nil {
		return err
	}
	if seq < j.seq {
		return fmt.Errorf("cannot rebase journal at seq %d back to %d", j.seq, seq)
	}
	if err := j.flushLocked(); err != nil {
		j.err = err
		return err
	}

	j.seq = seq
	if err := j.truncateLocked(); err != nil {
		j.err = err
		return err
	}
	j.logger.Warn("journal rebased", "path", j.path, "base_seq", seq)
	return nil
}

// truncateLocked empties the journal and writes a header based at j.seq.
func (j *Journal) truncateLocked() error {
	if err := j.file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate journal: %w", err)
	}
	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek journal: %w", err)
	}

	j.hdr.BaseSeq = j.seq
	if err := writeHeader(j.file, j.hdr); err != nil {
		return err
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync journal header: %w", err)
	}
	if err := j.resetWriter(); err != nil {
		return err
	}

	j.records = 0
	j.size = 0
	j.groupCommitPending = 0
	j.persistedSeq = j.seq
	j.syncCond.Broadcast()
	return nil
}

// Replay calls fn for every record in the journal, in order.
func (j *Journal) Replay(fn func(Entry) error) error {
	return j.ReplayAfter(0, fn)
}

// ReplayAfter calls fn for every record with a sequence number above seq.
// fn must not call back into the journal.
func (j *Journal) ReplayAfter(seq uint64, fn func(Entry) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}
	if err := j.flushLocked(); err != nil {
		return err
	}

	err := j.scanLocked(func(e Entry, _ int64) error {
		if e.Seq <= seq {
			return nil
		}
		if err := fn(e); err != nil {
			return fmt.Errorf("failed to replay entry %d: %w", e.Seq, err)
		}
		return nil
	})
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: torn record after seq %d", ErrCorruptJournal, j.seq)
	}
	return err
}

// scanLocked decodes the record stream without moving the write offset.
// fn receives each entry and the file offset just past it; the offset is only
// meaningful for uncompressed journals.
func (j *Journal) scanLocked(fn func(e Entry, end int64) error) error {
	sr := io.NewSectionReader(j.file, int64(headerLen), math.MaxInt64-int64(headerLen))

	var r io.Reader
	if j.hdr.Compressed {
		if err := j.decompressor.Reset(sr); err != nil {
			return fmt.Errorf("failed to reset decompressor: %w", err)
		}
		r = j.decompressor
	} else {
		r = bufio.NewReader(sr)
	}
	cr := &countingReader{r: r}

	for {
		var (
			e   Entry
			err error
		)
		j.scratch, err = decodeEntry(cr, &e, j.scratch)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(e, int64(headerLen)+cr.n); err != nil {
			return err
		}
	}
}

// Len returns the number of records in the file, checkpoint markers included.
func (j *Journal) Len() (int, error) {
	count := 0
	err := j.Replay(func(Entry) error {
		count++
		return nil
	})
	return count, err
}

// Seq returns the sequence number of the last record.
func (j *Journal) Seq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// BaseSeq returns the sequence number covered by the last checkpoint.
func (j *Journal) BaseSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.hdr.BaseSeq
}

// Records returns the number of records appended since the last checkpoint.
func (j *Journal) Records() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.records
}

// Size returns the encoded size of the records since the last checkpoint.
func (j *Journal) Size() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.size
}

// CheckpointDue reports whether an auto-checkpoint threshold was crossed.
func (j *Journal) CheckpointDue() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.autoCheckpointOps > 0 && j.records >= j.autoCheckpointOps {
		return true
	}
	return j.autoCheckpointBytes > 0 && j.size >= j.autoCheckpointBytes
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Compressed reports whether records are zstd compressed.
func (j *Journal) Compressed() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.hdr.Compressed
}

// Close stops the group commit worker, flushes and syncs pending records and
// closes the file. It is idempotent.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	if j.groupCommitTicker != nil {
		close(j.groupCommitStopCh)
		j.mu.Unlock()
		j.groupCommitWg.Wait()
		j.mu.Lock()
		j.groupCommitTicker.Stop()
		j.groupCommitTicker = nil
	}

	var errs []error
	if j.err == nil {
		if err := j.flushLocked(); err != nil {
			errs = append(errs, err)
		} else if j.durabilityMode != DurabilityAsync {
			if err := j.file.Sync(); err != nil {
				errs = append(errs, fmt.Errorf("failed to sync journal: %w", err))
			} else {
				j.persistedSeq = j.seq
			}
		}
	}

	j.closed = true
	j.syncCond.Broadcast()
	if err := j.closeFiles(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (j *Journal) closeFiles() error {
	if j.compressor != nil {
		j.compressor.Reset(io.Discard)
		_ = j.compressor.Close()
	}
	if j.decompressor != nil {
		j.decompressor.Close()
	}
	return j.file.Close()
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
