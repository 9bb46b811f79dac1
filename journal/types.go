package journal

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hupe1980/idfreelist/core"
	"github.com/hupe1980/idfreelist/internal/fs"
)

// DurabilityMode defines the fsync behavior for journal writes.
type DurabilityMode int

const (
	// DurabilityAsync never fsyncs. A crash may lose the most recent records.
	DurabilityAsync DurabilityMode = iota

	// DurabilityGroupCommit batches fsyncs: a record is acknowledged once a
	// background tick or a full batch has synced it.
	DurabilityGroupCommit

	// DurabilitySync fsyncs after every record.
	DurabilitySync
)

func (m DurabilityMode) String() string {
	switch m {
	case DurabilityAsync:
		return "async"
	case DurabilityGroupCommit:
		return "group-commit"
	case DurabilitySync:
		return "sync"
	default:
		return fmt.Sprintf("DurabilityMode(%d)", int(m))
	}
}

// Op is the record type.
type Op uint8

const (
	// OpBind records that Key was bound to ID.
	OpBind Op = iota + 1
	// OpRelease records that Key released ID.
	OpRelease
	// OpCheckpoint marks the point covered by a snapshot.
	OpCheckpoint
)

func (o Op) String() string {
	switch o {
	case OpBind:
		return "bind"
	case OpRelease:
		return "release"
	case OpCheckpoint:
		return "checkpoint"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// Entry is one journal record.
type Entry struct {
	Op  Op
	Seq uint64
	ID  core.ID
	Key string
}

// Options contains configuration for the journal.
type Options struct {
	// Path is the directory holding the journal file.
	Path string

	// Compress enables zstd stream compression.
	Compress bool

	// CompressionLevel sets the zstd level (1-22). Default 3.
	CompressionLevel int

	// AutoCheckpointOps marks a checkpoint as due after N records.
	// 0 disables it.
	AutoCheckpointOps int

	// AutoCheckpointBytes marks a checkpoint as due once the file exceeds N
	// bytes. 0 disables it.
	AutoCheckpointBytes int64

	// DurabilityMode controls fsync behavior.
	DurabilityMode DurabilityMode

	// GroupCommitInterval is the maximum time a record waits for its fsync
	// in GroupCommit mode.
	GroupCommitInterval time.Duration

	// GroupCommitMaxOps forces an fsync once this many records are pending.
	GroupCommitMaxOps int

	// FS is the file system the journal lives on. Defaults to the local one.
	FS fs.FileSystem

	// Logger receives open, truncation and checkpoint events.
	Logger *slog.Logger
}

// DefaultOptions returns default journal options.
var DefaultOptions = Options{
	Path:                ".",
	CompressionLevel:    3,
	AutoCheckpointOps:   100000,
	AutoCheckpointBytes: 64 << 20,
	DurabilityMode:      DurabilityGroupCommit,
	GroupCommitInterval: 10 * time.Millisecond,
	GroupCommitMaxOps:   100,
}
