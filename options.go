package idfreelist

import (
	"log/slog"

	"github.com/hupe1980/idfreelist/blobstore"
	"github.com/hupe1980/idfreelist/checkpoint"
	"github.com/hupe1980/idfreelist/internal/resource"
	"github.com/hupe1980/idfreelist/journal"
)

type options struct {
	initialCapacity  int
	minGrowth        int
	paranoid         bool
	metricsCollector MetricsCollector
	logger           *Logger

	memoryLimit int64
	ioLimit     int64

	journalOptions    []func(*journal.Options)
	checkpointStore   blobstore.Store
	checkpointOptions []func(*checkpoint.Options)
	autoCheckpoint    bool
}

// Option configures New and Open.
type Option func(*options)

// WithInitialCapacity threads n ids onto the free chain at construction.
// Open ignores it when a snapshot supplies a larger capacity.
func WithInitialCapacity(n int) Option {
	return func(o *options) {
		o.initialCapacity = n
	}
}

// WithMinGrowth sets the minimum number of slots reserved by one
// reallocation of the backing arrays.
func WithMinGrowth(n int) Option {
	return func(o *options) {
		o.minGrowth = n
	}
}

// WithParanoidChecks runs Scrub after every growth and after FinishRecovery
// and panics with a ConsistencyError on the first violation.
// It costs O(capacity) per growth and is meant for tests and debugging.
func WithParanoidChecks(enabled bool) Option {
	return func(o *options) {
		o.paranoid = enabled
	}
}

// WithMetricsCollector configures a metrics collector.
// Pass nil to disable metrics collection.
//
// Example:
//
//	metrics := &idfreelist.BasicMetricsCollector{}
//	a, _ := idfreelist.New(idfreelist.WithMetricsCollector(metrics))
//	// ... use a ...
//	stats := metrics.GetStats()
//	fmt.Printf("assigns: %d, avg latency: %dns\n", stats.AssignCount, stats.AssignAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMemoryLimit caps the bytes the allocator may reserve for slots.
// A growth beyond the cap fails with ErrMemoryLimitExceeded. 0 means
// unlimited, in which case a corrupt journal binding an id near MaxID is
// honored by reserving every slot below it.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithCheckpointIOLimit paces snapshot reads and writes to bytesPerSec.
// 0 means unlimited.
func WithCheckpointIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithJournalOptions tunes the Registry journal.
// Path is always the registry directory.
//
// Example:
//
//	r, _ := idfreelist.Open(ctx, "./ids",
//	    idfreelist.WithJournalOptions(func(o *journal.Options) {
//	        o.DurabilityMode = journal.DurabilityGroupCommit
//	        o.GroupCommitInterval = 5 * time.Millisecond
//	        o.AutoCheckpointOps = 100_000
//	    }),
//	)
func WithJournalOptions(optFns ...func(*journal.Options)) Option {
	return func(o *options) {
		o.journalOptions = append(o.journalOptions, optFns...)
	}
}

// WithCheckpointStore stores Registry snapshots in store instead of the
// registry directory.
func WithCheckpointStore(store blobstore.Store) Option {
	return func(o *options) {
		o.checkpointStore = store
	}
}

// WithCheckpointOptions tunes the snapshot manager.
func WithCheckpointOptions(optFns ...func(*checkpoint.Options)) Option {
	return func(o *options) {
		o.checkpointOptions = append(o.checkpointOptions, optFns...)
	}
}

// WithCheckpointCompression selects the snapshot block codec.
func WithCheckpointCompression(c checkpoint.Compression) Option {
	return WithCheckpointOptions(func(o *checkpoint.Options) {
		o.Compression = c
	})
}

// WithAutoCheckpoint makes the Registry write a snapshot as soon as the
// journal reports that one is due. Enabled by default.
func WithAutoCheckpoint(enabled bool) Option {
	return func(o *options) {
		o.autoCheckpoint = enabled
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		autoCheckpoint:   true,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}

// controller returns the resource controller implied by the limits, or nil.
func (o *options) controller() *resource.Controller {
	if o.memoryLimit <= 0 && o.ioLimit <= 0 {
		return nil
	}
	return resource.NewController(resource.Config{
		MemoryLimitBytes:   o.memoryLimit,
		IOLimitBytesPerSec: o.ioLimit,
	})
}
