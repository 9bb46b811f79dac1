// Package resource implements the Controller that governs memory and IO for
// an allocator and its host. Slot reservations are charged against a hard
// memory limit and fail fast; checkpoint reads and writes are paced by a
// token bucket.
//
// # Memory
//
// AcquireMemory is non-blocking and returns ErrMemoryLimitExceeded when the
// limit would be exceeded. The allocator surfaces that as a failed growth and
// leaves its state untouched:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 64 << 20,
//	})
//	if err := rc.AcquireMemory(n); err != nil {
//	    // ErrMemoryLimitExceeded
//	}
//	defer rc.ReleaseMemory(n)
//
// # IO Rate Limiting
//
//	w := resource.NewRateLimitedWriter(ctx, file, rc)
//	r := resource.NewRateLimitedReader(ctx, file, rc)
//
// All methods are safe for concurrent use, and a nil *Controller is a valid
// no-op controller.
package resource
