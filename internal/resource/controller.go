package resource

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation would exceed the
// memory limit.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds resource limits. Zero values mean unlimited.
type Config struct {
	// MemoryLimitBytes caps the bytes held by slot reservations.
	MemoryLimitBytes int64

	// IOLimitBytesPerSec paces snapshot reads and writes.
	IOLimitBytesPerSec int64

	// IOBurstBytes is the largest amount charged in a single wait.
	// Defaults to one second's worth of IOLimitBytesPerSec.
	IOBurstBytes int
}

// Controller charges slot reservations against a memory limit and paces
// snapshot IO.
type Controller struct {
	memLimit int64
	mem      *semaphore.Weighted // nil if unlimited
	memUsed  atomic.Int64
	memPeak  atomic.Int64

	io      *rate.Limiter // nil if unlimited
	ioBytes atomic.Int64
}

// NewController creates a controller enforcing cfg.
func NewController(cfg Config) *Controller {
	c := &Controller{memLimit: max(cfg.MemoryLimitBytes, 0)}
	if c.memLimit > 0 {
		c.mem = semaphore.NewWeighted(c.memLimit)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		burst := cfg.IOBurstBytes
		if burst <= 0 {
			burst = int(cfg.IOLimitBytesPerSec)
		}
		c.io = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), burst)
	}
	return c
}

// AcquireMemory charges bytes against the limit. It never blocks: a charge
// that does not fit fails with ErrMemoryLimitExceeded and changes nothing.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if c.mem != nil && !c.mem.TryAcquire(bytes) {
		return ErrMemoryLimitExceeded
	}

	used := c.memUsed.Add(bytes)
	for {
		peak := c.memPeak.Load()
		if used <= peak || c.memPeak.CompareAndSwap(peak, used) {
			return nil
		}
	}
}

// ReleaseMemory returns bytes previously charged with AcquireMemory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.mem != nil {
		c.mem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the bytes currently charged.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryPeak returns the highest MemoryUsage seen.
func (c *Controller) MemoryPeak() int64 {
	if c == nil {
		return 0
	}
	return c.memPeak.Load()
}

// MemoryLimit returns the limit in bytes, 0 if unlimited.
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.memLimit
}

// AcquireIO waits until bytes of IO may proceed, in burst-sized steps.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil {
		return nil
	}
	c.ioBytes.Add(int64(bytes))
	if c.io == nil {
		return nil
	}

	for step := c.io.Burst(); bytes > 0; bytes -= step {
		if err := c.io.WaitN(ctx, min(bytes, step)); err != nil {
			return err
		}
	}
	return nil
}

// IOBytes returns the bytes charged through AcquireIO.
func (c *Controller) IOBytes() int64 {
	if c == nil {
		return 0
	}
	return c.ioBytes.Load()
}
