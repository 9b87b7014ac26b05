package resource

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation would pass the limit.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds the limits of one collection.
type Config struct {
	// MemoryLimitBytes caps memory reserved by indexing buffers and the
	// result cache.
	// If 0, usage is only tracked.
	MemoryLimitBytes int64

	// MaxBackgroundWorkers bounds concurrent merges. If 0, defaults to 1.
	MaxBackgroundWorkers int64

	// IOLimitBytesPerSec throttles merge output. If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller is shared by the indexer, merger and searcher of a collection.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	bgSem *semaphore.Weighted

	ioLimiter *rate.Limiter
}

// NewController applies cfg. A nil *Controller is valid and imposes no limits.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = 1
	}

	c := &Controller{
		cfg:   cfg,
		bgSem: semaphore.NewWeighted(cfg.MaxBackgroundWorkers),
	}
	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// AcquireMemory reserves memory without blocking.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return ErrMemoryLimitExceeded
	}
	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory returns a reservation made by AcquireMemory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the bytes currently reserved.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns MemoryLimitBytes, zero when unlimited.
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// AcquireBackground reserves a background slot, blocking while all are busy.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.bgSem.Acquire(ctx, 1)
}

// TryAcquireBackground reserves a background slot without blocking.
func (c *Controller) TryAcquireBackground() bool {
	if c == nil {
		return true
	}
	return c.bgSem.TryAcquire(1)
}

// ReleaseBackground releases a background slot.
func (c *Controller) ReleaseBackground() {
	if c == nil {
		return
	}
	c.bgSem.Release(1)
}

// AcquireIO waits until merge output of the given size may be written.
// Requests above the burst size are split.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
