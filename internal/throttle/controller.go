package throttle

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds the limits.
type Config struct {
	// MaxInFlight is the maximum number of concurrent store operations.
	// If 0, unlimited.
	MaxInFlight int64

	// OpsPerSecond is the sustained operation rate. Bursts up to the same
	// number are allowed. If 0, unlimited.
	OpsPerSecond float64

	// MaxBackgroundWorkers is the maximum number of concurrent background jobs.
	// If 0, defaults to 1.
	MaxBackgroundWorkers int64
}

// Controller enforces a Config.
type Controller struct {
	cfg Config

	opSem    *semaphore.Weighted // nil if unlimited
	inFlight atomic.Int64

	bgSem *semaphore.Weighted

	limiter *rate.Limiter // nil if unlimited
}

// NewController creates a new controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = 1
	}

	c := &Controller{
		cfg:   cfg,
		bgSem: semaphore.NewWeighted(cfg.MaxBackgroundWorkers),
	}

	if cfg.MaxInFlight > 0 {
		c.opSem = semaphore.NewWeighted(cfg.MaxInFlight)
	}

	if cfg.OpsPerSecond > 0 {
		burst := int(cfg.OpsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.OpsPerSecond), burst)
	}

	return c
}

func noop() {}

// Acquire waits for the rate limiter and an in-flight slot. The returned
// release func must be called exactly once when the operation completes.
func (c *Controller) Acquire(ctx context.Context) (func(), error) {
	if c == nil {
		return noop, nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return noop, err
		}
	}
	if c.opSem != nil {
		if err := c.opSem.Acquire(ctx, 1); err != nil {
			return noop, err
		}
	}
	c.inFlight.Add(1)

	var released atomic.Bool
	return func() {
		if !released.CompareAndSwap(false, true) {
			return
		}
		c.inFlight.Add(-1)
		if c.opSem != nil {
			c.opSem.Release(1)
		}
	}, nil
}

// InFlight returns the number of operations currently holding a slot.
func (c *Controller) InFlight() int64 {
	if c == nil {
		return 0
	}
	return c.inFlight.Load()
}

// TryAcquireBackground attempts to reserve a background job slot without blocking.
func (c *Controller) TryAcquireBackground() bool {
	if c == nil {
		return true
	}
	return c.bgSem.TryAcquire(1)
}

// AcquireBackground reserves a background job slot, blocking while all are busy.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.bgSem.Acquire(ctx, 1)
}

// ReleaseBackground releases a background job slot.
func (c *Controller) ReleaseBackground() {
	if c == nil {
		return
	}
	c.bgSem.Release(1)
}
