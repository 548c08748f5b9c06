package vmstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// heartbeat is the liveness watchdog of one session. Every interval it
// probes the link and arms a grace timer of interval/2. The first of
// {probe ok, probe error, grace expired} settles the tick; a result that
// arrives later lands in a buffered channel nobody reads.
type heartbeat struct {
	interval time.Duration
	grace    time.Duration
	probe    func(context.Context) error
	fail     func(*heartbeat, error)
	logger   *Logger
	metrics  MetricsCollector

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newHeartbeat(interval time.Duration, probe func(context.Context) error, fail func(*heartbeat, error), logger *Logger, metrics MetricsCollector) *heartbeat {
	return &heartbeat{
		interval: interval,
		grace:    interval / 2,
		probe:    probe,
		fail:     fail,
		logger:   logger,
		metrics:  metrics,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (h *heartbeat) start() {
	go h.run()
}

// halt stops the watchdog. Safe to call more than once and from the
// watchdog goroutine itself.
func (h *heartbeat) halt() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// wait blocks until the watchdog goroutine returned. Must not be called
// from the watchdog goroutine.
func (h *heartbeat) wait() {
	<-h.done
}

func (h *heartbeat) run() {
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			if err := h.tick(); err != nil {
				h.fail(h, fmt.Errorf("%w: %w", ErrLinkFailure, err))
				return
			}
		}
	}
}

// tick runs one probe. A nil return means the link is healthy or the
// watchdog was stopped while waiting.
func (h *heartbeat) tick() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result := make(chan error, 1)
	start := time.Now()
	go func() {
		result <- h.probe(ctx)
	}()

	grace := time.NewTimer(h.grace)
	defer grace.Stop()

	select {
	case err := <-result:
		h.metrics.RecordHeartbeat(time.Since(start), err)
		if err != nil {
			h.logger.LogHeartbeatFailure(ctx, err)
			return err
		}
		return nil
	case <-grace.C:
		err := fmt.Errorf("%w after %s", ErrHeartbeatTimeout, h.grace)
		h.metrics.RecordHeartbeat(time.Since(start), err)
		h.logger.LogHeartbeatTimeout(ctx, h.grace)
		return err
	case <-h.stop:
		return nil
	}
}
