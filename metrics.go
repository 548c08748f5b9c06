package vmstore

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    commits   *prometheus.CounterVec
//	    conflicts prometheus.Counter
//	}
//
//	func (p *PrometheusCollector) RecordCommit(action vmstore.Action, duration time.Duration, err error) {
//	    p.commits.WithLabelValues(string(action)).Inc()
//	    if errors.Is(err, vmstore.ErrConcurrency) {
//	        p.conflicts.Inc()
//	    }
//	}
type MetricsCollector interface {
	// RecordRead is called after each Get, Find and FindOne.
	// results is the number of view models returned.
	RecordRead(results int, duration time.Duration, err error)

	// RecordCommit is called after each commit attempt.
	RecordCommit(action Action, duration time.Duration, err error)

	// RecordHeartbeat is called once per watchdog tick with the probe
	// outcome. A probe that exceeded the grace period reports a non-nil err.
	RecordHeartbeat(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordRead(int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordCommit(Action, time.Duration, error) {}
func (NoopMetricsCollector) RecordHeartbeat(time.Duration, error)      {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ReadCount        atomic.Int64
	ReadErrors       atomic.Int64
	ReadResults      atomic.Int64
	ReadTotalNanos   atomic.Int64
	CommitCount      atomic.Int64
	CommitErrors     atomic.Int64
	CommitConflicts  atomic.Int64
	CommitTotalNanos atomic.Int64
	HeartbeatCount   atomic.Int64
	HeartbeatErrors  atomic.Int64
}

// RecordRead implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRead(results int, duration time.Duration, err error) {
	b.ReadCount.Add(1)
	b.ReadResults.Add(int64(results))
	b.ReadTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.ReadErrors.Add(1)
	}
}

// RecordCommit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCommit(_ Action, duration time.Duration, err error) {
	b.CommitCount.Add(1)
	b.CommitTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CommitErrors.Add(1)
		if isConcurrency(err) {
			b.CommitConflicts.Add(1)
		}
	}
}

// RecordHeartbeat implements MetricsCollector.
func (b *BasicMetricsCollector) RecordHeartbeat(_ time.Duration, err error) {
	b.HeartbeatCount.Add(1)
	if err != nil {
		b.HeartbeatErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		ReadCount:       b.ReadCount.Load(),
		ReadErrors:      b.ReadErrors.Load(),
		ReadResults:     b.ReadResults.Load(),
		ReadAvgNanos:    avg(b.ReadTotalNanos.Load(), b.ReadCount.Load()),
		CommitCount:     b.CommitCount.Load(),
		CommitErrors:    b.CommitErrors.Load(),
		CommitConflicts: b.CommitConflicts.Load(),
		CommitAvgNanos:  avg(b.CommitTotalNanos.Load(), b.CommitCount.Load()),
		HeartbeatCount:  b.HeartbeatCount.Load(),
		HeartbeatErrors: b.HeartbeatErrors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of metrics from BasicMetricsCollector.
type BasicMetricsStats struct {
	ReadCount       int64
	ReadErrors      int64
	ReadResults     int64
	ReadAvgNanos    int64
	CommitCount     int64
	CommitErrors    int64
	CommitConflicts int64
	CommitAvgNanos  int64
	HeartbeatCount  int64
	HeartbeatErrors int64
}
