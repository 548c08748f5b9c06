package vmstore

import (
	"log/slog"

	"github.com/hupe1980/vmstore/internal/throttle"
)

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	idGenerator      IDGenerator
	throttle         *throttle.Controller
}

// Option configures a Conn.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &vmstore.BasicMetricsCollector{}
//	conn := vmstore.NewConn(cfg, mongo.NewDriver(), vmstore.WithMetricsCollector(metrics))
//	// ... use stores ...
//	stats := metrics.GetStats()
//	fmt.Printf("Commits: %d, conflicts: %d\n", stats.CommitCount, stats.CommitConflicts)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := vmstore.NewJSONLogger(slog.LevelInfo)
//	conn := vmstore.NewConn(cfg, driver, vmstore.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
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

// WithIDGenerator overrides the generator used for view model ids and
// version tokens. It takes precedence over Config.IDFormat.
func WithIDGenerator(gen IDGenerator) Option {
	return func(o *options) {
		o.idGenerator = gen
	}
}

// WithThrottle bounds the pressure every store puts on the shared link.
// Zero values mean unlimited. Config.MaxInFlight and Config.OpsPerSecond
// are used when this option is absent.
func WithThrottle(maxInFlight int64, opsPerSecond float64) Option {
	return func(o *options) {
		o.throttle = throttle.NewController(throttle.Config{
			MaxInFlight:  maxInFlight,
			OpsPerSecond: opsPerSecond,
		})
	}
}

func applyOptions(cfg Config, optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if cfg.DatabaseName != "" {
		o.logger = o.logger.WithDatabase(cfg.DatabaseName)
	}
	if o.idGenerator == nil {
		o.idGenerator = generatorFor(cfg.IDFormat)
	}
	if o.throttle == nil {
		o.throttle = throttle.NewController(throttle.Config{
			MaxInFlight:          cfg.MaxInFlight,
			OpsPerSecond:         cfg.OpsPerSecond,
			MaxBackgroundWorkers: 4,
		})
	}
	return o
}
