package worker

import (
	"time"

	"github.com/okian/replaylink/internal/domain/dedupe"
	"github.com/okian/replaylink/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithTimeout bounds the time spent on one observation. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(w *InMemoryWorker) {
		if d >= 0 {
			w.timeout = d
		}
	}
}

// DriverOption applies a configuration option to the Driver.
type DriverOption func(*Driver)

// WithWorkerCount sets the pool size. Values below one use runtime.NumCPU().
func WithWorkerCount(n int) DriverOption {
	return func(d *Driver) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize sets how many observations may wait for a worker.
func WithQueueSize(n int) DriverOption {
	return func(d *Driver) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithObservationTimeout sets the per-observation budget for every worker.
func WithObservationTimeout(t time.Duration) DriverOption {
	return func(d *Driver) {
		if t >= 0 {
			d.timeout = t
		}
	}
}

// WithDeduper sets the deduper that drops repeated observation keys. By
// default each Run starts with a fresh unbounded one.
func WithDeduper(dd dedupe.Deduper) DriverOption {
	return func(d *Driver) {
		if dd != nil {
			d.deduper = dd
		}
	}
}

// WithDriverLogger sets the logger for the driver and its workers.
func WithDriverLogger(l logger.Logger) DriverOption {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}
