package worker

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/okian/replaylink/internal/adapters/mq/queue"
	"github.com/okian/replaylink/internal/domain/dedupe"
	"github.com/okian/replaylink/internal/domain/model"
	"github.com/okian/replaylink/pkg/logger"
)

// Driver fans selection out over a worker pool for a batch of observations.
type Driver struct {
	selector  Selector
	workers   int
	queueSize int
	timeout   time.Duration
	deduper   dedupe.Deduper
	logger    logger.Logger
}

// RunResult is everything the driver learned about a batch.
type RunResult struct {
	// Decisions holds one entry per input observation, in no particular order.
	Decisions []model.Decision
	// Dispatched counts observations handed to workers.
	Dispatched int
	// Cancelled counts observations skipped because ctx ended first.
	Cancelled int
}

// Matches returns the decisions that produced a ScreenshotMatch.
func (r *RunResult) Matches() []model.ScreenshotMatch {
	out := make([]model.ScreenshotMatch, 0, len(r.Decisions))
	for i := range r.Decisions {
		if m := r.Decisions[i].Match; m != nil {
			out = append(out, *m)
		}
	}
	return out
}

// NewDriver creates a Driver over sel.
func NewDriver(sel Selector, opts ...DriverOption) *Driver {
	d := &Driver{
		selector: sel,
		workers:  runtime.NumCPU(),
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.queueSize < 1 {
		d.queueSize = 2 * d.workers
	}
	return d
}

// Run decides every observation. It returns when all dispatched work has
// finished. Cancelling ctx stops dispatch; in-flight and queued observations
// still complete, the rest are reported with ErrCancelled.
func (d *Driver) Run(ctx context.Context, observations []model.ScreenshotObservation) RunResult {
	seen := d.deduper
	if seen == nil {
		seen = dedupe.NewInMemoryDeduper()
	}

	q := queue.NewInMemoryQueue(queue.WithCapacity(d.queueSize))
	pool := NewPool(d.workers, q, d.selector,
		WithLogger(d.logger),
		WithTimeout(d.timeout))
	pool.Start(ctx)

	collected := make(chan []model.Decision, 1)
	go func() {
		out := make([]model.Decision, 0, len(observations))
		for dec := range pool.Results() {
			out = append(out, dec)
		}
		collected <- out
	}()

	var local []model.Decision
	res := RunResult{}
	for i := range observations {
		obs := observations[i]
		key := obs.Key()

		if ctx.Err() != nil {
			local = append(local, cancelled(key, ctx.Err()))
			res.Cancelled++
			continue
		}
		if seen.SeenAndRecord(ctx, key) {
			d.logger.Warn(ctx, "duplicate observation", logger.String("observation", key.String()))
			local = append(local, model.Decision{Key: key, Outcome: model.OutcomeDuplicate})
			continue
		}
		if err := q.Enqueue(ctx, queue.Task{Seq: i, Observation: obs}); err != nil {
			seen.Unrecord(ctx, key)
			local = append(local, cancelled(key, err))
			res.Cancelled++
			continue
		}
		res.Dispatched++
	}

	if err := pool.Shutdown(context.WithoutCancel(ctx)); err != nil {
		d.logger.Error(ctx, "worker pool shutdown", logger.Error(err))
	}
	res.Decisions = append(<-collected, local...)

	if res.Cancelled > 0 {
		d.logger.Warn(ctx, "run cancelled before all observations were dispatched",
			logger.Int("dispatched", res.Dispatched),
			logger.Int("cancelled", res.Cancelled))
	}
	return res
}

func cancelled(key model.ObservationKey, cause error) model.Decision {
	return model.Decision{
		Key:     key,
		Outcome: model.OutcomeCancelled,
		Err:     fmt.Errorf("%w: %s: %w", ErrCancelled, key, cause),
	}
}
