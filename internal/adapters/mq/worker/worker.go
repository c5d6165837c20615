// Package worker runs candidate selection for many observations in parallel.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/okian/replaylink/internal/adapters/mq/queue"
	"github.com/okian/replaylink/internal/domain/model"
	"github.com/okian/replaylink/pkg/logger"
	"github.com/okian/replaylink/pkg/metrics"
)

// Selector decides one observation.
type Selector interface {
	Select(ctx context.Context, obs model.ScreenshotObservation) model.Decision
}

// Queue defines how workers receive tasks.
type Queue interface {
	Dequeue() <-chan queue.Task
	Len() int
}

// Worker processes tasks and emits one decision each.
type Worker interface {
	// Run processes tasks until the queue is drained or Shutdown is called.
	Run(ctx context.Context)

	// Shutdown stops the worker after its current task.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue    Queue
	selector Selector
	results  chan<- model.Decision
	name     string
	timeout  time.Duration

	// Shutdown control
	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, sel Selector, results chan<- model.Decision, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		selector: sel,
		results:  results,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run starts the worker loop. Cancelling ctx does not abandon queued tasks:
// the dispatcher stops feeding the queue and workers drain what is left.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	tasks := w.queue.Dequeue()
	for {
		select {
		case <-w.shutdown:
			return
		case t, ok := <-tasks:
			if !ok {
				return
			}
			metrics.UpdateQueueDepth(w.queue.Len())
			w.results <- w.process(ctx, t)
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process selects one observation; a panic becomes a failed decision.
func (w *InMemoryWorker) process(ctx context.Context, t queue.Task) (d model.Decision) { //nolint:gocritic // hugeParam: Task is passed by value for channel semantics
	key := t.Observation.Key()

	// in-flight work outlives run cancellation; only the budget applies
	taskCtx := context.WithoutCancel(ctx)
	if w.timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(taskCtx, w.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error(ctx, "selection panicked",
				logger.String("observation", key.String()),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
			d = model.Decision{
				Key:     key,
				Outcome: model.OutcomeFailed,
				Err:     fmt.Errorf("%w: %s: %v", ErrWorkerPanic, key, r),
			}
		}
	}()

	d = w.selector.Select(taskCtx, t.Observation)
	if d.Outcome == model.OutcomeTimeout {
		w.logger.Warn(ctx, "observation timed out",
			logger.String("observation", key.String()),
			logger.Duration("budget", w.timeout),
			logger.Int("names", len(t.Observation.ObservedNames)))
		d.Err = fmt.Errorf("%w: %s after %s", ErrObservationTimeout, key, w.timeout)
	}
	return d
}

// Pool manages a fixed set of workers sharing one queue and result channel.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	results chan model.Decision
	wg      sync.WaitGroup
	logger  logger.Logger
}

// NewPool creates a worker pool. workerCount below one uses runtime.NumCPU().
func NewPool(workerCount int, q Queue, sel Selector, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		results: make(chan model.Decision, workerCount),
		logger:  logger.Nop(),
	}

	for i := 0; i < workerCount; i++ {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(q, sel, pool.results, wopts...)
	}
	if len(pool.workers) > 0 {
		pool.logger = pool.workers[0].logger
	}

	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Results returns the decision stream. It is closed once every worker has exited.
func (p *Pool) Results() <-chan model.Decision {
	return p.results
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(len(p.workers))
	for _, w := range p.workers {
		go func(w *InMemoryWorker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
	go func() {
		p.wg.Wait()
		close(p.results)
		metrics.UpdateWorkerCount(0)
	}()
}

// Shutdown closes the queue if it can be closed and waits for the workers
// to drain it, bounded by ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			return fmt.Errorf("pool shutdown: %w", ctx.Err())
		}
	}
	return nil
}
