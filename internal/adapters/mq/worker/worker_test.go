package worker_test

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	queue "github.com/okian/replaylink/internal/adapters/mq/queue"
	worker "github.com/okian/replaylink/internal/adapters/mq/worker"
	model "github.com/okian/replaylink/internal/domain/model"
)

// selectorFunc adapts a function to worker.Selector.
type selectorFunc func(ctx context.Context, obs model.ScreenshotObservation) model.Decision

func (f selectorFunc) Select(ctx context.Context, obs model.ScreenshotObservation) model.Decision {
	return f(ctx, obs)
}

func matchAll(_ context.Context, obs model.ScreenshotObservation) model.Decision {
	return model.Decision{
		Key:     obs.Key(),
		Outcome: model.OutcomeMatched,
		Match:   &model.ScreenshotMatch{VideoID: obs.VideoID, TimestampSeconds: obs.TimestampSeconds, BattleID: "B1", Score: 1},
	}
}

func observations(n int) []model.ScreenshotObservation {
	out := make([]model.ScreenshotObservation, n)
	for i := range out {
		out[i] = model.ScreenshotObservation{VideoID: fmt.Sprintf("v%d", i%3), TimestampSeconds: i, ObservedNames: []string{"alice"}}
	}
	return out
}

func byOutcome(decisions []model.Decision) map[model.Outcome]int {
	out := make(map[model.Outcome]int)
	for _, d := range decisions {
		out[d.Outcome]++
	}
	return out
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker on a queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(4))
		results := make(chan model.Decision, 4)
		w := worker.NewInMemoryWorker(q, selectorFunc(matchAll), results, worker.WithName("w0"))
		go w.Run(context.Background())

		convey.Convey("When a task is queued", func() {
			obs := observations(1)[0]
			convey.So(q.Enqueue(context.Background(), queue.Task{Observation: obs}), convey.ShouldBeNil)

			convey.Convey("Then one decision comes out", func() {
				d := <-results
				convey.So(d.Outcome, convey.ShouldEqual, model.OutcomeMatched)
				convey.So(d.Key, convey.ShouldResemble, obs.Key())
			})
		})

		convey.Convey("When shutting down", func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			convey.Convey("Then it stops gracefully", func() {
				convey.So(w.Shutdown(ctx), convey.ShouldBeNil)
				convey.So(w.Shutdown(ctx), convey.ShouldBeNil)
			})
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a worker pool with default size", t, func() {
		q := queue.NewInMemoryQueue()
		p := worker.NewPool(0, q, selectorFunc(matchAll))

		convey.Convey("Then it is sized by available CPUs", func() {
			convey.So(p.Size(), convey.ShouldEqual, runtime.NumCPU())
		})

		convey.Convey("When started and shut down", func() {
			p.Start(context.Background())
			convey.So(q.Enqueue(context.Background(), queue.Task{Observation: observations(1)[0]}), convey.ShouldBeNil)

			done := make(chan int)
			go func() {
				n := 0
				for range p.Results() {
					n++
				}
				done <- n
			}()

			convey.Convey("Then queued work is drained and results close", func() {
				convey.So(p.Shutdown(context.Background()), convey.ShouldBeNil)
				convey.So(<-done, convey.ShouldEqual, 1)
			})
		})
	})
}

func TestDriver_Run(t *testing.T) {
	convey.Convey("Given a driver", t, func() {
		convey.Convey("When every observation matches", func() {
			d := worker.NewDriver(selectorFunc(matchAll), worker.WithWorkerCount(4), worker.WithQueueSize(2))
			res := d.Run(context.Background(), observations(50))

			convey.Convey("Then each observation yields one decision", func() {
				convey.So(res.Decisions, convey.ShouldHaveLength, 50)
				convey.So(res.Dispatched, convey.ShouldEqual, 50)
				convey.So(res.Matches(), convey.ShouldHaveLength, 50)
			})

			convey.Convey("And a second run on the same driver is not seen as duplicate", func() {
				again := d.Run(context.Background(), observations(5))
				convey.So(byOutcome(again.Decisions)[model.OutcomeMatched], convey.ShouldEqual, 5)
			})
		})

		convey.Convey("When one observation panics", func() {
			sel := selectorFunc(func(ctx context.Context, obs model.ScreenshotObservation) model.Decision {
				if obs.TimestampSeconds == 3 {
					panic("bad input")
				}
				return matchAll(ctx, obs)
			})
			res := worker.NewDriver(sel, worker.WithWorkerCount(2)).Run(context.Background(), observations(10))

			convey.Convey("Then only that observation fails", func() {
				counts := byOutcome(res.Decisions)
				convey.So(counts[model.OutcomeFailed], convey.ShouldEqual, 1)
				convey.So(counts[model.OutcomeMatched], convey.ShouldEqual, 9)
				for _, dec := range res.Decisions {
					if dec.Outcome == model.OutcomeFailed {
						convey.So(errors.Is(dec.Err, worker.ErrWorkerPanic), convey.ShouldBeTrue)
						convey.So(dec.Key.TimestampSeconds, convey.ShouldEqual, 3)
					}
				}
			})
		})

		convey.Convey("When an observation exceeds its budget", func() {
			sel := selectorFunc(func(ctx context.Context, obs model.ScreenshotObservation) model.Decision {
				<-ctx.Done()
				return model.Decision{Key: obs.Key(), Outcome: model.OutcomeTimeout, Err: ctx.Err()}
			})
			res := worker.NewDriver(sel,
				worker.WithWorkerCount(2),
				worker.WithObservationTimeout(10*time.Millisecond),
			).Run(context.Background(), observations(3))

			convey.Convey("Then it is a discard tagged as a timeout", func() {
				convey.So(byOutcome(res.Decisions)[model.OutcomeTimeout], convey.ShouldEqual, 3)
				for _, dec := range res.Decisions {
					convey.So(errors.Is(dec.Err, worker.ErrObservationTimeout), convey.ShouldBeTrue)
				}
			})
		})

		convey.Convey("When the input repeats an observation", func() {
			obs := observations(3)
			obs = append(obs, obs[1])
			res := worker.NewDriver(selectorFunc(matchAll)).Run(context.Background(), obs)

			convey.Convey("Then the repeat is reported as a duplicate", func() {
				convey.So(res.Decisions, convey.ShouldHaveLength, 4)
				convey.So(byOutcome(res.Decisions)[model.OutcomeDuplicate], convey.ShouldEqual, 1)
				convey.So(res.Dispatched, convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When the run is cancelled before it starts", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			res := worker.NewDriver(selectorFunc(matchAll)).Run(ctx, observations(5))

			convey.Convey("Then nothing is dispatched", func() {
				convey.So(res.Dispatched, convey.ShouldEqual, 0)
				convey.So(res.Cancelled, convey.ShouldEqual, 5)
				convey.So(byOutcome(res.Decisions)[model.OutcomeCancelled], convey.ShouldEqual, 5)
				convey.So(errors.Is(res.Decisions[0].Err, worker.ErrCancelled), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the run is cancelled while work is in flight", func() {
			started := make(chan struct{}, 16)
			release := make(chan struct{})
			var finished atomic.Int32
			sel := selectorFunc(func(ctx context.Context, obs model.ScreenshotObservation) model.Decision {
				started <- struct{}{}
				<-release
				finished.Add(1)
				return matchAll(ctx, obs)
			})

			ctx, cancel := context.WithCancel(context.Background())
			out := make(chan worker.RunResult, 1)
			go func() {
				out <- worker.NewDriver(sel, worker.WithWorkerCount(1), worker.WithQueueSize(1)).Run(ctx, observations(10))
			}()
			<-started
			cancel()
			close(release)
			res := <-out

			convey.Convey("Then in-flight work completes and the rest is cancelled", func() {
				convey.So(res.Decisions, convey.ShouldHaveLength, 10)
				convey.So(res.Dispatched+res.Cancelled, convey.ShouldEqual, 10)
				convey.So(res.Cancelled, convey.ShouldBeGreaterThanOrEqualTo, 7)
				convey.So(int(finished.Load()), convey.ShouldEqual, res.Dispatched)
				convey.So(byOutcome(res.Decisions)[model.OutcomeMatched], convey.ShouldEqual, res.Dispatched)
			})
		})
	})
}
