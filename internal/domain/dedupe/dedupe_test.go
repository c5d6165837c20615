package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	dedupe "github.com/okian/replaylink/internal/domain/dedupe"
	"github.com/okian/replaylink/internal/domain/model"
)

func key(video string, ts int) model.ObservationKey {
	return model.ObservationKey{VideoID: video, TimestampSeconds: ts}
}

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new InMemoryDeduper", t, func() {
		d := dedupe.NewInMemoryDeduper()

		Convey("When an observation key is new", func() {
			seen := d.SeenAndRecord(ctx, key("v1", 30))

			Convey("Then it is recorded", func() {
				So(seen, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When the same key arrives twice", func() {
			d.SeenAndRecord(ctx, key("v1", 30))
			seen := d.SeenAndRecord(ctx, key("v1", 30))

			Convey("Then the second is a duplicate", func() {
				So(seen, ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When keys differ only by video or timestamp", func() {
			So(d.SeenAndRecord(ctx, key("v1", 30)), ShouldBeFalse)
			So(d.SeenAndRecord(ctx, key("v2", 30)), ShouldBeFalse)
			So(d.SeenAndRecord(ctx, key("v1", 31)), ShouldBeFalse)

			Convey("Then all are distinct", func() {
				So(d.Size(), ShouldEqual, 3)
			})
		})

		Convey("When a key is unrecorded", func() {
			d.SeenAndRecord(ctx, key("v1", 30))
			d.Unrecord(ctx, key("v1", 30))
			d.Unrecord(ctx, key("missing", 1))

			Convey("Then it can be recorded again", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, key("v1", 30)), ShouldBeFalse)
			})
		})
	})

	Convey("Given a bounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(2))

		Convey("When capacity is exceeded", func() {
			d.SeenAndRecord(ctx, key("v", 1))
			d.SeenAndRecord(ctx, key("v", 2))
			d.SeenAndRecord(ctx, key("v", 3))

			Convey("Then the oldest key is evicted", func() {
				So(d.Size(), ShouldEqual, 2)
				So(d.SeenAndRecord(ctx, key("v", 3)), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, key("v", 2)), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, key("v", 1)), ShouldBeFalse)
			})
		})

		Convey("When an unrecorded key frees a slot", func() {
			d.SeenAndRecord(ctx, key("v", 1))
			d.SeenAndRecord(ctx, key("v", 2))
			d.Unrecord(ctx, key("v", 1))
			d.SeenAndRecord(ctx, key("v", 3))

			Convey("Then nothing live is evicted", func() {
				So(d.Size(), ShouldEqual, 2)
				So(d.SeenAndRecord(ctx, key("v", 2)), ShouldBeTrue)
			})
		})
	})

	Convey("Given concurrent writers", t, func() {
		d := dedupe.NewInMemoryDeduper()
		var wg sync.WaitGroup
		var mu sync.Mutex
		fresh := 0
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					if !d.SeenAndRecord(ctx, key(fmt.Sprintf("v%d", i%10), i)) {
						mu.Lock()
						fresh++
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()

		Convey("Then each key is fresh exactly once", func() {
			So(fresh, ShouldEqual, 100)
			So(d.Size(), ShouldEqual, 100)
		})
	})
}
