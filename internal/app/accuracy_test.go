package service_test

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/replaylink/internal/adapters/screenshots"
	service "github.com/okian/replaylink/internal/app"
	"github.com/okian/replaylink/internal/domain/model"
	"github.com/okian/replaylink/internal/synth"
)

func TestService_SyntheticAccuracy(t *testing.T) {
	Convey("Given a synthetic dataset with noisy readings", t, func() {
		ctx := context.Background()
		gen := synth.DefaultConfig()
		gen.Battles = 80
		gen.Videos = 24
		gen.Seed = 7
		ds, err := synth.Generate(ctx, gen)
		So(err, ShouldBeNil)

		data, err := ds.ScreenshotJSON()
		So(err, ShouldBeNil)
		b, err := screenshots.Parse(data)
		So(err, ShouldBeNil)

		store := newFakeStore()
		store.battles = ds.Battles
		report, err := service.New(store, testConfig(4)).Run(ctx, b)
		So(err, ShouldBeNil)

		v := synth.Verify(ds.Truth(), report.Decisions)

		Convey("Then every screenshot is accounted for", func() {
			So(v.Overall.Total, ShouldEqual, ds.ScreenshotCount())
			So(v.Overall.Correct+v.Overall.Wrong+v.Overall.Missed, ShouldEqual, v.Overall.Total)
		})

		Convey("Then screenshots with a known video start are matched reliably", func() {
			started := v.ByReference[model.RefVideoStart]
			So(started.Total, ShouldBeGreaterThan, 0)
			So(started.Precision(), ShouldBeGreaterThanOrEqualTo, 0.9)
			So(started.Recall(), ShouldBeGreaterThanOrEqualTo, 0.8)
		})
	})
}
