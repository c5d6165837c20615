package service_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/replaylink/internal/adapters/sqlite"
	service "github.com/okian/replaylink/internal/app"
)

func TestService_EndToEnd(t *testing.T) {
	Convey("Given a sqlite store seeded with battles", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		store, err := sqlite.Open(ctx, filepath.Join(dir, "links.db"))
		So(err, ShouldBeNil)
		defer func() { _ = store.Close() }()
		So(store.UpsertBattles(ctx, battles()), ShouldBeNil)

		diag := filepath.Join(dir, "out", "matches.json")
		cfg := testConfig(4)
		svc := service.New(store, cfg, service.WithDiagnosticsPath(diag))

		report, err := svc.Run(ctx, batch(t))
		So(err, ShouldBeNil)

		Convey("Then links are persisted in time order", func() {
			links, err := store.ListLinks(ctx, "v1")
			So(err, ShouldBeNil)
			So(links, ShouldHaveLength, 3)
			So(links[0].BattleID, ShouldEqual, "B1")
			So(links[0].RepresentativeTimestamp, ShouldEqual, 30)
			So(links[1].BattleID, ShouldEqual, "B2")
			So(links[2].RepresentativeTimestamp, ShouldEqual, 120)
			So(links[0].RunID, ShouldEqual, report.RunID)
		})

		Convey("Then the diagnostics artifact is written", func() {
			So(report.DiagnosticsErr, ShouldBeNil)
			So(report.DiagnosticsPath, ShouldEqual, diag)
			data, err := os.ReadFile(diag)
			So(err, ShouldBeNil)
			So(string(data), ShouldContainSubstring, report.RunID)
			So(string(data), ShouldContainSubstring, `"players_ocr"`)
		})

		Convey("When the run is repeated", func() {
			again, err := svc.Run(ctx, batch(t))
			So(err, ShouldBeNil)

			Convey("Then links are replaced rather than duplicated", func() {
				links, err := store.ListLinks(ctx, "")
				So(err, ShouldBeNil)
				So(links, ShouldHaveLength, 4)
				for _, l := range links {
					So(l.RunID, ShouldEqual, again.RunID)
				}
			})
		})

		Convey("When a later run prunes a video that no longer matches", func() {
			cfg.PruneStaleLinks = true
			cfg.MinConfidence = 1
			b := batch(t)
			b.Observations = b.Observations[:1] // v1@30 only

			_, err := service.New(store, cfg).Run(ctx, b)
			So(err, ShouldBeNil)

			Convey("Then only the surviving link remains for that video", func() {
				links, err := store.ListLinks(ctx, "v1")
				So(err, ShouldBeNil)
				So(links, ShouldHaveLength, 1)
				So(links[0].BattleID, ShouldEqual, "B1")
				rest, err := store.ListLinks(ctx, "v2")
				So(err, ShouldBeNil)
				So(rest, ShouldHaveLength, 1)
			})
		})
	})
}
