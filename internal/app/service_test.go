package service_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/replaylink/internal/adapters/repository"
	"github.com/okian/replaylink/internal/adapters/screenshots"
	"github.com/okian/replaylink/internal/adapters/sqlite"
	service "github.com/okian/replaylink/internal/app"
	"github.com/okian/replaylink/internal/config"
	"github.com/okian/replaylink/internal/domain/model"
	"github.com/okian/replaylink/pkg/logger"
)

var day = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func battles() []model.BattleRecord {
	return []model.BattleRecord{
		{BattleID: "B1", StartTime: day.Add(18 * time.Hour), ParticipantNames: []string{"Alice", "Bob", "Carol", "Dave"}},
		{BattleID: "B2", StartTime: day.Add(19 * time.Hour), ParticipantNames: []string{"Erin", "Frank", "Grace", "Heidi"}},
		{BattleID: "B3", StartTime: time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC), ParticipantNames: []string{"Alice", "Bob", "Carol", "Dave"}},
		{BattleID: "B4", StartTime: day},
	}
}

const screenshotJSON = `{
  "v1": {
    "title": "Night session",
    "upload_date": "20240502",
    "screenshots": {
      "30": ["alice", "bob", "carol"],
      "60": ["alice", "dave"],
      "90": ["erin", "frank", "grace"],
      "120": ["bob", "carol"],
      "150": ["qqqq"]
    }
  },
  "v2": {
    "screenshots": {"10": ["heidi", "grace"]}
  },
  "v3": {
    "upload_date": "20240502",
    "screenshots": {"5": []}
  }
}`

func batch(t *testing.T) *screenshots.Batch {
	t.Helper()
	b, err := screenshots.Parse([]byte(screenshotJSON))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return b
}

func testConfig(workers int) *config.Config {
	cfg := config.New(context.Background())
	cfg.WorkerCount = workers
	return cfg
}

type fakeStore struct {
	mu        sync.Mutex
	battles   []model.BattleRecord
	loadErr   error
	orphans   int
	lockErr   error
	failVideo string
	written   map[string][]model.VideoBattleLink
	unlocked  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{battles: battles(), written: make(map[string][]model.VideoBattleLink)}
}

func (f *fakeStore) LoadBattles(context.Context) ([]model.BattleRecord, sqlite.LoadStats, error) {
	return f.battles, sqlite.LoadStats{Battles: len(f.battles), OrphanParticipants: f.orphans}, f.loadErr
}

func (f *fakeStore) AcquireWriter(context.Context) (func() error, error) {
	if f.lockErr != nil {
		return nil, f.lockErr
	}
	return func() error {
		f.mu.Lock()
		f.unlocked = true
		f.mu.Unlock()
		return nil
	}, nil
}

func (f *fakeStore) ReplaceVideoLinks(_ context.Context, video model.Video, links []model.VideoBattleLink, _ string, _ bool) error {
	if video.VideoID == f.failVideo {
		return errors.New("disk full")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written[video.VideoID] = links
	return nil
}

func battleIDs(links []model.VideoBattleLink) []string {
	out := make([]string, len(links))
	for i, l := range links {
		out[i] = fmt.Sprintf("%s@%ds", l.BattleID, l.RepresentativeTimestamp)
	}
	return out
}

func TestService_Run(t *testing.T) {
	Convey("Given a store with battles and a screenshot batch", t, func() {
		ctx := context.Background()
		store := newFakeStore()
		svc := service.New(store, testConfig(4), service.WithRunIDGenerator(func() string { return "run-1" }))

		report, err := svc.Run(ctx, batch(t))

		Convey("Then the run succeeds and counts every observation", func() {
			So(err, ShouldBeNil)
			So(report.RunID, ShouldEqual, "run-1")
			So(report.Battles, ShouldEqual, 3)
			So(report.SkippedBattles, ShouldEqual, 1)
			So(report.Observations, ShouldEqual, 7)
			So(report.Decisions, ShouldHaveLength, 7)
			So(report.Count(model.OutcomeMatched), ShouldEqual, 5)
			So(report.Count(model.OutcomeMalformed), ShouldEqual, 1)
			So(report.Degraded, ShouldEqual, 1)
			So(report.OK(), ShouldBeTrue)
			So(store.unlocked, ShouldBeTrue)
		})

		Convey("Then consecutive screenshots of a battle collapse and returns start a new link", func() {
			So(battleIDs(store.written["v1"]), ShouldResemble, []string{"B1@30s", "B2@90s", "B1@120s"})
			So(battleIDs(store.written["v2"]), ShouldResemble, []string{"B2@10s"})
			So(report.LinkedVideos, ShouldResemble, []string{"v1", "v2"})
		})

		Convey("Then videos without links still have their metadata written", func() {
			links, ok := store.written["v3"]
			So(ok, ShouldBeTrue)
			So(links, ShouldBeEmpty)
		})

		Convey("Then the malformed screenshot is reported as a failure", func() {
			So(report.Failures, ShouldHaveLength, 1)
			So(report.Failures[0].Key.VideoID, ShouldEqual, "v3")
			So(errors.Is(report.Failures[0].Err, model.ErrMalformedObservation), ShouldBeTrue)
		})
	})

	Convey("Given different worker counts", t, func() {
		ctx := context.Background()
		one, many := newFakeStore(), newFakeStore()

		r1, err1 := service.New(one, testConfig(1)).Run(ctx, batch(t))
		r2, err2 := service.New(many, testConfig(8)).Run(ctx, batch(t))

		Convey("Then the links are identical", func() {
			So(err1, ShouldBeNil)
			So(err2, ShouldBeNil)
			So(r2.Links, ShouldResemble, r1.Links)
			So(many.written, ShouldResemble, one.written)
		})
	})

	Convey("Given a store that fails for one video", t, func() {
		store := newFakeStore()
		store.failVideo = "v2"

		report, err := service.New(store, testConfig(2)).Run(context.Background(), batch(t))

		Convey("Then the other videos are still written", func() {
			So(err, ShouldBeNil)
			So(report.PartialSuccess(), ShouldBeTrue)
			So(report.LinkedVideos, ShouldResemble, []string{"v1"})
			So(report.FailedVideos, ShouldHaveLength, 1)
			So(report.FailedVideos[0].VideoID, ShouldEqual, "v2")
			So(errors.Is(report.FailedVideos[0].Err, service.ErrPersistence), ShouldBeTrue)
		})
	})

	Convey("Given a store whose writer lock is held elsewhere", t, func() {
		store := newFakeStore()
		store.lockErr = sqlite.ErrLocked

		_, err := service.New(store, testConfig(2)).Run(context.Background(), batch(t))

		Convey("Then the run reports a persistence failure", func() {
			So(errors.Is(err, service.ErrPersistence), ShouldBeTrue)
			So(errors.Is(err, sqlite.ErrLocked), ShouldBeTrue)
			So(service.IsFatal(err), ShouldBeFalse)
		})
	})

	Convey("Given a store without usable battles", t, func() {
		store := newFakeStore()
		store.battles = battles()[3:]

		_, err := service.New(store, testConfig(2)).Run(context.Background(), batch(t))

		Convey("Then the run aborts with an unavailable index", func() {
			So(errors.Is(err, repository.ErrIndexUnavailable), ShouldBeTrue)
			So(service.IsFatal(err), ShouldBeTrue)
			So(store.written, ShouldBeEmpty)
		})
	})

	Convey("Given a store that cannot be read", t, func() {
		store := newFakeStore()
		store.loadErr = errors.New("no such table")

		_, err := service.New(store, testConfig(2)).Run(context.Background(), batch(t))

		So(errors.Is(err, service.ErrLoadBattles), ShouldBeTrue)
		So(service.IsFatal(err), ShouldBeTrue)
	})

	Convey("Given a store whose battle data has orphan participants", t, func() {
		var buf bytes.Buffer
		So(logger.Init(logger.WithWriter(&buf)), ShouldBeNil)
		store := newFakeStore()
		store.orphans = 3

		_, err := service.New(store, testConfig(2), service.WithLogger(logger.Get())).Run(context.Background(), batch(t))

		Convey("Then the pipeline leaves reporting them to the store", func() {
			So(err, ShouldBeNil)
			So(buf.String(), ShouldNotContainSubstring, "battle data has problems")
			So(buf.String(), ShouldContainSubstring, "roster index built")
		})
	})

	Convey("Given a run cancelled before dispatch", t, func() {
		store := newFakeStore()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		report, err := service.New(store, testConfig(2)).Run(ctx, batch(t))

		Convey("Then nothing is persisted and every video is incomplete", func() {
			So(err, ShouldBeNil)
			So(report.Cancelled, ShouldBeTrue)
			So(report.Count(model.OutcomeCancelled), ShouldEqual, 7)
			So(store.written, ShouldBeEmpty)
			So(report.FailedVideos, ShouldHaveLength, 3)
			So(errors.Is(report.FailedVideos[0].Err, service.ErrIncomplete), ShouldBeTrue)
		})
	})
}
