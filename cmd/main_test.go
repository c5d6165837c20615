package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/replaylink/internal/adapters/sqlite"
	"github.com/okian/replaylink/internal/domain/model"
	"github.com/okian/replaylink/pkg/logger"
)

const screenshotFixture = `{
  "v1": {
    "upload_date": "20240502",
    "screenshots": {
      "30": ["alice", "b0b", "carol"],
      "95": ["alice", "dave"],
      "400": ["erin", "frank", "grace"]
    }
  }
}`

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedFixture(t *testing.T) (dbPath, shotsPath string) {
	t.Helper()
	t.Setenv("RLINK_CONFIG", "")
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "links.db")
	shotsPath = filepath.Join(dir, "screens.json")

	store, err := sqlite.Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	if err := store.UpsertBattles(context.Background(), []model.BattleRecord{
		{BattleID: "B1", StartTime: day.Add(18 * time.Hour), ParticipantNames: []string{"Alice", "Bob", "Carol", "Dave"}},
		{BattleID: "B2", StartTime: day.Add(19 * time.Hour), ParticipantNames: []string{"Erin", "Frank", "Grace", "Heidi"}},
	}); err != nil {
		t.Fatalf("seed battles: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}
	if err := os.WriteFile(shotsPath, []byte(screenshotFixture), 0o600); err != nil {
		t.Fatalf("write screenshots: %v", err)
	}
	return dbPath, shotsPath
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "replaylink dev") {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestMatchAndLinksCommands(t *testing.T) {
	convey.Convey("Given a seeded database and a screenshot file", t, func() {
		db, shots := seedFixture(t)
		diag := filepath.Join(filepath.Dir(db), "matches.json")

		convey.Convey("When match runs", func() {
			out, err := runCLI(t, "match", "--db", db, "--screenshots", shots, "--diagnostics", diag, "--workers", "2")

			convey.Convey("Then it prints a summary and the links", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "matched")
				convey.So(out, convey.ShouldContainSubstring, "B1")
				convey.So(out, convey.ShouldContainSubstring, "6:40")
				_, statErr := os.Stat(diag)
				convey.So(statErr, convey.ShouldBeNil)
			})

			convey.Convey("Then links lists what was stored", func() {
				convey.So(err, convey.ShouldBeNil)
				out, err := runCLI(t, "links", "v1", "--db", db)
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "B1")
				convey.So(out, convey.ShouldContainSubstring, "B2")
				convey.So(out, convey.ShouldContainSubstring, "0:30")
			})
		})

		convey.Convey("When links runs on an empty database", func() {
			out, err := runCLI(t, "links", "--db", db)

			convey.Convey("Then it says so", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "No links stored.")
			})
		})

		convey.Convey("When a flag makes the configuration invalid", func() {
			_, err := runCLI(t, "match", "--db", db, "--screenshots", shots, "--min-confidence", "3")

			convey.Convey("Then match refuses to run", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "min_confidence")
			})
		})

		convey.Convey("When the screenshot file is missing", func() {
			_, err := runCLI(t, "match", "--db", db, "--screenshots", filepath.Join(filepath.Dir(db), "nope.json"))

			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestGenerateThenMatch(t *testing.T) {
	convey.Convey("Given a synthetic dataset written by generate", t, func() {
		t.Setenv("RLINK_CONFIG", "")
		dir := t.TempDir()
		db := filepath.Join(dir, "synth.db")
		shots := filepath.Join(dir, "out", "screens.json")
		truth := filepath.Join(dir, "out", "truth.json")

		out, err := runCLI(t, "generate", "--db", db, "--screenshots", shots, "--truth", truth,
			"--battles", "40", "--videos", "8", "--seed", "3")
		convey.So(err, convey.ShouldBeNil)
		convey.So(out, convey.ShouldContainSubstring, "screenshots")

		convey.Convey("Then the outputs exist", func() {
			for _, p := range []string{db, shots, truth} {
				_, statErr := os.Stat(p)
				convey.So(statErr, convey.ShouldBeNil)
			}
		})

		convey.Convey("When match scores the run against the truth", func() {
			out, err := runCLI(t, "match", "--db", db, "--screenshots", shots, "--truth", truth)

			convey.Convey("Then it prints an accuracy table", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(strings.ToUpper(out), convey.ShouldContainSubstring, "PRECISION")
				convey.So(out, convey.ShouldContainSubstring, "B000")
			})
		})

		convey.Convey("When the truth file is missing", func() {
			_, err := runCLI(t, "match", "--db", db, "--screenshots", shots, "--truth", filepath.Join(dir, "none.json"))

			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestFormatOffset(t *testing.T) {
	cases := map[int]string{0: "0:00", 65: "1:05", 3600: "1:00:00", 3725: "1:02:05"}
	for in, want := range cases {
		if got := formatOffset(in); got != want {
			t.Errorf("formatOffset(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestMetricsHandler(t *testing.T) {
	srv := httptest.NewServer(metricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "replaylink") {
		t.Fatalf("expected replaylink metrics, got %q", string(body))
	}
}

func TestStartMetricsServer(t *testing.T) {
	_ = logger.Init(logger.WithWriter(io.Discard))
	addr, stop, err := startMetricsServer(context.Background(), "127.0.0.1:0", logger.Nop())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stop()

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}
