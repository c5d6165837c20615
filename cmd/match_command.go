package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/replaylink/internal/adapters/screenshots"
	"github.com/okian/replaylink/internal/adapters/sqlite"
	service "github.com/okian/replaylink/internal/app"
	"github.com/okian/replaylink/internal/config"
	"github.com/okian/replaylink/internal/domain/model"
	"github.com/okian/replaylink/internal/synth"
	"github.com/okian/replaylink/pkg/logger"
)

type matchFlags struct {
	database      string
	screenshots   string
	diagnostics   string
	metricsAddr   string
	workers       int
	minConfidence float64
	policy        string
	prune         bool
	noFolding     bool
	truth         string
}

func newMatchCommand(ctx *commandContext) *cobra.Command {
	var f matchFlags

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match screenshots to battles and store the links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(cmd)
			if err != nil {
				return err
			}
			applyMatchFlags(cmd, &f, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runMatch(cmd, cfg, f.truth)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.database, "db", "", "SQLite database with battles and links")
	flags.StringVar(&f.screenshots, "screenshots", "", "Screenshot JSON produced by the OCR stage")
	flags.StringVar(&f.diagnostics, "diagnostics", "", "Write the per-screenshot diagnostics artifact here")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	flags.IntVar(&f.workers, "workers", 0, "Number of matching workers")
	flags.Float64Var(&f.minConfidence, "min-confidence", 0, "Minimum score for a screenshot to match")
	flags.StringVar(&f.policy, "ambiguity", "", "What to do with near-tied matches: flag or defer")
	flags.BoolVar(&f.prune, "prune", false, "Drop earlier links of every re-matched video")
	flags.BoolVar(&f.noFolding, "no-ocr-folding", false, "Do not fold OCR digit confusions")
	flags.StringVar(&f.truth, "truth", "", "Score the run against a truth file written by generate")

	return cmd
}

// applyMatchFlags overrides configuration with the flags given on the command line.
func applyMatchFlags(cmd *cobra.Command, f *matchFlags, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("db") {
		cfg.DatabasePath = f.database
	}
	if changed("screenshots") {
		cfg.ScreenshotsPath = f.screenshots
	}
	if changed("diagnostics") {
		cfg.DiagnosticsPath = f.diagnostics
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if changed("workers") {
		cfg.WorkerCount = f.workers
	}
	if changed("min-confidence") {
		cfg.MinConfidence = f.minConfidence
	}
	if changed("ambiguity") {
		cfg.AmbiguityPolicy = f.policy
	}
	if changed("prune") {
		cfg.PruneStaleLinks = f.prune
	}
	if changed("no-ocr-folding") {
		cfg.OCRFolding = !f.noFolding
	}
}

func runMatch(cmd *cobra.Command, cfg *config.Config, truthPath string) error {
	ctx := cmd.Context()
	log, err := initLogging(ctx, cmd.ErrOrStderr(), cfg)
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		_, stop, err := startMetricsServer(ctx, cfg.MetricsAddr, log.Named("metrics"))
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		defer stop()
	}

	batch, err := screenshots.ReadFile(cfg.ScreenshotsPath)
	if err != nil {
		return err
	}
	var truth synth.Truth
	if truthPath != "" {
		if truth, err = synth.ReadTruth(truthPath); err != nil {
			return err
		}
	}

	store, err := sqlite.Open(ctx, cfg.DatabasePath, sqlite.WithLogger(log.Named("store")))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn(ctx, "close store", logger.Error(err))
		}
	}()

	svc := service.New(store, cfg,
		service.WithLogger(log),
		service.WithDiagnosticsPath(cfg.DiagnosticsPath))
	report, err := svc.Run(ctx, batch)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := writeReport(out, report); err != nil {
		return err
	}
	if truth != nil {
		if err := writeAccuracy(out, synth.Verify(truth, report.Decisions)); err != nil {
			return err
		}
	}
	if !report.OK() {
		return fmt.Errorf("%d of %d video(s) not persisted", len(report.FailedVideos), len(report.FailedVideos)+len(report.LinkedVideos))
	}
	return nil
}

var reportOutcomes = []model.Outcome{
	model.OutcomeMatched,
	model.OutcomeNoCandidate,
	model.OutcomeBelowThreshold,
	model.OutcomeDeferred,
	model.OutcomeInsufficient,
	model.OutcomeMalformed,
	model.OutcomeDuplicate,
	model.OutcomeTimeout,
	model.OutcomeFailed,
	model.OutcomeCancelled,
}

func writeReport(w io.Writer, r *service.Report) error {
	rows := [][]string{
		{"run id", r.RunID},
		{"battles indexed", strconv.Itoa(r.Battles)},
		{"battles skipped", strconv.Itoa(r.SkippedBattles)},
		{"observations", strconv.Itoa(r.Observations)},
		{"input problems", strconv.Itoa(r.InputProblems)},
	}
	for _, o := range reportOutcomes {
		if n := r.Count(o); n > 0 {
			rows = append(rows, []string{string(o), strconv.Itoa(n)})
		}
	}
	rows = append(rows,
		[]string{"degraded", strconv.Itoa(r.Degraded)},
		[]string{"ambiguous", strconv.Itoa(r.Ambiguous)},
		[]string{"links", strconv.Itoa(len(r.Links))},
		[]string{"linked videos", strconv.Itoa(len(r.LinkedVideos))},
		[]string{"failed videos", strconv.Itoa(len(r.FailedVideos))},
		[]string{"duration", r.Duration.Round(time.Millisecond).String()},
	)
	if r.DiagnosticsPath != "" {
		rows = append(rows, []string{"diagnostics", r.DiagnosticsPath})
	}
	if _, err := fmt.Fprintln(w, renderTable([]string{"Run", "Value"}, rows, []columnAlignment{alignLeft, alignRight})); err != nil {
		return err
	}

	if len(r.Links) > 0 {
		linkRows := make([][]string, 0, len(r.Links))
		for _, l := range r.Links {
			linkRows = append(linkRows, []string{
				l.VideoID,
				formatOffset(l.RepresentativeTimestamp),
				l.BattleID,
				strconv.FormatFloat(l.Score, 'f', 3, 64),
				yesNo(l.Ambiguous),
			})
		}
		if _, err := fmt.Fprintln(w, renderTable(
			[]string{"Video", "At", "Battle", "Score", "Ambiguous"}, linkRows,
			[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignLeft})); err != nil {
			return err
		}
	}

	if len(r.FailedVideos) > 0 {
		failed := make([][]string, 0, len(r.FailedVideos))
		for _, f := range r.FailedVideos {
			failed = append(failed, []string{f.VideoID, f.Err.Error()})
		}
		sort.Slice(failed, func(i, j int) bool { return failed[i][0] < failed[j][0] })
		if _, err := fmt.Fprintln(w, renderTable([]string{"Failed video", "Error"}, failed, nil)); err != nil {
			return err
		}
	}
	return nil
}

func writeAccuracy(w io.Writer, v synth.Verification) error {
	row := func(name string, a synth.Accuracy) []string {
		return []string{
			name,
			strconv.Itoa(a.Total),
			strconv.Itoa(a.Correct),
			strconv.Itoa(a.Wrong),
			strconv.Itoa(a.Missed),
			strconv.FormatFloat(a.Precision(), 'f', 3, 64),
			strconv.FormatFloat(a.Recall(), 'f', 3, 64),
		}
	}
	var rows [][]string
	for _, ref := range []model.TimeReference{model.RefVideoStart, model.RefUploadDate, model.RefNone} {
		if a, ok := v.ByReference[ref]; ok {
			rows = append(rows, row(ref.String(), a))
		}
	}
	rows = append(rows, row("all", v.Overall))
	_, err := fmt.Fprintln(w, renderTable(
		[]string{"Reference", "Total", "Correct", "Wrong", "Missed", "Precision", "Recall"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight}))
	return err
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
