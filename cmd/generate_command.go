package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/okian/replaylink/internal/adapters/sqlite"
	"github.com/okian/replaylink/internal/synth"
	"github.com/okian/replaylink/pkg/logger"
)

type generateFlags struct {
	database    string
	screenshots string
	truth       string
	battles     int
	videos      int
	seed        uint64
	noise       float64
	workers     int
}

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var f generateFlags
	defaults := synth.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Create synthetic battles and screenshots with known answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("db") {
				cfg.DatabasePath = f.database
			}
			if cmd.Flags().Changed("screenshots") {
				cfg.ScreenshotsPath = f.screenshots
			}
			log, err := initLogging(cmd.Context(), cmd.ErrOrStderr(), cfg)
			if err != nil {
				return err
			}

			gen := synth.DefaultConfig()
			gen.Battles = f.battles
			gen.Videos = f.videos
			gen.Seed = f.seed
			gen.NoiseRate = f.noise
			if f.workers > 0 {
				gen.Workers = f.workers
			}

			ds, err := synth.Generate(cmd.Context(), gen, synth.WithLogger(log.Named("synth")))
			if err != nil {
				return err
			}

			store, err := sqlite.Open(cmd.Context(), cfg.DatabasePath, sqlite.WithLogger(log.Named("store")))
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					log.Warn(cmd.Context(), "close store", logger.Error(err))
				}
			}()
			if err := store.UpsertBattles(cmd.Context(), ds.Battles); err != nil {
				return err
			}

			shots, err := ds.ScreenshotJSON()
			if err != nil {
				return fmt.Errorf("encode screenshots: %w", err)
			}
			if err := writeOutput(cfg.ScreenshotsPath, shots); err != nil {
				return err
			}
			if f.truth != "" {
				truth, err := synth.MarshalTruth(ds.Truth())
				if err != nil {
					return fmt.Errorf("encode truth: %w", err)
				}
				if err := writeOutput(f.truth, truth); err != nil {
					return err
				}
			}

			rows := [][]string{
				{"battles", strconv.Itoa(len(ds.Battles))},
				{"videos", strconv.Itoa(len(ds.Videos))},
				{"screenshots", strconv.Itoa(ds.ScreenshotCount())},
				{"database", cfg.DatabasePath},
				{"screenshot file", cfg.ScreenshotsPath},
			}
			if f.truth != "" {
				rows = append(rows, []string{"truth file", f.truth})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Generated", "Value"}, rows, nil))
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.database, "db", "", "SQLite database to add battles to")
	flags.StringVar(&f.screenshots, "screenshots", "", "Write the screenshot JSON here")
	flags.StringVar(&f.truth, "truth", "", "Write the expected battle of every screenshot here")
	flags.IntVar(&f.battles, "battles", defaults.Battles, "Number of battles")
	flags.IntVar(&f.videos, "videos", defaults.Videos, "Number of videos")
	flags.Uint64Var(&f.seed, "seed", defaults.Seed, "Random seed")
	flags.Float64Var(&f.noise, "noise", defaults.NoiseRate, "Chance a visible name is misread")
	flags.IntVar(&f.workers, "workers", 0, "Generator goroutines")

	return cmd
}

func writeOutput(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
