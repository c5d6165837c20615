package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/okian/replaylink/internal/adapters/sqlite"
	"github.com/okian/replaylink/pkg/logger"
)

func newLinksCommand(ctx *commandContext) *cobra.Command {
	var database string

	cmd := &cobra.Command{
		Use:   "links [video-id]",
		Short: "List stored video to battle links",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("db") {
				cfg.DatabasePath = database
			}
			log, err := initLogging(cmd.Context(), cmd.ErrOrStderr(), cfg)
			if err != nil {
				return err
			}

			var videoID string
			if len(args) == 1 {
				videoID = args[0]
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

			links, err := store.ListLinks(cmd.Context(), videoID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(links) == 0 {
				_, err := fmt.Fprintln(out, "No links stored.")
				return err
			}

			rows := make([][]string, 0, len(links))
			for _, l := range links {
				rows = append(rows, []string{
					l.VideoID,
					formatOffset(l.RepresentativeTimestamp),
					l.BattleID,
					strconv.FormatFloat(l.Score, 'f', 3, 64),
					yesNo(l.Ambiguous),
					fmt.Sprintf("%d/%d", l.ObservedCount, l.RosterCount),
					l.RunID,
				})
			}
			_, err = fmt.Fprintln(out, renderTable(
				[]string{"Video", "At", "Battle", "Score", "Ambiguous", "Names", "Run"}, rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignLeft, alignRight, alignLeft}))
			return err
		},
	}

	cmd.Flags().StringVar(&database, "db", "", "SQLite database with stored links")
	return cmd
}
