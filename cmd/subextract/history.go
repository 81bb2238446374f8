package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/saltyorg/subextract/internal/database"
)

func newHistoryCommand(cmdCtx *commandContext) *cobra.Command {
	var limit int
	var runID int64

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent task runs, or the subtitles extracted by one run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}

			db, err := database.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			if runID > 0 {
				extractions, err := db.ListExtractions(runID, limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderExtractions(extractions))
				return nil
			}

			runs, err := db.ListTaskRuns("", limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No task runs recorded")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderRuns(runs))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of rows to show")
	cmd.Flags().Int64Var(&runID, "run", 0, "List the subtitles extracted by this run")
	return cmd
}

func renderRuns(runs []*database.TaskRun) string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			strconv.FormatInt(run.ID, 10),
			run.TaskKey,
			string(run.Status),
			run.TriggeredBy,
			formatPercent(run.Progress),
			fmt.Sprintf("%d/%d", run.ItemsProcessed, run.ItemsTotal),
			formatTime(&run.StartedAt),
			formatDuration(run.Duration()),
			run.Error,
		})
	}
	return renderTable(
		[]string{"ID", "Task", "Status", "Trigger", "Progress", "Items", "Started", "Duration", "Error"},
		rows, 0, 4,
	)
}

func renderExtractions(extractions []*database.Extraction) string {
	rows := make([][]string, 0, len(extractions))
	for _, e := range extractions {
		rows = append(rows, []string{
			e.ItemName,
			strconv.Itoa(e.StreamIndex),
			e.Codec,
			e.Language,
			strconv.FormatInt(e.SizeBytes, 10),
			e.Output,
		})
	}
	return renderTable([]string{"Item", "Stream", "Codec", "Language", "Bytes", "Output"}, rows, 1, 4)
}
