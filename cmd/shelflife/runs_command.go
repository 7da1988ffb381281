package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"shelflife/internal/ledger"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded training runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No training runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					shortID(run.ID),
					formatTimestamp(run.StartedAt),
					string(run.Status),
					strconv.Itoa(run.Counts.Samples),
					fmt.Sprintf("%d/%d/%d", run.Counts.Train, run.Counts.Validation, run.Counts.Test),
					formatDuration(run.Duration()),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Run", "Started", "Status", "Samples", "Train/Val/Test", "Duration"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	cmd.AddCommand(newRunShowCommand(ctx))
	return cmd
}

func newRunShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and its model metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			models, err := store.ModelsForRun(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			printRun(cmd, run, models)
			return nil
		},
	}
}

func printRun(cmd *cobra.Command, run *ledger.Run, models []ledger.ModelResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:        %s\n", run.ID)
	fmt.Fprintf(out, "Status:     %s\n", run.Status)
	fmt.Fprintf(out, "Started:    %s\n", formatTimestamp(run.StartedAt))
	fmt.Fprintf(out, "Duration:   %s\n", formatDuration(run.Duration()))
	fmt.Fprintf(out, "Dataset:    %s\n", run.DatasetRoot)
	fmt.Fprintf(out, "Seed:       %d\n", run.Seed)
	c := run.Counts
	fmt.Fprintf(out, "Samples:    %d (train %d, validation %d, test %d, skipped %d)\n", c.Samples, c.Train, c.Validation, c.Test, c.Skipped)
	fmt.Fprintf(out, "Dimensions: %d\n", c.Dimensions)
	if run.Error != "" {
		fmt.Fprintf(out, "Error:      %s\n", run.Error)
	}
	if len(models) == 0 {
		return
	}
	rows := make([][]string, 0, len(models))
	for _, m := range models {
		best := "-"
		if m.BestIteration >= 0 {
			best = strconv.Itoa(m.BestIteration)
		}
		rows = append(rows, []string{
			m.Name,
			fmt.Sprintf("%.3f", m.MAE),
			fmt.Sprintf("%.3f", m.RMSE),
			fmt.Sprintf("%.3f", m.R2),
			best,
			formatDuration(m.Duration),
		})
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderTable(
		[]string{"Model", "MAE", "RMSE", "R2", "Best Iter", "Fit Time"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}
