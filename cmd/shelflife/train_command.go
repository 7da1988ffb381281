package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"shelflife/internal/config"
	"shelflife/internal/pipeline"
)

func newTrainCommand(ctx *commandContext) *cobra.Command {
	var datasetFlag string
	var seedFlag uint64

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train every configured regressor on the dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if datasetFlag != "" {
				expanded, err := config.ExpandPath(datasetFlag)
				if err != nil {
					return fmt.Errorf("resolve dataset path: %w", err)
				}
				cfg.Paths.DatasetDir = expanded
			}
			if cmd.Flags().Changed("seed") {
				cfg.Training.Seed = seedFlag
			}

			logger, err := ctx.logger(cmd)
			if err != nil {
				return err
			}
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			trainer, err := pipeline.NewTrainer(cfg,
				pipeline.WithLogger(logger),
				pipeline.WithOutput(cmd.OutOrStdout()),
				pipeline.WithProgress(ctx.progressWriter(cmd)),
				pipeline.WithBackboneFactory(openBackbone),
				pipeline.WithLedger(store),
				pipeline.WithNotifier(ctx.notifier()),
			)
			if err != nil {
				return err
			}
			summary, err := trainer.Run(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out)
			fmt.Fprintln(out, renderSummary(summary))
			fmt.Fprintf(out, "Run %s finished in %s\n", summary.RunID, formatDuration(summary.Duration))
			if n := len(summary.DecodeSkipped); n > 0 {
				fmt.Fprintf(out, "%d undecodable images were skipped\n", n)
			}
			if summary.Diverged() {
				return errors.New("sample predictions diverged from batch predictions; see the log for details")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&datasetFlag, "dataset", "d", "", "Dataset root (overrides paths.dataset_dir)")
	cmd.Flags().Uint64Var(&seedFlag, "seed", 0, "Split and model seed (overrides training.seed)")
	return cmd
}

func renderSummary(s *pipeline.Summary) string {
	rows := make([][]string, 0, len(s.Models))
	for _, m := range s.Models {
		best := "-"
		if m.BestIteration >= 0 {
			best = strconv.Itoa(m.BestIteration)
		}
		rows = append(rows, []string{
			m.Name,
			fmt.Sprintf("%.3f", m.Report.MAE),
			fmt.Sprintf("%.3f", m.Report.RMSE),
			fmt.Sprintf("%.3f", m.Report.R2),
			best,
			formatDuration(m.Duration),
		})
	}
	return renderTable(
		[]string{"Model", "MAE", "RMSE", "R2", "Best Iter", "Fit Time"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
	)
}
