package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"shelflife/internal/artifact"
	"shelflife/internal/config"
	"shelflife/internal/logging"
	"shelflife/internal/pipeline"
)

func newPredictCommand(ctx *commandContext) *cobra.Command {
	var modelFlag string
	var notify bool

	cmd := &cobra.Command{
		Use:   "predict <image>",
		Short: "Estimate the shelf life of one image in days",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return fmt.Errorf("resolve image path: %w", err)
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("inspect image %q: %w", path, err)
			}

			logger, err := ctx.logger(cmd)
			if err != nil {
				return err
			}
			opts := []pipeline.Option{
				pipeline.WithLogger(logger),
				pipeline.WithBackboneFactory(openBackbone),
			}
			// The ledger only records the prediction.
			if store, err := ctx.openLedger(); err != nil {
				logging.WarnWithContext(logger, "run ledger unavailable", "ledger_open_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check paths.log_dir"),
					logging.String(logging.FieldImpact, "prediction will not be recorded"),
				)
			} else {
				defer store.Close()
				opts = append(opts, pipeline.WithLedger(store))
			}

			predictor, err := pipeline.OpenPredictor(cmd.Context(), cfg, modelFlag, opts...)
			if err != nil {
				return err
			}
			defer predictor.Close()

			value, err := predictor.PredictPath(cmd.Context(), path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.3f\n", value)
			if notify {
				if err := ctx.notifier().NotifyPrediction(cmd.Context(), path, modelFlag, value); err != nil {
					logger.Warn("prediction notification failed", logging.Error(err))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&modelFlag, "model", "m", artifact.GradientBoostedName, "Saved model to score with")
	cmd.Flags().BoolVar(&notify, "notify", false, "Publish the prediction to ntfy")
	return cmd
}
