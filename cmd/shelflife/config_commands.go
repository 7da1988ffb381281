package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"shelflife/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var values config.SampleValues
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter configuration and report what training still needs",
		Long: `Write a starter shelflife.toml. Without a path the file goes to
~/.config/shelflife/config.toml. --dataset and --decode-failure fill in the
two settings every training run depends on.`,
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := initTarget(args)
			if err != nil {
				return err
			}
			values.DecodeFailure = strings.ToLower(strings.TrimSpace(values.DecodeFailure))
			switch values.DecodeFailure {
			case "", config.DecodeFailureSkip, config.DecodeFailureAbort:
			default:
				return fmt.Errorf("--decode-failure must be %q or %q, got %q", config.DecodeFailureSkip, config.DecodeFailureAbort, values.DecodeFailure)
			}
			if values.DatasetDir != "" {
				if values.DatasetDir, err = config.ExpandPath(values.DatasetDir); err != nil {
					return fmt.Errorf("resolve dataset path: %w", err)
				}
			}

			if _, err := os.Stat(target); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to replace it", target)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("inspect %s: %w", target, err)
			}
			if err := config.CreateSampleWith(target, values); err != nil {
				return err
			}

			cfg, _, _, err := config.Load(target)
			if err != nil {
				return fmt.Errorf("reload %s: %w", target, err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created %s\n", target)
			pending := 0
			for _, item := range trainingReadiness(cfg) {
				state := "ok"
				if item.problem != "" {
					state = item.problem
					pending++
				}
				fmt.Fprintf(out, "  %-24s %s (%s)\n", item.key, item.value, state)
			}
			if pending == 0 {
				fmt.Fprintln(out, "Ready for 'shelflife train'.")
			} else {
				fmt.Fprintf(out, "%d setting(s) need attention before 'shelflife train'.\n", pending)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&values.DatasetDir, "dataset", "", "Produce dataset root to write as paths.dataset_dir")
	cmd.Flags().StringVar(&values.DecodeFailure, "decode-failure", "", "Policy for undecodable images: skip or abort")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Replace an existing file")
	return cmd
}

func initTarget(args []string) (string, error) {
	if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
		target, err := config.ExpandPath(strings.TrimSpace(args[0]))
		if err != nil {
			return "", fmt.Errorf("resolve config path: %w", err)
		}
		return target, nil
	}
	target, err := config.DefaultConfigPath()
	if err != nil {
		return "", fmt.Errorf("determine default config path: %w", err)
	}
	return target, nil
}

type readinessItem struct {
	key     string
	value   string
	problem string
}

// trainingReadiness lists the settings a training run reads from disk or
// requires explicitly, with what is wrong about each.
func trainingReadiness(cfg *config.Config) []readinessItem {
	items := []readinessItem{
		{key: "paths.dataset_dir", value: cfg.Paths.DatasetDir, problem: missingPath(cfg.Paths.DatasetDir, true)},
		{key: "training.decode_failure", value: cfg.Training.DecodeFailure},
		{key: "embedding.model_path", value: cfg.Embedding.ModelPath, problem: missingPath(cfg.Embedding.ModelPath, false)},
	}
	if cfg.Training.DecodeFailure == "" {
		items[1].value = `""`
		items[1].problem = "unset"
	}
	return items
}

func missingPath(path string, wantDir bool) string {
	if strings.TrimSpace(path) == "" {
		return "unset"
	}
	info, err := os.Stat(path)
	switch {
	case err != nil:
		return "not found"
	case wantDir && !info.IsDir():
		return "not a directory"
	case !wantDir && info.IsDir():
		return "is a directory"
	}
	return ""
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	var training bool

	cmd := &cobra.Command{
		Use:         "validate",
		Short:       "Validate configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if ctx.configFlag != nil {
				path = strings.TrimSpace(*ctx.configFlag)
			}
			cfg, resolved, exists, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			if training {
				if err := cfg.ValidateForTraining(); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", resolved)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
	cmd.Flags().BoolVar(&training, "training", false, "Also check the settings a training run requires")
	return cmd
}
