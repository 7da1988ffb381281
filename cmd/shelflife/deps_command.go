package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"shelflife/internal/deps"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check external dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			statuses := deps.Check(cfg)
			rows := make([][]string, 0, len(statuses))
			missing := 0
			for _, s := range statuses {
				if !s.Available && !s.Optional {
					missing++
				}
				rows = append(rows, []string{s.Name, yesNo(s.Available), yesNo(s.Optional), s.Detail})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Dependency", "Available", "Optional", "Detail"},
				rows,
				nil,
			))
			if missing > 0 {
				return fmt.Errorf("%d required dependencies missing", missing)
			}
			return nil
		},
	}
}
