package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"shelflife/internal/artifact"
)

func newArtifactsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "artifacts",
		Short: "List saved model artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store := artifact.NewStore(cfg.Paths.ArtifactDir)
			infos, err := store.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(infos) == 0 {
				fmt.Fprintf(out, "No artifacts in %s; run `shelflife train` first\n", store.Dir())
				return nil
			}
			rows := make([][]string, 0, len(infos))
			for _, info := range infos {
				if info.Err != nil {
					rows = append(rows, []string{info.Name, "-", "-", "-", "-", humanize.Bytes(uint64(info.Size)), "unreadable: " + info.Err.Error()})
					continue
				}
				rows = append(rows, []string{
					info.Name,
					string(info.ModelKind),
					shortID(info.RunID),
					humanize.Time(info.CreatedAt),
					strconv.Itoa(info.Dimensions),
					humanize.Bytes(uint64(info.Size)),
					"ok",
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Name", "Kind", "Run", "Created", "Dims", "Size", "Status"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
}
