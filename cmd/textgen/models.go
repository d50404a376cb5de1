package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"textgen/internal/registry"
)

func newModelsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List model files in the models directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			models, err := registry.LoadDir(cfg.Backend.ModelsDir)
			if err != nil {
				return fmt.Errorf("scan %s: %w", cfg.Backend.ModelsDir, err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPATH")
			for _, m := range models {
				fmt.Fprintf(tw, "%s\t%s\n", m.ID, m.Path)
			}
			return tw.Flush()
		},
	}
}
