package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"textgen/internal/orchestrator"
)

// newGenerateCmd filters stdin to stdout: the input is the selection and the
// output is the selection plus its continuation. Editors that can pipe a
// region through a command use this directly.
func newGenerateCmd(opts *rootOptions) *cobra.Command {
	var (
		maxTokens int
		yes       bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Extend the text read from stdin and write the result to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			in, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			a, err := newApp(opts, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.start(cmd.Context()); err != nil {
				return err
			}

			ed := orchestrator.NewBuffer(string(in))
			if yes {
				ed.WithAnswer("y")
			}
			gerr := a.orch.GenerateBudget(cmd.Context(), ed, maxTokens)
			for _, m := range ed.Messages() {
				fmt.Fprintln(os.Stderr, m)
			}
			out, _ := ed.Result()
			if _, err := io.WriteString(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			return gerr
		},
	}
	cmd.Flags().IntVarP(&maxTokens, "max-tokens", "n", 0, "Length budget for this request (default: saved session value)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Answer yes to the confirmation prompt")
	return cmd
}
