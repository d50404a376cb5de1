package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"textgen/internal/payload"
	"textgen/internal/worker"
)

func newWorkerCmd(opts *rootOptions) *cobra.Command {
	var payloadPath string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a generation worker on stdin/stdout (spawned by serve, generate and repl)",
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
			if payloadPath == "" {
				payloadPath = os.Getenv(payload.EnvPath)
			}
			if payloadPath == "" {
				payloadPath = payload.DefaultPath()
			}
			log = log.With().Int("pid", os.Getpid()).Logger()

			// The supervisor stops the worker with quit; signals only end a
			// worker run by hand.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := worker.New(worker.Config{
				Backend:       cfg.BackendOptions(),
				PayloadPath:   payloadPath,
				DefaultBudget: cfg.Worker.DefaultBudget,
			}, log)
			return w.Run(ctx, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&payloadPath, "payload", "", "Payload channel file (default $"+payload.EnvPath+")")
	return cmd
}
