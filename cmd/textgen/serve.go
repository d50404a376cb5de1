package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"textgen/internal/httpapi"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		addr    string
		origins string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the generation commands over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if origins != "" {
				cfg.CORS.Enabled = true
				cfg.CORS.AllowedOrigins = splitCSV(origins)
			}
			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			a, err := newApp(opts, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// A worker that fails to start is reported but does not stop the
			// server; POST /v1/restart tries again.
			if err := a.start(ctx); err != nil {
				log.Error().Err(err).Msg("generator start failed")
			}

			httpapi.SetLogger(log)
			httpapi.SetBaseContext(ctx)
			httpapi.SetCORSOptions(httpapi.CORSOptions{
				Enabled:        cfg.CORS.Enabled,
				AllowedOrigins: cfg.CORS.AllowedOrigins,
				AllowedMethods: cfg.CORS.AllowedMethods,
				AllowedHeaders: cfg.CORS.AllowedHeaders,
				MaxAge:         time.Duration(cfg.CORS.MaxAgeSeconds) * time.Second,
			})
			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           httpapi.NewMux(a.orch),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info().Str("addr", cfg.Addr).Str("backend", cfg.Backend.Kind).
					Str("mode", cfg.Worker.Mode).Msg("textgen listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(sctx); err != nil {
					log.Warn().Err(err).Msg("graceful shutdown")
				}
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default "+defaultAddrHint+")")
	cmd.Flags().StringVar(&origins, "cors-origins", "", "Comma-separated origins allowed by CORS; enables CORS")
	return cmd
}

const defaultAddrHint = ":8080 or $TEXTGEN_ADDR"
