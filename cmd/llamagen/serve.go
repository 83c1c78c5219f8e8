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

	"llamagen/internal/httpapi"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(o *options) *cobra.Command {
	var warm bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load(cmd)
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel, cfg.LogFormat)
			mgr, err := buildManager(cfg, log)
			if err != nil {
				return err
			}
			defer mgr.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			httpapi.SetLogger(log)
			httpapi.SetBaseContext(ctx)
			if cfg.MaxBodyBytes > 0 {
				httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
			}
			httpapi.SetCORSOptions(len(cfg.CORSOrigins) > 0, cfg.CORSOrigins, nil, nil)

			if warm {
				if err := mgr.EnsureInstance(ctx, cfg.DefaultModel); err != nil {
					log.Warn().Err(err).Msg("warm load failed")
				}
			}

			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           httpapi.NewMux(mgr),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Msg("llamagen listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			log.Info().Msg("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				log.Error().Err(err).Msg("graceful shutdown")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.String("addr", envStr("LLAMAGEN_ADDR", ":8080"), "HTTP listen address, e.g. :8080")
	f.Int("vram-budget-mb", 0, "VRAM budget in MB for all loaded models (0 = unlimited)")
	f.Int("vram-margin-mb", 0, "Reserved VRAM margin in MB to keep free")
	f.Int("max-queue-depth", 0, "Requests allowed to wait per model before 429 (0 = default)")
	f.Int("max-wait-ms", 0, "How long a request may wait for its turn (0 = default)")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins; empty disables CORS")
	f.BoolVar(&warm, "warm", false, "Load the default model before accepting requests")
	return cmd
}
