// Copyright 2024-2026 Aiku AI

package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/chatrelay/cmd/chatrelay/internal"
	"github.com/aiku/chatrelay/pkg/logging"
	"github.com/aiku/chatrelay/pkg/relay"
	"github.com/aiku/chatrelay/pkg/relay/wsclient"
)

func NewServeCommand() *cobra.Command {
	var upgrade bool

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Run the relay and its admin API",
		Example: "chatrelay serve --config config.yaml --upgrade",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := internal.LoadConfig(cmd, upgrade)
			if err != nil {
				return err
			}
			if cfg.Session.URL == "" {
				return errors.New("session.url must be set to serve")
			}
			log, closer, err := logging.New(cfg.Logging, os.Stderr)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, cfg, wsclient.New(cfg.Session.URL, nil, log), log)
		},
	}

	cmd.Flags().BoolVar(&upgrade, "upgrade", false, "Write missing config keys back to the config file")

	return cmd
}

// Run starts the engine and the admin API and blocks until ctx is done or
// the API server fails, then shuts both down within the configured grace.
func Run(ctx context.Context, cfg *relay.Config, session relay.Session, log zerolog.Logger) error {
	engine, err := relay.NewEngine(cfg, session, log)
	if err != nil {
		return err
	}
	server := relay.NewAPI(engine, cfg.API.Token, log).NewServer(cfg.API.Addr)

	log.Info().
		Str("version", internal.FormatVersion()).
		Str("session_url", cfg.Session.URL).
		Bool("relay_enabled", cfg.Relay.URL != "").
		Msg("Starting chatrelay")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("Admin API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin API: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := engine.Start(gctx); err != nil {
			// The supervisor keeps retrying on its own schedule.
			log.Err(err).Msg("Initial session connect failed")
		}
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Relay.ShutdownGrace())
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Admin API did not shut down cleanly")
		}
		if err := engine.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Relay did not shut down cleanly")
		}
		return nil
	})
	return g.Wait()
}
