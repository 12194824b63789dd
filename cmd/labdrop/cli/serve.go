package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"labdrop/internal/server/api"
	"labdrop/internal/server/storage"
)

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the retention sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logCloser, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logCloser.Close()

			a, err := newApp(cfg)
			if err != nil {
				return err
			}

			created, err := a.svc.Admins.EnsureBootstrapAdmin(cfg.Admin.BootstrapUsername, cfg.Admin.BootstrapPassword)
			if err != nil {
				return fmt.Errorf("failed to bootstrap admin: %w", err)
			}
			if created {
				slog.Info("bootstrap admin created", "username", cfg.Admin.BootstrapUsername)
			}

			settings, err := a.svc.Settings.Get()
			if err != nil {
				return fmt.Errorf("failed to read settings: %w", err)
			}
			addr := cfg.Addr(settings.BackendPort)

			e := api.SetupRouter(api.NewHandler(a.svc, cfg.Session.CookieSecure), cfg.Server)
			cleanup := storage.NewCleanupService(a.svc.Uploads, cfg.RetentionInterval())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				cleanup.Start(gctx)
				cleanup.Wait()
				return nil
			})

			g.Go(func() error {
				slog.Info("starting server", "addr", addr, "version", buildInfo.String())
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			})

			g.Go(func() error {
				<-gctx.Done()
				slog.Info("shutting down")

				// Stop accepting new requests, finish in-flight ones
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown())
				defer cancel()

				if err := e.Shutdown(shutdownCtx); err != nil {
					slog.Error("server forced to shutdown", "error", err)
					return err
				}
				return nil
			})

			if err := g.Wait(); err != nil {
				return err
			}
			slog.Info("server exited cleanly")
			return nil
		},
	}
}
