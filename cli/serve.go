/*
serve.go - HTTP server command

STARTUP SEQUENCE:
  1. Load config, open and migrate the backend
  2. Wire ledger, planner and API handler
  3. Start the server with the configured timeouts

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM (or cancellation of the command context):
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Close the backend
*/
package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/warp/debt-planner/api"
)

func newServeCommand(flags *rootFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			defer e.Close()

			if addr != "" {
				e.cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", e.cfg.Server.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", e.cfg.Server.Addr, err)
			}
			return serve(ctx, e, ln)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

// serve runs the API on ln until ctx is done, then shuts down gracefully.
func serve(ctx context.Context, e *env, ln net.Listener) error {
	if err := e.backend.Migrate(ctx); err != nil {
		ln.Close()
		return fmt.Errorf("failed to migrate: %w", err)
	}

	handler := api.NewHandler(e.ledger, e.recorder, e.logger)
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins:    e.cfg.Server.CORSOrigins,
		RequestTimeout: e.cfg.Server.RequestTimeout.Duration,
		Logger:         e.logger,
	})

	server := &http.Server{
		Handler:      router,
		ReadTimeout:  e.cfg.Server.ReadTimeout.Duration,
		WriteTimeout: e.cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  e.cfg.Server.IdleTimeout.Duration,
	}

	errCh := make(chan error, 1)
	go func() {
		e.logger.Info("server starting",
			"addr", ln.Addr().String(),
			"storage", e.cfg.Storage.Driver,
		)
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	e.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.Server.ShutdownTimeout.Duration)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	e.logger.Info("server stopped")
	return nil
}
