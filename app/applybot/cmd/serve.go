package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cchalm/applybot/internal/api"
	"github.com/cchalm/applybot/internal/session"
)

const shutdownTimeout = 10 * time.Second

var serveFlags struct {
	listen string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the apply API over HTTP",
	Long: `Starts an HTTP server that manages sessions and applies responses to them. Sessions are
persisted when a state directory or database is configured.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.listen, "listen", "", "Address to listen on (overrides APPLYBOT_LISTEN_ADDR)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := setupContext()

	if serveFlags.listen != "" {
		config.ListenAddr = serveFlags.listen
	}

	env, err := newEnvironment(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := env.Close(ctx); err != nil {
			logger.Warn("failed to release resources", zap.Error(err))
		}
	}()

	handler := api.NewSessionHandler(session.NewRegistry(), env.store, env.applier, env.sandbox, env.seed, logger)
	srv := &http.Server{
		Addr:              config.ListenAddr,
		Handler:           api.NewRouter(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", config.ListenAddr), zap.Bool("sandbox", env.sandbox != nil))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
