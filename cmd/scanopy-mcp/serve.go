package main

import (
	"context"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"scanopy-mcp/internal/server"
	"scanopy-mcp/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve JSON-RPC over stdin and stdout (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd)
		},
	}
}

func initTracing(ctx context.Context, enabled bool, w io.Writer) (telemetry.ShutdownFunc, error) {
	return telemetry.Init(ctx, telemetry.Config{
		ServiceName:    server.ServerName,
		ServiceVersion: server.ServerVersion,
		Enabled:        enabled,
		Writer:         w,
	})
}

func flushTracing(shutdown telemetry.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = shutdown(ctx)
}

func (a *app) runServe(cmd *cobra.Command) error {
	c, err := a.build()
	if err != nil {
		return err
	}
	logs := c.LoggingManager()
	defer func() { _ = logs.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := initTracing(ctx, c.Config().TraceEnabled, a.logOutput)
	if err != nil {
		return err
	}
	defer flushTracing(shutdownTracing)

	srv := c.Server()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// EOF on stdin ends the process the same way a signal does
		defer stop()
		if err := srv.StartBackground(gctx); err != nil {
			return err
		}
		return srv.Serve(gctx, cmd.InOrStdin(), cmd.OutOrStdout())
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
