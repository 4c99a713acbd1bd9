package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"scanopy-mcp/internal/bridge"
)

func newBridgeCmd(a *app) *cobra.Command {
	var (
		addr    string
		origins []string
	)
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Serve the MCP protocol to WebSocket clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBridge(cmd, addr, origins)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:8080", "listen address")
	cmd.Flags().StringSliceVar(&origins, "allowed-origin", nil, "browser origin allowed besides the bridge's own host (repeatable)")
	return cmd
}

func (a *app) runBridge(cmd *cobra.Command, addr string, origins []string) error {
	c, err := a.build()
	if err != nil {
		return err
	}
	logs := c.LoggingManager()
	defer func() { _ = logs.Sync() }()
	logger := logs.GetLogger("bridge")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := initTracing(ctx, c.Config().TraceEnabled, a.logOutput)
	if err != nil {
		return err
	}
	defer flushTracing(shutdownTracing)

	srv := c.Server()
	if err := srv.StartBackground(ctx); err != nil {
		return err
	}

	b := bridge.New(srv, logger, origins...)
	mux := http.NewServeMux()
	mux.Handle("/mcp", b)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	httpServer := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	logger.WithContext("addr", listener.Addr().String()).Info("Bridge listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		b.Close()
		httpErr := httpServer.Shutdown(shutdownCtx)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return httpErr
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
