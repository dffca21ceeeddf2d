package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexlive/internal/broadcast"
	"github.com/dgnsrekt/gexlive/internal/live"
	"github.com/dgnsrekt/gexlive/internal/notify"
	"github.com/dgnsrekt/gexlive/internal/server"
	"github.com/dgnsrekt/gexlive/internal/session"
	"github.com/dgnsrekt/gexlive/internal/viewmodel"
	"github.com/dgnsrekt/gexlive/internal/ws"
)

const sseHeartbeat = 15 * time.Second

func runCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the live session controller and serve the view model",
		Long: `Run the live session controller. Pollers start as soon as a symbol and
expiry are known; the view model is served over HTTP, SSE and WebSocket.

Examples:
  # Start with the configured defaults
  gexlive run

  # Seed the session and listen elsewhere
  GEXLIVE_SESSION_SYMBOL=NIFTY gexlive run --addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return serve(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

func serve(ctx context.Context) error {
	logger.Info("configuration loaded",
		zap.String("baseURL", cfg.API.BaseURL),
		zap.String("addr", cfg.Server.Addr),
		zap.String("symbol", cfg.Session.Symbol),
		zap.String("expiry", cfg.Session.Expiry),
		zap.Bool("wsEnabled", cfg.Server.WSEnabled),
		zap.Bool("sseEnabled", cfg.Server.SSEEnabled),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	clock := clockwork.NewRealClock()
	store := session.NewStore(cfg.Session.Params(), viewmodel.KnownSeries, logger.Named("session"))
	holder := viewmodel.NewHolder(cfg.Polling.CountdownStart, logger.Named("viewmodel"))
	notifier := notify.New(&cfg.Notify, logger.Named("notify"))

	ctrl, err := live.New(store, holder, newAPIClient(cfg), notifier, clock, controllerOptions(cfg), logger.Named("live"))
	if err != nil {
		return fmt.Errorf("creating controller: %w", err)
	}

	var streams server.Streams

	if cfg.Server.SSEEnabled {
		sse := broadcast.New(ctrl, sseHeartbeat, logger.Named("sse"))
		go sse.Run(ctx)
		streams.SSE = sse.HandleSSE
	}

	if cfg.Server.WSEnabled {
		codec, err := ws.NewCodec()
		if err != nil {
			return fmt.Errorf("creating ws codec: %w", err)
		}

		hub := ws.NewHub(codec, logger.Named("ws"))
		streamer := ws.NewStreamer(hub, ctrl, logger.Named("ws"))
		streamerDone := make(chan struct{})
		go hub.Run(ctx)
		go func() {
			defer close(streamerDone)
			streamer.Run(ctx)
		}()
		streams.WS = hub.HandleWS

		// Hijacked connections outlive http.Server.Shutdown; release the codec
		// only after the hub has closed them and the streamer has stopped.
		defer func() {
			cancel()
			<-streamerDone
			hub.Wait()
			codec.Close()
		}()
	}

	srv := server.NewServer(ctrl, logger.Named("server"))
	reload := server.NewReloadManager(ctrl, clock, logger.Named("reload"))
	router := server.NewRouter(srv, reload, streams, logger.Named("http"))

	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("starting controller: %w", err)
	}
	defer ctrl.Stop()

	// WriteTimeout stays unset: SSE and WebSocket connections are long-lived.
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
