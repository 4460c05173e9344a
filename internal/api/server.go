package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewServer creates the HTTP server and binds it to the application lifecycle.
// There is no write timeout because /tail responses never complete. Request
// contexts are cancelled when shutdown begins so open tail sessions return.
func NewServer(lc fx.Lifecycle, logger *zap.Logger, port int, handler http.Handler) *http.Server {
	baseCtx, cancelRequests := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelRequests)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				logger.Error("[HTTP LISTEN FAILED] Cannot bind API port",
					zap.String("addr", srv.Addr),
					zap.Error(err),
					zap.String("hint", "Check SERVICE_PORT and that no other process uses it"))
				return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
			}

			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped unexpectedly", zap.Error(err))
				}
			}()

			logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down http server")
			cancelRequests()
			if err := srv.Shutdown(ctx); err != nil {
				_ = srv.Close()
				return fmt.Errorf("http server shutdown: %w", err)
			}
			return nil
		},
	})

	return srv
}
