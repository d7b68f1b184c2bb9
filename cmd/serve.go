package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-booksync/pkg/api"
	"github.com/paulschiretz/pgl-booksync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-booksync/pkg/plog"
	"github.com/paulschiretz/pgl-booksync/pkg/watch"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve the sync control API and optionally watch the library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closer, err := a.loadConfig(true)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx := cmd.Context()
			rt := NewRuntime(ctx, cfg)
			defer rt.Close()

			opts := []api.ServerOption{
				api.WithMiddlewares(api.DefaultMiddlewares()...),
				api.WithMetricsHandler(rt.Metrics.Handler()),
			}
			if rt.Cache != nil {
				opts = append(opts, api.WithCacheInvalidator(rt.Cache))
			}

			if cfg.Watch.Enabled {
				w, err := watch.New(cfg.Source, cfg.Debounce(), rt.Controller, watch.WithLibraryChangeHook(rt.InvalidateCache))
				if err != nil {
					return err
				}
				if err := w.Start(); err != nil {
					_ = w.Stop()
					return err
				}
				defer w.Stop()
			}

			return serveHTTP(ctx, cfg.Server.Addr, api.NewServer(rt.Controller, opts...))
		},
	}
	c.Flags().String("addr", "", "Listen address for the HTTP API (default from config: server.addr).")
	c.Flags().Bool("watch", false, "Trigger a sync when the library changes.")
	a.bind(c.Flags(), map[string]string{
		"server.addr":   "addr",
		"watch.enabled": "watch",
	})
	return c
}

// serveHTTP runs the API until ctx is canceled, then drains open requests.
func serveHTTP(ctx context.Context, addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	plog.Info(buildinfo.Name+" API listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return fmt.Errorf("HTTP server stopped: %w", err)
	case <-ctx.Done():
	}

	plog.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
