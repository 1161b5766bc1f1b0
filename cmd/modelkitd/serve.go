package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	modelkit "github.com/noteflow/modelkit"
	"github.com/noteflow/modelkit/internal/logging"
	"github.com/noteflow/modelkit/internal/version"
)

func newServeCmd(settingsPath *string) *cobra.Command {
	var addr string
	var logLevel string
	var logFormat string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.Setup(logLevel, logFormat)
			logger := slog.Default()

			s, err := loadSettings(*settingsPath)
			if err != nil {
				return err
			}
			store, err := newStore()
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer func() { _ = store.Close() }()

			mgr := modelkit.NewManager(s, store)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			upd := mgr.UpdateModels(ctx, s, modelkit.ListOptions{PreserveDefaults: true})
			if upd.Changed {
				for _, change := range upd.Changes {
					logger.Warn("model settings migrated", "change", change)
				}
			}

			if s.AutoUpdateInterval != "" {
				interval, err := time.ParseDuration(s.AutoUpdateInterval)
				if err == nil {
					mgr.StartAutoUpdate(ctx, interval)
					logger.Info("auto-update enabled", "interval", interval.String())
				}
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           newRouter(mgr),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("modelkitd listening",
					"addr", addr,
					"version", version.Short(),
					"discovery", s.EnableModelDiscovery,
				)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", envOr("MODELKIT_ADDR", ":8090"), "listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", envOr("MODELKIT_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", envOr("MODELKIT_LOG_FORMAT", "text"), "log format (text, json)")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newRouter(mgr *modelkit.Manager) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Short()})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/models", handleListModels(mgr))
		r.Get("/models/image", handleListImageModels(mgr))
		r.Get("/models/status", handleDiscoveryStatus(mgr))
		r.Post("/models/refresh", handleRefreshModels(mgr))
		r.Post("/chat/completions", handleChatCompletions(mgr))
	})

	return r
}
