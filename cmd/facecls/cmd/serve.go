package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/facecls/internal/artifacts"
	"github.com/MeKo-Tech/facecls/internal/config"
	"github.com/MeKo-Tech/facecls/internal/server"
	"github.com/MeKo-Tech/facecls/internal/service"
	"github.com/MeKo-Tech/facecls/internal/version"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the classification API",
	Long: `Start an HTTP server that classifies faces in uploaded images.

The server provides the following endpoints:
  POST /classify_image - Classify faces in a base64 image (form field image_data)
  GET  /ws/classify    - WebSocket classification
  GET  /labels         - Class dictionary
  GET  /health         - Health check endpoint
  GET  /metrics        - Prometheus metrics

Send SIGHUP to reload the class dictionary without restarting.

Examples:
  facecls serve
  facecls serve --port 8080
  facecls serve --host 0.0.0.0 --port 3000 --requests-per-minute 60`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := GetConfig()

		apiServer, err := server.NewServer(cfg.ToServerConfig(version.Version))
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}

		loader := artifacts.NewLoader(cfg.ToArtifactsConfig(), artifactOptions...)
		defer func() { _ = loader.Close() }()
		svc, err := buildService(loader, cfg)
		if err != nil {
			return fmt.Errorf("failed to load artifacts: %w", err)
		}
		apiServer.SetService(svc)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-hup:
					reloadService(apiServer, loader, cfg)
				case <-ctx.Done():
					return
				}
			}
		}()

		return runHTTPServer(ctx, newHTTPServer(cfg, apiServer), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	},
}

func buildService(loader *artifacts.Loader, cfg *config.Config) (*service.Service, error) {
	a, err := loader.Load()
	if err != nil {
		return nil, err
	}
	return service.New(a, cfg.ToServiceConfig())
}

// reloadService swaps in a service over freshly loaded artifacts. On
// failure the current service stays in place.
func reloadService(apiServer *server.Server, loader *artifacts.Loader, cfg *config.Config) {
	svc, err := buildService(loader, cfg)
	if err != nil {
		slog.Error("Artifact reload failed, keeping current service", "error", err)
		return
	}
	apiServer.SetService(svc)
	slog.Info("Artifacts reloaded", "classes", len(svc.Labels()))
}

func newHTTPServer(cfg *config.Config, apiServer *server.Server) *http.Server {
	timeout := time.Duration(cfg.Server.TimeoutSec) * time.Second
	return &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout,
	}
}

// runHTTPServer serves until ctx is done, then shuts down gracefully.
func runHTTPServer(ctx context.Context, httpServer *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting classification server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	}

	slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	slog.Info("Graceful shutdown completed")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", server.DefaultCORSOrigin, "CORS allowed origin")
	serveCmd.Flags().Int("max-upload-size", server.DefaultMaxUploadMB, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	// Rate limiting flags; zero disables a limit
	serveCmd.Flags().Int("requests-per-minute", 0, "maximum classify requests per minute per client")
	serveCmd.Flags().Int("requests-per-hour", 0, "maximum classify requests per hour per client")
	serveCmd.Flags().Int("requests-per-day", 0, "maximum classify requests per day per client")
	serveCmd.Flags().Int64("max-bytes-per-day", 0, "maximum upload bytes per day per client")
	serveCmd.Flags().Bool("trust-proxy-headers", false, "key rate limits by X-Forwarded-For/X-Real-IP (only behind a trusted proxy)")

	bindFlags(serveCmd, map[string]string{
		"server.host":                           "host",
		"server.port":                           "port",
		"server.cors_origin":                    "cors-origin",
		"server.max_upload_mb":                  "max-upload-size",
		"server.timeout_sec":                    "timeout",
		"server.shutdown_timeout":               "shutdown-timeout",
		"server.rate_limit.requests_per_minute": "requests-per-minute",
		"server.rate_limit.requests_per_hour":   "requests-per-hour",
		"server.rate_limit.requests_per_day":    "requests-per-day",
		"server.rate_limit.max_bytes_per_day":   "max-bytes-per-day",
		"server.rate_limit.trust_proxy_headers": "trust-proxy-headers",
	})
}

// bindFlags binds command flags to config keys.
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	for key, flag := range keys {
		_ = viper.BindPFlag(key, cmd.Flags().Lookup(flag))
	}
}
