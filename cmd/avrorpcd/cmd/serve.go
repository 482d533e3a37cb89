package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/avrorpc/avrorpc/internal/config"
	"github.com/avrorpc/avrorpc/internal/demo"
	"github.com/avrorpc/avrorpc/internal/observability"
	"github.com/avrorpc/avrorpc/internal/proxy"
	"github.com/avrorpc/avrorpc/internal/receivers"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var devMode bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proxy server",
	Long: `Start the avrorpcd proxy: binds the built-in ping demo Server to
every configured scope and listens for POST (avro/binary, avro/json),
CONNECT, and WebSocket traffic.

Examples:
  # Start with config file settings
  avrorpcd serve

  # Start in dev mode (debug logging, defaults scopes to [ping])
  avrorpcd serve --dev

  # Start with a specific config file
  avrorpcd --config /path/to/avrorpc.yaml serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, permissive scope defaults)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	return serve(ctx, cfg, logger)
}

// serve wires a Proxy from cfg and runs it until ctx is done, then drains
// in-flight requests before returning.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	receiver, err := buildReceiver(cfg)
	if err != nil {
		return fmt.Errorf("failed to build admission hook: %w", err)
	}

	var metrics *proxy.Metrics
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		reg := promclient.NewRegistry()
		metrics = proxy.NewMetrics(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics endpoint failed", "error", err)
			}
		}()
	}

	demoServer, err := demo.NewServer()
	if err != nil {
		return fmt.Errorf("failed to build demo server: %w", err)
	}

	if cfg.Tracing.Enabled {
		mp, err := observability.NewStdoutMeterProvider(15 * time.Second)
		if err != nil {
			return fmt.Errorf("failed to build meter provider: %w", err)
		}
		recorder, err := observability.NewScopeDurationRecorder(mp.Meter("avrorpcd"))
		if err != nil {
			return fmt.Errorf("failed to build duration recorder: %w", err)
		}
		demoServer.Use(recorder.Middleware())
		defer mp.Shutdown(context.Background()) //nolint:errcheck
	}

	p := proxy.NewProxy(proxy.Options{
		PathPrefix: cfg.Server.PathPrefix,
		Metrics:    metrics,
	}, receiver)
	for _, scope := range cfg.Scopes {
		p.BindServer(scope, demoServer)
	}

	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: p}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("proxy listening", "addr", cfg.Server.Addr, "scopes", strings.Join(cfg.Scopes, ","))
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("proxy listener failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", "error", err)
		}
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
	}

	logger.Info("avrorpcd stopped")
	return nil
}

// buildReceiver builds the admission hook cfg describes. A config with
// neither TokenHashes nor CELExpression set yields a nil receiver (every
// request admitted); Validate accepts such a config in dev and non-dev
// mode alike.
func buildReceiver(cfg *config.Config) (proxy.Receiver, error) {
	switch {
	case cfg.Auth.CELExpression != "":
		r, err := receivers.NewCELReceiver(cfg.Auth.CELExpression)
		if err != nil {
			return nil, err
		}
		return r.Receive, nil
	case len(cfg.Auth.TokenHashes) > 0:
		r := receivers.NewStaticTokenReceiver(cfg.Auth.TokenHashes...)
		return r.Receive, nil
	default:
		return nil, nil
	}
}

// gracefulSignals are the signals serve listens for to begin a graceful
// shutdown.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

// parseLogLevel converts a string log level to slog.Level. Returns
// slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
