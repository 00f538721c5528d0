package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"trustescrow/config"
	"trustescrow/core/events"
	"trustescrow/core/events/archive"
	"trustescrow/core/state"
	"trustescrow/gateway/audit"
	"trustescrow/gateway/middleware"
	"trustescrow/gateway/routes"
	"trustescrow/native/access"
	"trustescrow/native/custody"
	"trustescrow/native/escrow"
	"trustescrow/observability/logging"
	"trustescrow/observability/metrics"
	telemetry "trustescrow/observability/otel"
	"trustescrow/storage"
)

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "./escrowd.toml", "path to escrowd configuration")
	flag.StringVar(&opts.exportPath, "export-events", "", "write the notification journal to this parquet file and exit")
	flag.Uint64Var(&opts.exportFrom, "export-from", 1, "first journal sequence to export")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "escrowd: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	exportPath string
	exportFrom uint64
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	serviceName := strings.TrimSpace(cfg.Telemetry.ServiceName)
	if serviceName == "" {
		serviceName = "escrowd"
	}
	var rotation *logging.Rotation
	if strings.TrimSpace(cfg.Logging.File) != "" {
		rotation = &logging.Rotation{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		}
	}
	logger := logging.Setup(serviceName, cfg.Environment, rotation)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.OTLPHeaders),
		SampleRatio: cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	mgr := state.NewManager(db)

	vaultAddr, err := cfg.Vault()
	if err != nil {
		return err
	}
	vault := custody.NewVault(vaultAddr)
	allocations, err := cfg.CustodyAllocations()
	if err != nil {
		return err
	}
	if len(allocations) > 0 {
		var applied bool
		err := mgr.Update(func(st state.Store) error {
			var err error
			applied, err = vault.ApplyAllocations(st, allocations)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply custody allocations: %w", err)
		}
		if applied {
			logger.Info("custody allocations applied", slog.Int("count", len(allocations)))
		}
	}

	params, err := cfg.EscrowParams()
	if err != nil {
		return err
	}
	controller, err := cfg.Controller()
	if err != nil {
		return err
	}
	engine, err := escrow.NewEngine(params)
	if err != nil {
		return err
	}
	engine.SetState(mgr)
	engine.SetCustodian(vault)
	engine.SetAccessPolicy(access.NewPolicy(controller))
	engine.SetLogger(logger.With(slog.String("component", "escrow")))
	hub := events.NewHub()
	emitters := events.MultiEmitter{hub, eventLogger{logger: logger.With(slog.String("component", "events"))}}
	if cfg.Telemetry.Metrics {
		engine.SetMetrics(metrics.Escrow())
		emitters = append(emitters, metrics.Events())
	}
	engine.SetEmitter(emitters)

	if opts.exportPath != "" {
		result, err := archive.ExportFile(engine, opts.exportPath, opts.exportFrom)
		if err != nil {
			return fmt.Errorf("export events: %w", err)
		}
		logger.Info("journal exported",
			slog.String("path", opts.exportPath),
			slog.Int("count", result.Count),
			slog.Uint64("last", result.Last))
		return nil
	}

	auditStore, err := audit.Open(filepath.Join(cfg.DataDir, "gateway.db"))
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer auditStore.Close()

	secret := ""
	if cfg.Auth.Enabled {
		secret = os.Getenv(cfg.Auth.HMACSecretEnv)
		if strings.TrimSpace(secret) == "" {
			return fmt.Errorf("auth enabled but %s is empty", cfg.Auth.HMACSecretEnv)
		}
	} else {
		logger.Warn("token authentication disabled; callers are taken from the " + middleware.CallerHeader + " header")
	}
	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:       cfg.Auth.Enabled,
		HMACSecret:    secret,
		Issuer:        cfg.Auth.Issuer,
		Audience:      cfg.Auth.Audience,
		ClockSkew:     time.Duration(cfg.Auth.ClockSkewSeconds) * time.Second,
		OptionalPaths: []string{"/v1/"},
	}, logger)
	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: serviceName,
		LogRequests: true,
	}, logger)

	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics {
		metricsHandler = promhttp.HandlerFor(prometheus.Gatherers{prometheus.DefaultGatherer, obs.Registry()}, promhttp.HandlerOpts{})
	} else {
		metricsHandler = http.NotFoundHandler()
	}

	limiter := middleware.NewRateLimiter(middleware.RateLimit{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, logger)

	router, err := routes.New(routes.Config{
		Engine:         engine,
		Audit:          auditStore,
		Authenticator:  auth,
		RateLimiter:    limiter,
		Observability:  obs,
		Logger:         logger,
		Stream:         hub,
		MetricsHandler: metricsHandler,
	})
	if err != nil {
		return fmt.Errorf("configure routes: %w", err)
	}

	// No WriteTimeout: /v1/events/stream connections are long-lived.
	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(router, serviceName),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("escrowd listening", slog.String("address", cfg.ListenAddress))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown requested", slog.String("signal", sig.String()))
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// eventLogger forwards committed escrow notifications to the service log.
type eventLogger struct {
	logger *slog.Logger
}

func (e eventLogger) Emit(evt events.Event) {
	record, ok := evt.(events.Record)
	if !ok {
		e.logger.Info("event", slog.String("type", evt.EventType()))
		return
	}
	e.logger.Info("event",
		slog.String("type", record.Type),
		slog.Uint64("sequence", record.Sequence),
		slog.Any("attributes", record.Event().Attributes))
}
