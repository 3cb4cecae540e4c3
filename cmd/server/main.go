// Command server runs the presence-mon server: MQTT snapshot ingestion,
// presence reconciliation, threshold evaluation and the HTTP API.
//
// # Usage
//
//	server --config /etc/presence-mon/config.yaml
//	server --database postgres://localhost/presencemon --port 8080
//
// # Configuration
//
// The server can be configured via:
// - A YAML config file (--config)
// - Environment variables (PRESENCEMON_*)
// - Command-line flags (highest precedence)
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/netwatch-io/presence-mon/db/migrate"
	"github.com/netwatch-io/presence-mon/internal/alert"
	"github.com/netwatch-io/presence-mon/internal/api"
	"github.com/netwatch-io/presence-mon/internal/cache"
	"github.com/netwatch-io/presence-mon/internal/config"
	"github.com/netwatch-io/presence-mon/internal/metrics"
	"github.com/netwatch-io/presence-mon/internal/netlock"
	"github.com/netwatch-io/presence-mon/internal/notify"
	"github.com/netwatch-io/presence-mon/internal/reconcile"
	"github.com/netwatch-io/presence-mon/internal/secrets"
	"github.com/netwatch-io/presence-mon/internal/service"
	"github.com/netwatch-io/presence-mon/internal/store"
	"github.com/netwatch-io/presence-mon/internal/transport"
	"github.com/netwatch-io/presence-mon/internal/worker"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		port       = flag.Int("port", 0, "HTTP server port (overrides config)")
		dbURL      = flag.String("database", "", "Database URL (overrides config)")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		version    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("presence-mon v0.1.0")
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbURL != "" {
		cfg.Database.URL = *dbURL
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Resolve secret references before anything connects.
	resolver := secrets.NewResolver(logger)
	mqttPassword, err := resolver.Resolve(ctx, cfg.MQTT.Password)
	if err != nil {
		logger.Error("failed to resolve MQTT password", "error", err)
		os.Exit(1)
	}
	cfg.MQTT.Password = mqttPassword
	smtpPassword, err := resolver.Resolve(ctx, cfg.Alerter.SMTPPassword)
	if err != nil {
		logger.Error("failed to resolve SMTP password", "error", err)
		os.Exit(1)
	}

	// Database.
	connectCtx, connectCancel := context.WithTimeout(ctx, config.DatabasePingTimeout)
	db, err := store.NewFromURL(connectCtx, cfg.Database.URL)
	connectCancel()
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := migrate.Run(ctx, db.Pool(), logger); err != nil {
		logger.Error("database migration failed", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Optional Redis response cache. Redis being down only disables caching.
	var responseCache *cache.Cache
	if cfg.Redis.URL != "" {
		responseCache, err = cache.New(cfg.Redis.URL, logger)
		if err != nil {
			logger.Warn("response cache disabled", "error", err)
			responseCache = nil
		} else {
			defer responseCache.Close()
			logger.Info("response cache enabled")
		}
	}

	// Notifier: a real mailer only when SMTP is configured.
	var notifier alert.Notifier
	if cfg.Alerter.SMTPHost != "" {
		notifier = notify.NewMailer(cfg.Alerter, smtpPassword, logger)
		logger.Info("email notifications enabled", "smtp_host", cfg.Alerter.SMTPHost)
	} else {
		notifier = notify.Noop{}
		logger.Warn("SMTP not configured, notifications disabled")
	}

	locks := netlock.New()
	alerts := alert.NewManager(db, notifier, logger)
	reconciler := reconcile.New(db, alerts, locks, logger)

	// MQTT ingestion.
	subscriber := transport.NewSubscriber(cfg.MQTT, reconciler, logger)
	if err := subscriber.Connect(ctx); err != nil {
		logger.Error("failed to connect to MQTT broker", "error", err)
		os.Exit(1)
	}
	defer subscriber.Disconnect()

	// Threshold evaluator.
	evalCfg := worker.DefaultEvaluatorWorkerConfig()
	if cfg.Alerter.Interval > 0 {
		evalCfg.Interval = cfg.Alerter.Interval
	}
	if cfg.Alerter.InitialDelay > 0 {
		evalCfg.InitialDelay = cfg.Alerter.InitialDelay
	}
	evaluator := worker.NewEvaluatorWorker(db, alerts, locks, evalCfg, logger)
	evaluator.Start(ctx)
	defer evaluator.Stop()

	// HTTP API.
	svc := service.NewService(db, logger)
	collector := metrics.NewCollector(db)
	apiServer := api.NewServer(svc, collector, responseCache, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      apiServer,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
