package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/healthstack/healthwatch/internal/alarm"
	"github.com/healthstack/healthwatch/internal/api"
	"github.com/healthstack/healthwatch/internal/cache"
	"github.com/healthstack/healthwatch/internal/config"
	"github.com/healthstack/healthwatch/internal/engine"
	"github.com/healthstack/healthwatch/internal/eventstore"
	"github.com/healthstack/healthwatch/internal/ingest"
	"github.com/healthstack/healthwatch/internal/metrics"
	"github.com/healthstack/healthwatch/internal/models"
	"github.com/healthstack/healthwatch/internal/snapshot"
	"github.com/healthstack/healthwatch/internal/storage"
	"github.com/healthstack/healthwatch/internal/supervisor"
	"github.com/healthstack/healthwatch/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting healthwatch", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	var ruleStore storage.RuleStore
	switch cfg.Rules.Source {
	case "http":
		ruleStore, err = storage.NewHTTPDocumentStore(
			cfg.Rules.Server.BaseURL,
			cfg.Rules.Server.APIKey,
			cfg.Rules.Server.Timeout,
			cacheProvider,
			cfg.Rules.CacheTTL,
			logger,
		)
		if err != nil {
			logger.Error("failed to create rule store", slog.Any("error", err))
			os.Exit(1)
		}
	default:
		ruleStore = storage.NewFileStore(cfg.Rules.File.Path)
	}

	var archive eventstore.Store = eventstore.NoopStore{}
	if cfg.Events.ArchiveEnabled {
		archive = eventstore.NewValkeyStore(cacheProvider, logger)
	}

	holder := alarm.NewChannelHolder(logger)
	holder.Register(alarm.NewLogChannel(logger), models.AlarmLow)
	if cfg.Alarms.Slack.Enabled {
		slackChannel, err := alarm.NewSlackChannel(cfg.Alarms.Slack.WebhookURL, cfg.Alarms.Slack.Channel, cfg.Alarms.Slack.Timeout)
		if err != nil {
			logger.Error("failed to create slack channel", slog.Any("error", err))
			os.Exit(1)
		}
		holder.Register(slackChannel, minLevel(cfg.Alarms.Slack.MinLevel))
	}
	if cfg.Alarms.Email.Enabled {
		emailChannel, err := alarm.NewEmailChannel(
			cfg.Alarms.Email.Host,
			cfg.Alarms.Email.Port,
			cfg.Alarms.Email.Username,
			cfg.Alarms.Email.Password,
			cfg.Alarms.Email.From,
			cfg.Alarms.Email.To,
			cfg.Alarms.Email.Timeout,
		)
		if err != nil {
			logger.Error("failed to create email channel", slog.Any("error", err))
			os.Exit(1)
		}
		holder.Register(emailChannel, minLevel(cfg.Alarms.Email.MinLevel))
	}

	alarmManager := alarm.NewManager(holder, cfg.Alarms.FloodCooldown, cfg.Alarms.FlushInterval, logger)
	alarmManager.Start()
	defer alarmManager.Stop()

	analyzerEngine := engine.New(engine.Options{
		PopTimeout: cfg.Engine.PopTimeout,
		ReloadWait: cfg.Engine.ReloadWait,
		StopWait:   cfg.Engine.StopWait,
	}, ruleStore, alarmManager, archive, logger)

	receiver := ingest.NewReceiver(analyzerEngine, logger)

	hub := api.NewAlarmHub(logger)
	alarmManager.AddTap(hub.Publish)

	handler := api.NewHandler(analyzerEngine, receiver, ruleStore, archive, hub, logger)
	server, err := api.NewServer(cfg.Server, handler.Routes())
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	if cfg.Snapshot.Enabled {
		gen := snapshot.NewGenerator(analyzerEngine, cfg.Snapshot.Path, cfg.Snapshot.Interval, logger)
		go gen.Run(ctx)
	}

	sup := supervisor.New(analyzerEngine, alarmManager, cfg.Supervisor.MaxRestarts, cfg.Supervisor.RestartDelay, logger)
	supervisorDone := make(chan error, 1)
	go func() { supervisorDone <- sup.Run(ctx) }()

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-supervisorDone:
		if err != nil {
			logger.Error("supervisor gave up", slog.Any("error", err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("healthwatch stopped")
}

func minLevel(s string) models.AlarmLevel {
	switch s {
	case "high":
		return models.AlarmHigh
	case "medium":
		return models.AlarmMedium
	default:
		return models.AlarmLow
	}
}
