package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/formpay/internal/settlement"
	"github.com/angelmondragon/formpay/internal/submissions"
	"github.com/angelmondragon/formpay/internal/webforms"
	"github.com/angelmondragon/formpay/pkg/config"
	"github.com/angelmondragon/formpay/pkg/db"
	"github.com/angelmondragon/formpay/pkg/logger"
	"github.com/angelmondragon/formpay/pkg/metrics"
	"github.com/angelmondragon/formpay/pkg/migrate"
	"github.com/angelmondragon/formpay/pkg/netseasy"
	"github.com/angelmondragon/formpay/pkg/outbox"
	"github.com/angelmondragon/formpay/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "settlement-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "settlement-worker"

	logg = logger.New(logger.Options{
		ServiceName: "settlement-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	settlementMetrics := metrics.NewSettlementMetrics(registry)

	gateway, err := netseasy.NewClient(cfg.Gateway, logg, netseasy.WithRequestObserver(settlementMetrics.IncGatewayRequest))
	if err != nil {
		logg.Error(context.Background(), "failed to create nets easy client", err)
		os.Exit(1)
	}

	webformService, err := webforms.NewService(webforms.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create webform service", err)
		os.Exit(1)
	}
	submissionRepo := submissions.NewRepository(dbClient.DB())
	submissionService, err := submissions.NewService(submissions.Deps{
		Tx:      dbClient,
		Repo:    submissionRepo,
		Forms:   webformService,
		Gateway: gateway,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create submission service", err)
		os.Exit(1)
	}

	handler, err := settlement.NewHandler(settlement.HandlerParams{
		Gateway:     gateway,
		Submissions: submissionService,
		Finder:      submissionRepo,
		Events:      outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Logger:      logg,
		Metrics:     settlementMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement handler", err)
		os.Exit(1)
	}

	worker, err := settlement.NewWorker(settlement.WorkerParams{
		Config:      cfg.Settlement,
		Logger:      logg,
		DB:          dbClient,
		Jobs:        settlement.NewRepository(dbClient.DB()),
		Processor:   handler,
		Locks:       redisClient,
		Submissions: submissionRepo,
		Metrics:     settlementMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"gatewayMode": cfg.Gateway.Mode(),
	})

	metricsServer := &http.Server{
		Addr:              cfg.Settlement.MetricsAddr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logg.Error(context.Background(), "metrics listener shutdown failed", err)
		}
	}()

	logg.Info(ctx, "starting settlement worker")

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "settlement worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "settlement worker shutting down gracefully")
}
