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

	"github.com/angelmondragon/formpay/api/routes"
	"github.com/angelmondragon/formpay/internal/checkout"
	"github.com/angelmondragon/formpay/internal/settlement"
	"github.com/angelmondragon/formpay/internal/submissions"
	"github.com/angelmondragon/formpay/internal/webforms"
	"github.com/angelmondragon/formpay/pkg/config"
	"github.com/angelmondragon/formpay/pkg/db"
	"github.com/angelmondragon/formpay/pkg/logger"
	"github.com/angelmondragon/formpay/pkg/metrics"
	"github.com/angelmondragon/formpay/pkg/migrate"
	"github.com/angelmondragon/formpay/pkg/netseasy"
	"github.com/angelmondragon/formpay/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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
	gatewayMetrics := metrics.NewSettlementMetrics(registry)

	gateway, err := netseasy.NewClient(cfg.Gateway, logg, netseasy.WithRequestObserver(gatewayMetrics.IncGatewayRequest))
	if err != nil {
		logg.Error(context.Background(), "failed to create nets easy client", err)
		os.Exit(1)
	}

	webformService, err := webforms.NewService(webforms.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create webform service", err)
		os.Exit(1)
	}

	queue, err := settlement.NewQueue(settlement.NewRepository(dbClient.DB()), cfg.Settlement.MaxAttempts)
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement queue", err)
		os.Exit(1)
	}

	submissionService, err := submissions.NewService(submissions.Deps{
		Tx:      dbClient,
		Repo:    submissions.NewRepository(dbClient.DB()),
		Forms:   webformService,
		Gateway: gateway,
		Queue:   queue,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create submission service", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(checkout.Params{
		Gateway:      gateway,
		Forms:        webformService,
		PublicURL:    cfg.App.PublicURL,
		ErrorMessage: cfg.Gateway.ErrorMessage,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"addr":        addr,
		"gatewayMode": cfg.Gateway.Mode(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Deps{
			DB:          dbClient,
			Redis:       redisClient,
			Gatherer:    registry,
			HTTPMetrics: metrics.NewHTTPMetrics(registry),
			Webforms:    webformService,
			Checkout:    checkoutService,
			Submissions: submissionService,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "api server shutdown failed", err)
	}
	logg.Info(ctx, "api server shutting down gracefully")
}
