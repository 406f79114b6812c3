package main

import (
	"context"

	"lance/api_insights/internal/app"
	insightsconfig "lance/api_insights/internal/config"
	"lance/api_insights/internal/handlers"
	"lance/pkg/config"
	"lance/pkg/logging"
	"lance/pkg/monitoring"
	"lance/pkg/server"
	"lance/pkg/version"
)

const serviceName = "insights"

func main() {
	logger := logging.NewLoggerWithService(serviceName)

	config.LoadEnv(logger)
	cfg := insightsconfig.LoadConfig()

	logger.WithField("version", version.String()).Info("Starting competitor insights service")

	healthChecker := monitoring.NewHealthChecker(serviceName, version.Version)
	metricsCollector := monitoring.NewMetricsCollector(serviceName, version.Version, version.GitCommit)

	ctx := context.Background()
	svc, err := app.New(ctx, cfg, logger, metricsCollector, app.Options{Migrate: true})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize insights service")
	}
	defer svc.Close()

	svc.RegisterHealthChecks(healthChecker, cfg)
	logger.WithField("backends", svc.String()).Info("Insights pipeline ready")

	// svc.Close stops the scheduler before the pool closes
	svc.Scheduler.Start()

	router := server.SetupServiceRouter(logger, serviceName, healthChecker, metricsCollector)
	handlers.NewSnapshotHandler(handlers.Config{
		Refresher:    svc.Refresher,
		Reader:       svc.Store,
		Batch:        svc.Scheduler,
		Narrator:     svc.Analyst,
		Logger:       logger,
		ServiceToken: cfg.ServiceToken,
	}).RegisterRoutes(router)

	serverConfig := server.DefaultConfig(serviceName, "18040")
	serverConfig.Port = cfg.Port
	if err := server.Start(ctx, serverConfig, router, logger); err != nil {
		logger.WithError(err).Error("Server exited with error")
	}
}
