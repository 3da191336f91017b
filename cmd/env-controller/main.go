package main

import (
	"context"
	"os"

	"github.com/gridmesh/gridmesh/internal/envcontroller/docker"
	"github.com/gridmesh/gridmesh/internal/envcontroller/handlers"
	"github.com/gridmesh/gridmesh/internal/envcontroller/store"
	"github.com/gridmesh/gridmesh/internal/envcontroller/worker"
	"github.com/gridmesh/gridmesh/pkg/config"
	"github.com/gridmesh/gridmesh/pkg/database"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/monitoring"
	"github.com/gridmesh/gridmesh/pkg/server"
	"github.com/gridmesh/gridmesh/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("env-controller")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Environment Controller (container engine wrapper)")

	// === Database Connection ===
	dbConfig := database.DefaultConfig(config.GetEnv("DB_PATH", "db/environment.sqlite"))
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if err := database.Bootstrap(context.Background(), db, store.Schema); err != nil {
		logger.WithError(err).Fatal("Failed to bootstrap database schema")
	}

	// Initialize Store
	imageStore := store.NewStore(db)

	// === Container Engine ===
	engine, err := docker.NewEngine(docker.Config{
		RegistryUser:     config.GetEnv("REGISTRY_USER", ""),
		RegistryPassword: config.GetEnv("REGISTRY_PASSWORD", ""),
		Logger:           logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to container engine")
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("env-controller", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("env-controller", version.Version, version.GitCommit)
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))

	// === Background Jobs ===
	runtimeDir := config.GetEnv("RUNTIME_DIR", "runtime")
	if err := os.MkdirAll(runtimeDir, 0o755); err != nil {
		logger.WithError(err).Fatal("Failed to create runtime directory")
	}
	healthChecker.AddCheck("runtime_storage", monitoring.StoragePathHealthCheck(runtimeDir))
	jobs := worker.NewJobs(imageStore, engine, runtimeDir, metricsCollector.CreateTransferMetrics(), logger)

	// === Server Setup ===
	serverConfig := server.DefaultConfig("env-controller", config.GetEnv("ENV_CONTROLLER_PORT", "8001"))

	app := server.SetupServiceRouter(logger, "env-controller", healthChecker, metricsCollector)
	namespace := config.GetEnv("IMAGE_NAMESPACE", "gridmesh")
	tasksDir := config.GetEnv("TASKS_DIR", "tasks")
	handlers.New(imageStore, jobs, namespace, tasksDir, logger).Register(app)

	if err := server.Start(serverConfig, app, logger); err != nil {
		logger.WithError(err).Fatal("Environment Controller server failed")
	}
}
