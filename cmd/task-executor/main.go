package main

import (
	"context"

	"github.com/gridmesh/gridmesh/internal/executor/handlers"
	"github.com/gridmesh/gridmesh/internal/executor/store"
	"github.com/gridmesh/gridmesh/internal/executor/worker"
	dataclient "github.com/gridmesh/gridmesh/pkg/clients/data"
	envclient "github.com/gridmesh/gridmesh/pkg/clients/environment"
	"github.com/gridmesh/gridmesh/pkg/config"
	"github.com/gridmesh/gridmesh/pkg/database"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/monitoring"
	"github.com/gridmesh/gridmesh/pkg/server"
	"github.com/gridmesh/gridmesh/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("task-executor")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Task Executor (subtask acceptance and execution)")

	// === Database Connection ===
	dbConfig := database.DefaultConfig(config.GetEnv("DB_PATH", "db/executor.sqlite"))
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if err := database.Bootstrap(context.Background(), db, store.Schema); err != nil {
		logger.WithError(err).Fatal("Failed to bootstrap database schema")
	}

	// Initialize Store
	subtaskStore := store.NewStore(db)

	// === Colocated Service Clients ===
	envURL := config.GetEnv("ENV_CONTROLLER_URL", "http://localhost:8001")
	dataURL := config.GetEnv("DATA_CONTROLLER_URL", "http://localhost:8002")
	envClient := envclient.NewClient(envclient.Config{BaseURL: envURL, Logger: logger})
	dataClient := dataclient.NewClient(dataclient.Config{BaseURL: dataURL, Logger: logger})

	// === Subtask Runner ===
	subtasksDir := config.GetEnv("SUBTASKS_DIR", "subtasks")
	runner := worker.NewRunner(subtaskStore, envClient, dataClient, subtasksDir, logger)

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("task-executor", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("task-executor", version.Version, version.GitCommit)
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("env_controller", monitoring.HTTPServiceHealthCheck("env-controller", envURL+"/health"))
	healthChecker.AddCheck("data_controller", monitoring.HTTPServiceHealthCheck("data-controller", dataURL+"/health"))

	// === Server Setup ===
	serverConfig := server.DefaultConfig("task-executor", config.GetEnv("TASK_EXECUTOR_PORT", "8003"))

	app := server.SetupServiceRouter(logger, "task-executor", healthChecker, metricsCollector)
	handlers.New(subtaskStore, runner, logger).Register(app)

	if err := server.Start(serverConfig, app, logger); err != nil {
		logger.WithError(err).Fatal("Task Executor server failed")
	}
}
