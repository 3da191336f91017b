package main

import (
	"context"

	"github.com/gridmesh/gridmesh/internal/taskcontroller/handlers"
	"github.com/gridmesh/gridmesh/internal/taskcontroller/scheduler"
	"github.com/gridmesh/gridmesh/internal/taskcontroller/store"
	dataclient "github.com/gridmesh/gridmesh/pkg/clients/data"
	envclient "github.com/gridmesh/gridmesh/pkg/clients/environment"
	executorclient "github.com/gridmesh/gridmesh/pkg/clients/executor"
	nodeclient "github.com/gridmesh/gridmesh/pkg/clients/node"
	"github.com/gridmesh/gridmesh/pkg/config"
	"github.com/gridmesh/gridmesh/pkg/database"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/monitoring"
	"github.com/gridmesh/gridmesh/pkg/server"
	"github.com/gridmesh/gridmesh/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("task-controller")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Task Controller (creator-side scheduler)")

	// === Identity ===
	// Shares the node controller's identity file; the creator uid stamped on
	// tasks is this node's uid.
	identityPath := config.GetEnv("IDENTITY_FILE", "config/config.json")
	identity, err := config.LoadOrCreateIdentity(identityPath, "creator")
	if err != nil {
		logger.WithError(err).Fatal("Failed to load node identity")
	}

	// === Database Connection ===
	dbConfig := database.DefaultConfig(config.GetEnv("DB_PATH", "db/task.sqlite"))
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if err := database.Bootstrap(context.Background(), db, store.Schema); err != nil {
		logger.WithError(err).Fatal("Failed to bootstrap database schema")
	}

	// Initialize Store
	taskStore := store.NewStore(db)

	// === Service Clients ===
	nodeURL := config.GetEnv("NODE_CONTROLLER_URL", "http://localhost:8000")
	envURL := config.GetEnv("ENV_CONTROLLER_URL", "http://localhost:8001")
	dataURL := config.GetEnv("DATA_CONTROLLER_URL", "http://localhost:8002")

	nodeClient := nodeclient.NewClient(nodeclient.Config{Logger: logger})
	executorClient := executorclient.NewClient(executorclient.Config{Logger: logger})
	envClient := envclient.NewClient(envclient.Config{BaseURL: envURL, Logger: logger})
	dataClient := dataclient.NewClient(dataclient.Config{BaseURL: dataURL, Logger: logger})

	// === Scheduler ===
	taskScheduler := scheduler.New(scheduler.Config{
		Store:             taskStore,
		Nodes:             nodeClient,
		Executors:         executorClient,
		Env:               envClient,
		Data:              dataClient,
		NodeControllerURL: nodeURL,
		SelfUID:           identity.NodeUID,
		Logger:            logger,
	})

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("task-controller", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("task-controller", version.Version, version.GitCommit)
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("node_controller", monitoring.HTTPServiceHealthCheck("node-controller", nodeURL+"/health"))
	healthChecker.AddCheck("env_controller", monitoring.HTTPServiceHealthCheck("env-controller", envURL+"/health"))
	healthChecker.AddCheck("data_controller", monitoring.HTTPServiceHealthCheck("data-controller", dataURL+"/health"))

	// === Server Setup ===
	serverConfig := server.DefaultConfig("task-controller", config.GetEnv("TASK_CONTROLLER_PORT", "8004"))

	app := server.SetupServiceRouter(logger, "task-controller", healthChecker, metricsCollector)
	handlers.New(taskStore, taskScheduler, identity.NodeUID, logger).Register(app)

	if err := server.Start(serverConfig, app, logger); err != nil {
		logger.WithError(err).Fatal("Task Controller server failed")
	}
}
