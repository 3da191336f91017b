package main

import (
	"context"
	"strings"

	"github.com/gridmesh/gridmesh/internal/datacontroller/handlers"
	"github.com/gridmesh/gridmesh/internal/datacontroller/store"
	"github.com/gridmesh/gridmesh/internal/datacontroller/swarm"
	"github.com/gridmesh/gridmesh/internal/datacontroller/worker"
	"github.com/gridmesh/gridmesh/pkg/config"
	"github.com/gridmesh/gridmesh/pkg/database"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/monitoring"
	"github.com/gridmesh/gridmesh/pkg/server"
	"github.com/gridmesh/gridmesh/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("data-controller")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Data Controller (dataset swarm wrapper)")

	// === Database Connection ===
	dbConfig := database.DefaultConfig(config.GetEnv("DB_PATH", "db/data.sqlite"))
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if err := database.Bootstrap(context.Background(), db, store.Schema); err != nil {
		logger.WithError(err).Fatal("Failed to bootstrap database schema")
	}

	// Initialize Store
	datasetStore := store.NewStore(db)

	// === Swarm Client ===
	datasetsDir := config.GetEnv("DATASETS_DIR", "datasets")
	var trackers []string
	if raw := config.GetEnv("SWARM_TRACKERS", ""); raw != "" {
		trackers = strings.Split(raw, ",")
	}
	swarmClient, err := swarm.NewSwarm(swarm.Config{
		DataDir:    datasetsDir,
		ListenPort: config.GetEnvInt("SWARM_LISTEN_PORT", 0),
		Trackers:   trackers,
		Logger:     logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to start swarm client")
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("data-controller", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("data-controller", version.Version, version.GitCommit)
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("dataset_storage", monitoring.StoragePathHealthCheck(datasetsDir))

	// === Background Jobs ===
	torrentsDir := config.GetEnv("TORRENTS_DIR", "torrents")
	jobs := worker.NewJobs(datasetStore, swarmClient, datasetsDir, torrentsDir, metricsCollector.CreateTransferMetrics(), logger)

	// === Server Setup ===
	serverConfig := server.DefaultConfig("data-controller", config.GetEnv("DATA_CONTROLLER_PORT", "8002"))

	app := server.SetupServiceRouter(logger, "data-controller", healthChecker, metricsCollector)
	handlers.New(datasetStore, jobs, logger).Register(app)

	err = server.Start(serverConfig, app, logger, func(context.Context) {
		swarmClient.Close()
	})
	if err != nil {
		logger.WithError(err).Fatal("Data Controller server failed")
	}
}
