package main

import (
	"context"
	"strconv"

	"github.com/gridmesh/gridmesh/internal/nodecontroller"
	"github.com/gridmesh/gridmesh/internal/nodecontroller/handlers"
	"github.com/gridmesh/gridmesh/internal/nodecontroller/store"
	"github.com/gridmesh/gridmesh/internal/nodecontroller/upnp"
	"github.com/gridmesh/gridmesh/internal/nodecontroller/worker"
	nodeclient "github.com/gridmesh/gridmesh/pkg/clients/node"
	"github.com/gridmesh/gridmesh/pkg/config"
	"github.com/gridmesh/gridmesh/pkg/database"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/models"
	"github.com/gridmesh/gridmesh/pkg/monitoring"
	"github.com/gridmesh/gridmesh/pkg/server"
	"github.com/gridmesh/gridmesh/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("node-controller")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Node Controller (peer registry and gossip)")

	// === Identity ===
	identityPath := config.GetEnv("IDENTITY_FILE", "config/config.json")
	identity, err := config.LoadOrCreateIdentity(identityPath, config.GetEnv("NODE_ROLE", "executor"))
	if err != nil {
		logger.WithError(err).Fatal("Failed to load node identity")
	}
	logger.WithFields(logging.Fields{
		"node_uid": identity.NodeUID,
		"role":     identity.Role,
	}).Info("Node identity loaded")

	// === Database Connection ===
	dbConfig := database.DefaultConfig(config.GetEnv("DB_PATH", "db/node.sqlite"))
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if err := database.Bootstrap(context.Background(), db, store.Schema); err != nil {
		logger.WithError(err).Fatal("Failed to bootstrap database schema")
	}

	// Initialize Store
	nodeStore := store.NewStore(db)

	// === Peer Client ===
	peerClient := nodeclient.NewClient(nodeclient.Config{Logger: logger})

	// === Server Config ===
	serverConfig := server.DefaultConfig("node-controller", config.GetEnv("NODE_CONTROLLER_PORT", "8000"))
	localPort, err := strconv.Atoi(serverConfig.Port)
	if err != nil {
		logger.WithError(err).Fatal("Invalid listen port")
	}

	// === Bootstrap (public endpoint + registry enrolment) ===
	// The fabric reaches a peer through the API matching its role, so that
	// is the port mapped and gossiped, not this registry listener.
	advertisedPort := nodecontroller.RolePort(models.NodeRole(identity.Role), localPort)

	var mapper nodecontroller.PortMapper
	if identity.UseUPnP {
		m, err := upnp.Discover(logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to discover internet gateway")
		}
		mapper = m
	}

	bootstrap := nodecontroller.NewBootstrap(identity, identityPath, advertisedPort, nodeStore, peerClient, mapper, upnp.LocalIP, logger)
	if err := bootstrap.Setup(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to bring node online")
	}

	// === Background Workers ===
	livenessWorker := worker.NewLivenessWorker(nodeStore, peerClient, logger)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	go livenessWorker.Start(workerCtx)

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("node-controller", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("node-controller", version.Version, version.GitCommit)
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))

	// === Server Setup ===
	app := server.SetupServiceRouter(logger, "node-controller", healthChecker, metricsCollector)
	handlers.New(nodeStore, logger, bootstrap.Self).Register(app)

	err = server.Start(serverConfig, app, logger, func(context.Context) {
		workerCancel()
		bootstrap.Teardown()
	})
	if err != nil {
		logger.WithError(err).Fatal("Node Controller server failed")
	}
}
