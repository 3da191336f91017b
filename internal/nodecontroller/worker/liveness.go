package worker

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/models"
)

// NodeStore is the store surface the liveness worker needs
type NodeStore interface {
	List(ctx context.Context) ([]models.Node, error)
	SetStatus(ctx context.Context, nodeUID string, status models.NodeStatus, lastPing time.Time) error
}

// Pinger probes one peer endpoint
type Pinger interface {
	Ping(ctx context.Context, baseURL string) models.NodeStatus
}

// LivenessWorker periodically probes every known peer and flips its status.
// It never touches a peer's endpoint; address changes arrive only through
// handshake, enable and exchange.
type LivenessWorker struct {
	store    NodeStore
	pinger   Pinger
	logger   logging.Logger
	interval time.Duration
	now      func() time.Time
}

// NewLivenessWorker creates a new liveness worker
func NewLivenessWorker(s NodeStore, p Pinger, l logging.Logger) *LivenessWorker {
	return &LivenessWorker{
		store:    s,
		pinger:   p,
		logger:   l,
		interval: time.Minute,
		now:      time.Now,
	}
}

// Start starts the probe loop
func (w *LivenessWorker) Start(ctx context.Context) {
	w.logger.Info("Starting node liveness worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run immediately on start
	w.probeNodes(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping liveness worker")
			return
		case <-ticker.C:
			w.probeNodes(ctx)
		}
	}
}

func (w *LivenessWorker) probeNodes(ctx context.Context) {
	nodes, err := w.store.List(ctx)
	if err != nil {
		w.logger.WithError(err).Error("Failed to list nodes")
		return
	}
	if len(nodes) == 0 {
		return
	}

	statuses := make([]models.NodeStatus, len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	for i, node := range nodes {
		g.Go(func() error {
			statuses[i] = w.pinger.Ping(gctx, node.BaseURL())
			return nil
		})
	}
	_ = g.Wait()

	for i, node := range nodes {
		if statuses[i] == node.Status {
			continue
		}
		w.logger.WithFields(logging.Fields{
			"node_uid": node.NodeUID,
			"status":   string(statuses[i]),
		}).Info("Updating node status")
		if err := w.store.SetStatus(ctx, node.NodeUID, statuses[i], w.now()); err != nil {
			w.logger.WithError(err).WithField("node_uid", node.NodeUID).Error("Failed to update node status")
		}
	}
}
