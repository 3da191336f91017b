package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gridmesh/gridmesh/internal/nodecontroller/store"
	"github.com/gridmesh/gridmesh/pkg/api/common"
	"github.com/gridmesh/gridmesh/pkg/api/node"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/middleware"
	"github.com/gridmesh/gridmesh/pkg/models"
)

// SelfFunc returns the node's own identity as currently advertised
type SelfFunc func() models.Node

// Handlers serves the node controller API
type Handlers struct {
	store  *store.Store
	logger logging.Logger
	self   SelfFunc
	now    func() time.Time
}

// New creates the node controller handlers
func New(s *store.Store, logger logging.Logger, self SelfFunc) *Handlers {
	return &Handlers{store: s, logger: logger, self: self, now: time.Now}
}

// Register wires the routes onto the router
func (h *Handlers) Register(r middleware.Engine) {
	r.GET("/ping", h.Ping)
	r.POST("/nodes/active", h.ActiveNodes)
	r.POST("/nodes/handshake", h.Handshake)
	r.POST("/nodes/exchange", h.Exchange)
	r.POST("/nodes/join", h.Join)
	r.POST("/nodes/leave", h.Leave)
	r.POST("/nodes/enable", h.Enable)
	r.POST("/nodes/disable", h.Disable)
}

// Ping answers liveness probes
func (h *Handlers) Ping(c middleware.Context) {
	c.JSON(http.StatusOK, node.PingResponse{Response: common.OK()})
}

// ActiveNodes lists all nodes currently seen as active
func (h *Handlers) ActiveNodes(c middleware.Context) {
	nodes, err := h.store.ListByStatus(c.Request.Context(), models.NodeStatusActive)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list active nodes")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to list nodes"))
		return
	}
	if nodes == nil {
		nodes = []models.Node{}
	}
	c.JSON(http.StatusOK, node.ActiveNodesResponse{Nodes: nodes})
}

// Handshake records the caller as an active peer and answers with this
// node's own identity. Repeating a handshake is idempotent.
func (h *Handlers) Handshake(c middleware.Context) {
	var req node.HandshakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}
	if _, err := models.ParseNodeRole(string(req.Role)); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}

	peer := models.Node{
		NodeUID:     req.NodeUID,
		IPv4Address: req.IP,
		Port:        req.Port,
		Role:        req.Role,
		Status:      models.NodeStatusActive,
		LastPing:    h.now(),
	}
	if err := h.store.Upsert(c.Request.Context(), peer); err != nil {
		h.logger.WithError(err).Error("Failed to record handshake peer")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to record peer"))
		return
	}

	self := h.self()
	c.JSON(http.StatusOK, node.HandshakeResponse{
		Response: common.OK(),
		NodeUID:  self.NodeUID,
		IP:       self.IPv4Address,
		Port:     self.Port,
		Role:     self.Role,
	})
}

// Exchange merges the caller's fabric view into the local registry and
// returns the merged set. A gossiped record never downgrades a peer whose
// local observation is fresher.
func (h *Handlers) Exchange(c middleware.Context) {
	var req node.ExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}

	// reject the whole batch up front so a bad record never leaves a
	// half-applied merge behind
	for _, n := range req.Nodes {
		if _, err := models.ParseNodeRole(string(n.Role)); err != nil {
			c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
			return
		}
		if _, err := models.ParseNodeStatus(string(n.Status)); err != nil {
			c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
			return
		}
	}

	ctx := c.Request.Context()
	for _, n := range req.Nodes {
		known, err := h.store.Get(ctx, n.NodeUID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			h.logger.WithError(err).Error("Failed to read node during exchange")
			c.JSON(http.StatusInternalServerError, common.Fail("failed to merge nodes"))
			return
		}
		if known != nil && known.LastPing.After(n.LastPing) {
			continue
		}
		if err := h.store.Upsert(ctx, n); err != nil {
			h.logger.WithError(err).Error("Failed to upsert node during exchange")
			c.JSON(http.StatusInternalServerError, common.Fail("failed to merge nodes"))
			return
		}
	}

	nodes, err := h.store.List(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list nodes after exchange")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to list nodes"))
		return
	}
	if nodes == nil {
		nodes = []models.Node{}
	}
	c.JSON(http.StatusOK, node.ExchangeResponse{Nodes: nodes})
}

// Join registers an endpoint and mints its uid
func (h *Handlers) Join(c middleware.Context) {
	var req node.JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}
	if _, err := models.ParseNodeRole(string(req.Role)); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}

	n := models.Node{
		NodeUID:     uuid.New().String(),
		IPv4Address: req.IP,
		Port:        req.Port,
		Role:        req.Role,
		Status:      models.NodeStatusActive,
		LastPing:    h.now(),
	}
	if err := h.store.Create(c.Request.Context(), n); err != nil {
		h.logger.WithError(err).Error("Failed to create node")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to create node"))
		return
	}
	c.JSON(http.StatusOK, node.JoinResponse{NodeUID: n.NodeUID})
}

// Leave removes a node from the registry
func (h *Handlers) Leave(c middleware.Context) {
	var req node.LeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}
	if err := h.store.Delete(c.Request.Context(), req.NodeUID); err != nil {
		h.logger.WithError(err).Error("Failed to delete node")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to delete node"))
		return
	}
	c.JSON(http.StatusOK, node.LeaveResponse{
		Response: common.Response{
			Status:  common.StatusSuccess,
			Message: "node with given uid has been excluded from cluster",
		},
	})
}

// Enable marks a known node active at the endpoint it reports
func (h *Handlers) Enable(c middleware.Context) {
	var req node.EnableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}

	ctx := c.Request.Context()
	n, err := h.store.Get(ctx, req.NodeUID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, common.Fail("unknown node uid"))
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to read node")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to read node"))
		return
	}

	n.IPv4Address = req.IP
	n.Port = req.Port
	n.Status = models.NodeStatusActive
	n.LastPing = h.now()
	if err := h.store.Update(ctx, *n); err != nil {
		h.logger.WithError(err).Error("Failed to enable node")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to enable node"))
		return
	}
	c.JSON(http.StatusOK, node.EnableResponse{Response: common.OK()})
}

// Disable marks a known node inactive
func (h *Handlers) Disable(c middleware.Context) {
	var req node.DisableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}

	err := h.store.SetStatus(c.Request.Context(), req.NodeUID, models.NodeStatusInactive, h.now())
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, common.Fail("unknown node uid"))
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to disable node")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to disable node"))
		return
	}
	c.JSON(http.StatusOK, node.DisableResponse{Response: common.OK()})
}
