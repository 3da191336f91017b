package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gridmesh/gridmesh/internal/executor/store"
	"github.com/gridmesh/gridmesh/internal/executor/worker"
	"github.com/gridmesh/gridmesh/pkg/api/common"
	"github.com/gridmesh/gridmesh/pkg/api/data"
	"github.com/gridmesh/gridmesh/pkg/api/executor"
	"github.com/gridmesh/gridmesh/pkg/api/node"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/middleware"
	"github.com/gridmesh/gridmesh/pkg/models"
)

// SubtaskRunner is the runner surface the handlers need
type SubtaskRunner interface {
	Offer(ctx context.Context, creatorUID, subtaskUID string) error
	Start(ctx context.Context, req executor.StartRequest) (*models.ExecutorSubtask, error)
	Result(ctx context.Context, subtaskUID string) (map[string]any, error)
}

// Handlers serves the task executor API
type Handlers struct {
	store  *store.Store
	runner SubtaskRunner
	logger logging.Logger
}

// New creates the task executor handlers
func New(s *store.Store, runner SubtaskRunner, logger logging.Logger) *Handlers {
	return &Handlers{store: s, runner: runner, logger: logger}
}

// Register wires the routes onto the router. An executor advertises this
// port to the fabric, so liveness probes land here alongside the subtask
// API.
func (h *Handlers) Register(r middleware.Engine) {
	r.GET("/ping", h.Ping)
	r.POST("/subtask/offer", h.Offer)
	r.POST("/subtask/start", h.Start)
	r.POST("/subtask", h.Get)
	r.POST("/subtasks", h.List)
	r.POST("/subtask/result", h.Result)
}

// Ping answers liveness probes from peers
func (h *Handlers) Ping(c middleware.Context) {
	c.JSON(http.StatusOK, node.PingResponse{Response: common.OK()})
}

// Offer reserves a slot for a creator's subtask
func (h *Handlers) Offer(c middleware.Context) {
	var req executor.OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}
	if req.CreatorUID == "" || req.SubtaskUID == "" {
		c.JSON(http.StatusBadRequest, common.Fail("creator_uid and subtask_uid are required"))
		return
	}

	if err := h.runner.Offer(c.Request.Context(), req.CreatorUID, req.SubtaskUID); err != nil {
		h.logger.WithError(err).Error("Failed to reserve subtask slot")
		c.JSON(http.StatusOK, executor.OfferResponse{
			Response: common.Fail("failed to reserve subtask slot"),
			Verdict:  executor.VerdictDeclined,
		})
		return
	}
	c.JSON(http.StatusOK, executor.OfferResponse{
		Response: common.OK(),
		Verdict:  executor.VerdictAccepted,
	})
}

// Start supplies the resources and params for an offered subtask
func (h *Handlers) Start(c middleware.Context) {
	var req executor.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}
	if !data.ValidMagnetLink(req.MagnetLink) {
		c.JSON(http.StatusUnprocessableEntity, common.Fail("invalid magnet link"))
		return
	}

	st, err := h.runner.Start(c.Request.Context(), req)
	if errors.Is(err, worker.ErrNotOffered) {
		c.JSON(http.StatusNotFound, common.Fail("subtask was not offered"))
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to start subtask")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to start subtask"))
		return
	}
	c.JSON(http.StatusOK, executor.StartResponse{Response: common.OK(), Subtask: st})
}

// Get reports one subtask record
func (h *Handlers) Get(c middleware.Context) {
	var req executor.GetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}

	st, err := h.store.Get(c.Request.Context(), req.SubtaskUID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, common.Fail("unknown subtask uid"))
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to read subtask")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to read subtask"))
		return
	}
	c.JSON(http.StatusOK, executor.GetResponse{Response: common.OK(), Subtask: st})
}

// List reports every subtask this executor has accepted
func (h *Handlers) List(c middleware.Context) {
	subtasks, err := h.store.List(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list subtasks")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to list subtasks"))
		return
	}
	if subtasks == nil {
		subtasks = []models.ExecutorSubtask{}
	}
	c.JSON(http.StatusOK, executor.ListResponse{Response: common.OK(), Subtasks: subtasks})
}

// Result reports the parsed output of a successfully finished subtask
func (h *Handlers) Result(c middleware.Context) {
	var req executor.ResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}

	result, err := h.runner.Result(c.Request.Context(), req.SubtaskUID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, common.Fail("unknown subtask uid"))
		return
	}
	if err != nil {
		c.JSON(http.StatusNotFound, common.Fail(err.Error()))
		return
	}
	c.JSON(http.StatusOK, executor.ResultResponse{Response: common.OK(), Result: result})
}
