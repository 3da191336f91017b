package handlers

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/google/uuid"

	"github.com/gridmesh/gridmesh/internal/datacontroller/store"
	"github.com/gridmesh/gridmesh/pkg/api/common"
	"github.com/gridmesh/gridmesh/pkg/api/data"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/middleware"
	"github.com/gridmesh/gridmesh/pkg/models"
)

// JobRunner is the background transfer surface the handlers launch work on
type JobRunner interface {
	Publish(ctx context.Context, datasetUID, srcPath string)
	Download(ctx context.Context, datasetUID, magnetLink string)
	DatasetDir(datasetUID string) string
}

// Handlers serves the data controller API
type Handlers struct {
	store  *store.Store
	jobs   JobRunner
	logger logging.Logger
	// transfers outlive the request, so they are launched detached
	spawn func(func())
}

// New creates the data controller handlers
func New(s *store.Store, jobs JobRunner, logger logging.Logger) *Handlers {
	return &Handlers{
		store:  s,
		jobs:   jobs,
		logger: logger,
		spawn:  func(f func()) { go f() },
	}
}

// Register wires the routes onto the router
func (h *Handlers) Register(r middleware.Engine) {
	r.POST("/data/publish", h.Publish)
	r.POST("/data/download", h.Download)
	r.POST("/data", h.Get)
}

// Publish mints a dataset uid for a local file tree and starts seeding it
func (h *Handlers) Publish(c middleware.Context) {
	var req data.PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}
	if _, err := os.Stat(req.Path); err != nil {
		c.JSON(http.StatusNotFound, common.Fail("dataset path not found"))
		return
	}

	datasetUID := uuid.New().String()
	d := models.Dataset{
		DatasetUID: datasetUID,
		Path:       h.jobs.DatasetDir(datasetUID),
		Status:     models.DatasetStatusCreating,
	}
	if err := h.store.Create(c.Request.Context(), d); err != nil {
		h.logger.WithError(err).Error("Failed to record dataset")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to record dataset"))
		return
	}
	h.spawn(func() { h.jobs.Publish(context.Background(), datasetUID, req.Path) })

	c.JSON(http.StatusOK, data.PublishResponse{
		Response:   common.OK(),
		DatasetUID: datasetUID,
	})
}

// Download starts leeching a dataset published elsewhere in the fabric. The
// uid is the publisher's, so both sides name the dataset identically.
func (h *Handlers) Download(c middleware.Context) {
	var req data.DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}
	if req.DatasetUID == "" {
		c.JSON(http.StatusBadRequest, common.Fail("dataset_uid is required"))
		return
	}
	if !data.ValidMagnetLink(req.MagnetLink) {
		c.JSON(http.StatusUnprocessableEntity, common.Fail("invalid magnet link"))
		return
	}

	ctx := c.Request.Context()
	existing, err := h.store.Get(ctx, req.DatasetUID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.WithError(err).Error("Failed to read dataset")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to read dataset"))
		return
	}
	// A dataset already known locally is never fetched twice
	if existing != nil {
		c.JSON(http.StatusOK, data.DownloadResponse{
			Response:   common.OK(),
			DatasetUID: req.DatasetUID,
		})
		return
	}

	d := models.Dataset{
		DatasetUID: req.DatasetUID,
		MagnetLink: &req.MagnetLink,
		Path:       h.jobs.DatasetDir(req.DatasetUID),
		Status:     models.DatasetStatusCreating,
	}
	if err := h.store.Create(ctx, d); err != nil {
		h.logger.WithError(err).Error("Failed to record dataset")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to record dataset"))
		return
	}
	h.spawn(func() { h.jobs.Download(context.Background(), req.DatasetUID, req.MagnetLink) })

	c.JSON(http.StatusOK, data.DownloadResponse{
		Response:   common.OK(),
		DatasetUID: req.DatasetUID,
	})
}

// Get reports one dataset record
func (h *Handlers) Get(c middleware.Context) {
	var req data.GetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}

	d, err := h.store.Get(c.Request.Context(), req.DatasetUID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, common.Fail("unknown dataset uid"))
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to read dataset")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to read dataset"))
		return
	}
	c.JSON(http.StatusOK, data.GetResponse{Response: common.OK(), Dataset: d})
}
