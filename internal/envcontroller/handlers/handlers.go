package handlers

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gridmesh/gridmesh/internal/envcontroller/docker"
	"github.com/gridmesh/gridmesh/internal/envcontroller/store"
	"github.com/gridmesh/gridmesh/pkg/api/common"
	"github.com/gridmesh/gridmesh/pkg/api/environment"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/middleware"
	"github.com/gridmesh/gridmesh/pkg/models"
)

// JobRunner is the background job surface the handlers launch work on
type JobRunner interface {
	BuildAndPush(ctx context.Context, contextDir, tag string)
	Pull(ctx context.Context, tag string)
	RunContainer(ctx context.Context, subtaskUID, tag string, inputFiles []string)
	ResultFile(subtaskUID string) string
}

// Handlers serves the environment controller API
type Handlers struct {
	store     *store.Store
	jobs      JobRunner
	logger    logging.Logger
	namespace string
	tasksDir  string
	// jobs outlive the request, so they are launched detached
	spawn func(func())
}

// New creates the environment controller handlers. namespace is the image
// repository prefix, tasksDir holds the per-kind build contexts.
func New(s *store.Store, jobs JobRunner, namespace, tasksDir string, logger logging.Logger) *Handlers {
	return &Handlers{
		store:     s,
		jobs:      jobs,
		logger:    logger,
		namespace: namespace,
		tasksDir:  tasksDir,
		spawn:     func(f func()) { go f() },
	}
}

// Register wires the routes onto the router
func (h *Handlers) Register(r middleware.Engine) {
	r.POST("/image/push", h.ImagePush)
	r.POST("/image/push/status", h.ImagePushStatus)
	r.POST("/image/pull", h.ImagePull)
	r.POST("/image/pull/status", h.ImagePullStatus)
	r.POST("/container/run", h.ContainerRun)
	r.POST("/container/status", h.ContainerStatus)
	r.POST("/container/result", h.ContainerResult)
}

// ImagePush hashes the build context of the requested subtask kind into a
// deterministic tag and starts a build+push unless the same tag is already
// underway or published
func (h *Handlers) ImagePush(c middleware.Context) {
	var req environment.ImagePushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}
	taskType, err := models.ParseTaskType(string(req.TaskType))
	if err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}
	subtaskType, err := models.ParseSubtaskType(string(req.SubtaskType))
	if err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}

	contextDir := filepath.Join(h.tasksDir, string(taskType), "subtasks", string(subtaskType))
	hash, err := docker.DirHash(contextDir)
	if err != nil {
		h.logger.WithError(err).WithField("context_dir", contextDir).Error("Failed to hash build context")
		c.JSON(http.StatusNotFound, common.Fail("unknown subtask build context"))
		return
	}
	tag := docker.ImageTag(h.namespace, string(subtaskType), hash)

	ctx := c.Request.Context()
	img, err := h.store.GetImage(ctx, tag)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.WithError(err).Error("Failed to read image")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to read image"))
		return
	}
	// An in-flight or finished build is never restarted for the same tag
	if img != nil {
		switch img.Status {
		case models.ImageStatusBuilding, models.ImageStatusPushing, models.ImageStatusPushed:
			c.JSON(http.StatusOK, environment.ImagePushResponse{
				Response:      common.OK(),
				ImageTag:      tag,
				PushingStatus: img.Status,
			})
			return
		}
	}

	if err := h.store.UpsertImage(ctx, models.Image{ImageTag: tag, Status: models.ImageStatusBuilding}); err != nil {
		h.logger.WithError(err).Error("Failed to record image")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to record image"))
		return
	}
	h.spawn(func() { h.jobs.BuildAndPush(context.Background(), contextDir, tag) })

	c.JSON(http.StatusOK, environment.ImagePushResponse{
		Response:      common.OK(),
		ImageTag:      tag,
		PushingStatus: models.ImageStatusBuilding,
	})
}

// ImagePushStatus reports build+push progress for a tag
func (h *Handlers) ImagePushStatus(c middleware.Context) {
	var req environment.ImagePushStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}
	img := h.getImage(c, req.ImageTag)
	if img == nil {
		return
	}
	c.JSON(http.StatusOK, environment.ImagePushStatusResponse{
		Response:      common.OK(),
		ImageTag:      img.ImageTag,
		PushingStatus: img.Status,
	})
}

// ImagePull starts a registry pull unless the tag is already local or
// underway
func (h *Handlers) ImagePull(c middleware.Context) {
	var req environment.ImagePullRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}
	if req.ImageTag == "" {
		c.JSON(http.StatusBadRequest, common.Fail("image_tag is required"))
		return
	}

	ctx := c.Request.Context()
	img, err := h.store.GetImage(ctx, req.ImageTag)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.WithError(err).Error("Failed to read image")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to read image"))
		return
	}
	if img != nil {
		switch img.Status {
		case models.ImageStatusPulling, models.ImageStatusPulled, models.ImageStatusPushed:
			c.JSON(http.StatusOK, environment.ImagePullResponse{
				Response:      common.OK(),
				ImageTag:      req.ImageTag,
				PullingStatus: img.Status,
			})
			return
		}
	}

	if err := h.store.UpsertImage(ctx, models.Image{ImageTag: req.ImageTag, Status: models.ImageStatusPulling}); err != nil {
		h.logger.WithError(err).Error("Failed to record image")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to record image"))
		return
	}
	h.spawn(func() { h.jobs.Pull(context.Background(), req.ImageTag) })

	c.JSON(http.StatusOK, environment.ImagePullResponse{
		Response:      common.OK(),
		ImageTag:      req.ImageTag,
		PullingStatus: models.ImageStatusPulling,
	})
}

// ImagePullStatus reports pull progress for a tag
func (h *Handlers) ImagePullStatus(c middleware.Context) {
	var req environment.ImagePullStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}
	img := h.getImage(c, req.ImageTag)
	if img == nil {
		return
	}
	c.JSON(http.StatusOK, environment.ImagePullStatusResponse{
		Response:      common.OK(),
		ImageTag:      img.ImageTag,
		PullingStatus: img.Status,
	})
}

// ContainerRun starts the container of one subtask from an already known
// image. Repeating the call for the same subtask reports the existing run.
func (h *Handlers) ContainerRun(c middleware.Context) {
	var req environment.ContainerRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}
	if req.SubtaskUID == "" || req.ImageTag == "" {
		c.JSON(http.StatusBadRequest, common.Fail("subtask_uid and image_tag are required"))
		return
	}

	ctx := c.Request.Context()
	if _, err := h.store.GetImage(ctx, req.ImageTag); errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, common.Fail("unknown image tag"))
		return
	} else if err != nil {
		h.logger.WithError(err).Error("Failed to read image")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to read image"))
		return
	}

	existing, err := h.store.GetContainer(ctx, req.SubtaskUID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.WithError(err).Error("Failed to read container")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to read container"))
		return
	}
	if existing != nil {
		c.JSON(http.StatusOK, environment.ContainerRunResponse{
			Response:      common.OK(),
			SubtaskUID:    existing.SubtaskUID,
			RunningStatus: existing.Status,
		})
		return
	}

	run := models.ContainerRun{
		SubtaskUID: req.SubtaskUID,
		ImageTag:   req.ImageTag,
		Status:     models.ContainerStatusCreating,
	}
	if err := h.store.CreateContainer(ctx, run); err != nil {
		h.logger.WithError(err).Error("Failed to record container")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to record container"))
		return
	}
	h.spawn(func() { h.jobs.RunContainer(context.Background(), req.SubtaskUID, req.ImageTag, req.InputFiles) })

	c.JSON(http.StatusOK, environment.ContainerRunResponse{
		Response:      common.OK(),
		SubtaskUID:    req.SubtaskUID,
		RunningStatus: models.ContainerStatusCreating,
	})
}

// ContainerStatus reports the run status of one subtask container
func (h *Handlers) ContainerStatus(c middleware.Context) {
	var req environment.ContainerStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}

	run, err := h.store.GetContainer(c.Request.Context(), req.SubtaskUID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, common.Fail("unknown subtask uid"))
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to read container")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to read container"))
		return
	}
	c.JSON(http.StatusOK, environment.ContainerStatusResponse{
		Response:      common.OK(),
		SubtaskUID:    run.SubtaskUID,
		RunningStatus: run.Status,
	})
}

// ContainerResult reports the result file of a finished run. The file only
// exists once the container has written it.
func (h *Handlers) ContainerResult(c middleware.Context) {
	var req environment.ContainerResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}

	if _, err := h.store.GetContainer(c.Request.Context(), req.SubtaskUID); errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, common.Fail("unknown subtask uid"))
		return
	} else if err != nil {
		h.logger.WithError(err).Error("Failed to read container")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to read container"))
		return
	}

	resultFile := h.jobs.ResultFile(req.SubtaskUID)
	if _, err := os.Stat(resultFile); err != nil {
		c.JSON(http.StatusNotFound, common.Fail("result file not found"))
		return
	}
	c.JSON(http.StatusOK, environment.ContainerResultResponse{
		Response:   common.OK(),
		SubtaskUID: req.SubtaskUID,
		ResultFile: resultFile,
	})
}

// getImage loads one image and writes the error response itself when the
// lookup fails
func (h *Handlers) getImage(c middleware.Context, tag string) *models.Image {
	img, err := h.store.GetImage(c.Request.Context(), tag)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, common.Fail("unknown image tag"))
		return nil
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to read image")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to read image"))
		return nil
	}
	return img
}
