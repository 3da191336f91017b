package handlers

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/gridmesh/gridmesh/internal/taskcontroller/scheduler"
	"github.com/gridmesh/gridmesh/internal/taskcontroller/store"
	"github.com/gridmesh/gridmesh/pkg/api/common"
	"github.com/gridmesh/gridmesh/pkg/api/node"
	"github.com/gridmesh/gridmesh/pkg/api/task"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/middleware"
	"github.com/gridmesh/gridmesh/pkg/models"
)

// TaskScheduler drives one submitted task to a terminal status
type TaskScheduler interface {
	Schedule(ctx context.Context, taskUID, datasetPath string)
}

// Handlers serves the task controller API
type Handlers struct {
	store      *store.Store
	scheduler  TaskScheduler
	creatorUID string
	logger     logging.Logger
	now        func() time.Time
	newUID     func() string
	// scheduling outlives the request, so it is launched detached
	spawn func(func())
}

// New creates the task controller handlers. creatorUID is this node's own
// identity, stamped on every task it originates.
func New(s *store.Store, sched TaskScheduler, creatorUID string, logger logging.Logger) *Handlers {
	return &Handlers{
		store:      s,
		scheduler:  sched,
		creatorUID: creatorUID,
		logger:     logger,
		now:        time.Now,
		newUID:     func() string { return uuid.New().String() },
		spawn:      func(f func()) { go f() },
	}
}

// Register wires the routes onto the router. A creator advertises this
// port to the fabric, so liveness probes land here alongside the task API.
func (h *Handlers) Register(r middleware.Engine) {
	r.GET("/ping", h.Ping)
	r.POST("/task/create", h.Create)
	r.POST("/task", h.Get)
	r.POST("/tasks", h.List)
	r.POST("/task/result", h.Result)
	r.POST("/task/subtask", h.Subtask)
}

// Ping answers liveness probes from peers
func (h *Handlers) Ping(c middleware.Context) {
	c.JSON(http.StatusOK, node.PingResponse{Response: common.OK()})
}

// Create records a new task and starts its scheduling job. The task uid is
// returned immediately; the caller polls /task or /task/result.
func (h *Handlers) Create(c middleware.Context) {
	var req task.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}
	taskType, err := models.ParseTaskType(string(req.TaskType))
	if err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}
	if _, ok := req.Params[scheduler.SubtasksParamsKey].([]any); !ok {
		c.JSON(http.StatusBadRequest, common.Fail("params must carry a subtasks_params list"))
		return
	}
	if _, err := os.Stat(req.DatasetPath); err != nil {
		c.JSON(http.StatusNotFound, common.Fail("dataset path not found"))
		return
	}

	taskUID := h.newUID()
	now := h.now()
	t := models.Task{
		TaskUID:    taskUID,
		TaskType:   taskType,
		CreatorUID: h.creatorUID,
		Status:     models.TaskStatusCreating,
		CreatedAt:  &now,
		Params:     req.Params,
	}
	if err := h.store.CreateTask(c.Request.Context(), t); err != nil {
		h.logger.WithError(err).Error("Failed to record task")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to record task"))
		return
	}
	h.spawn(func() { h.scheduler.Schedule(context.Background(), taskUID, req.DatasetPath) })

	c.JSON(http.StatusOK, task.CreateResponse{
		Response: common.OK(),
		TaskUID:  taskUID,
	})
}

// Get reports one task with its subtasks
func (h *Handlers) Get(c middleware.Context) {
	var req task.GetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}

	t, err := h.store.GetTask(c.Request.Context(), req.TaskUID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, common.Fail("unknown task uid"))
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to read task")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to read task"))
		return
	}
	c.JSON(http.StatusOK, task.GetResponse{Response: common.OK(), Task: t})
}

// List reports every task this controller has accepted
func (h *Handlers) List(c middleware.Context) {
	tasks, err := h.store.ListTasks(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list tasks")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to list tasks"))
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	c.JSON(http.StatusOK, task.ListResponse{Response: common.OK(), Tasks: tasks})
}

// Result reports the reduced result of a successfully finished task
func (h *Handlers) Result(c middleware.Context) {
	var req task.ResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}

	t, err := h.store.GetTask(c.Request.Context(), req.TaskUID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, common.Fail("unknown task uid"))
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to read task")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to read task"))
		return
	}
	if t.Result == nil {
		c.JSON(http.StatusNotFound, common.Fail("task has no result in status "+string(t.Status)))
		return
	}
	c.JSON(http.StatusOK, task.ResultResponse{Response: common.OK(), Result: t.Result})
}

// Subtask reports one creator-side subtask record
func (h *Handlers) Subtask(c middleware.Context) {
	var req task.SubtaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.Fail(err.Error()))
		return
	}

	st, err := h.store.GetSubtask(c.Request.Context(), req.SubtaskUID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, common.Fail("unknown subtask uid"))
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to read subtask")
		c.JSON(http.StatusInternalServerError, common.Fail("failed to read subtask"))
		return
	}
	c.JSON(http.StatusOK, task.SubtaskResponse{Response: common.OK(), Subtask: st})
}
