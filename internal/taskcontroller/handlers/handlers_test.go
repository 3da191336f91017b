package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/gridmesh/gridmesh/internal/taskcontroller/store"
	taskapi "github.com/gridmesh/gridmesh/pkg/api/task"
	"github.com/gridmesh/gridmesh/pkg/database"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/models"
)

type fakeScheduler struct {
	taskUIDs     []string
	datasetPaths []string
}

func (f *fakeScheduler) Schedule(_ context.Context, taskUID, datasetPath string) {
	f.taskUIDs = append(f.taskUIDs, taskUID)
	f.datasetPaths = append(f.datasetPaths, datasetPath)
}

func newTestRouter(t *testing.T) (*gin.Engine, *store.Store, *fakeScheduler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logging.NewLogger()
	db, err := database.Connect(database.DefaultConfig(filepath.Join(t.TempDir(), "task.sqlite")), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Bootstrap(context.Background(), db, store.Schema))

	s := store.NewStore(db)
	sched := &fakeScheduler{}
	h := New(s, sched, "creator-uid", logger)
	// run scheduling inline so tests observe it deterministically
	h.spawn = func(f func()) { f() }

	r := gin.New()
	h.Register(r)
	return r, s, sched
}

func post(t *testing.T, r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func gridParams() map[string]any {
	return map[string]any{
		"model_type": "DecisionTreeClassifier",
		"subtasks_params": []any{
			map[string]any{"criterion": "gini", "max_depth": float64(5)},
			map[string]any{"criterion": "entropy", "max_depth": float64(6)},
		},
	}
}

func TestCreateReturnsTaskUIDImmediately(t *testing.T) {
	r, s, sched := newTestRouter(t)

	w := post(t, r, "/task/create", taskapi.CreateRequest{
		TaskType:    models.TaskTypeGridSearch,
		Params:      gridParams(),
		DatasetPath: t.TempDir(),
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp taskapi.CreateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.TaskUID)

	stored, err := s.GetTask(context.Background(), resp.TaskUID)
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusCreating, stored.Status)
	require.Equal(t, "creator-uid", stored.CreatorUID)
	require.NotNil(t, stored.CreatedAt)

	require.Equal(t, []string{resp.TaskUID}, sched.taskUIDs)
}

func TestCreateRejectsUnknownTaskType(t *testing.T) {
	r, _, sched := newTestRouter(t)

	w := post(t, r, "/task/create", taskapi.CreateRequest{
		TaskType:    "simulated_annealing",
		Params:      gridParams(),
		DatasetPath: t.TempDir(),
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, sched.taskUIDs)
}

func TestCreateRequiresSubtasksParamsList(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := post(t, r, "/task/create", taskapi.CreateRequest{
		TaskType:    models.TaskTypeGridSearch,
		Params:      map[string]any{"model_type": "DecisionTreeClassifier"},
		DatasetPath: t.TempDir(),
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRejectsMissingDatasetPath(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := post(t, r, "/task/create", taskapi.CreateRequest{
		TaskType:    models.TaskTypeGridSearch,
		Params:      gridParams(),
		DatasetPath: filepath.Join(t.TempDir(), "no-such-dir"),
	})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetUnknownTask(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := post(t, r, "/task", taskapi.GetRequest{TaskUID: "missing"})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetReportsTaskWithSubtasks(t *testing.T) {
	r, s, _ := newTestRouter(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, s.CreateTask(ctx, models.Task{
		TaskUID:    "t1",
		TaskType:   models.TaskTypeGridSearch,
		CreatorUID: "creator-uid",
		Status:     models.TaskStatusSubtasksPolling,
		CreatedAt:  &now,
		Params:     gridParams(),
	}))
	executorUID := "exec-1"
	require.NoError(t, s.CreateSubtask(ctx, models.Subtask{
		SubtaskUID:  "st1",
		TaskUID:     "t1",
		SubtaskType: models.SubtaskTypeGridSearch,
		ExecutorUID: &executorUID,
		Status:      models.SubtaskStatusRunning,
		Params:      map[string]any{"subtask_params": []any{}},
	}))

	w := post(t, r, "/task", taskapi.GetRequest{TaskUID: "t1"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp taskapi.GetResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, models.TaskStatusSubtasksPolling, resp.Task.Status)
	require.Len(t, resp.Task.Subtasks, 1)
	require.Equal(t, "st1", resp.Task.Subtasks[0].SubtaskUID)
}

func TestResultOnlyAfterSuccess(t *testing.T) {
	r, s, _ := newTestRouter(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, s.CreateTask(ctx, models.Task{
		TaskUID:    "t1",
		TaskType:   models.TaskTypeGridSearch,
		CreatorUID: "creator-uid",
		Status:     models.TaskStatusSubtasksPolling,
		CreatedAt:  &now,
		Params:     gridParams(),
	}))

	w := post(t, r, "/task/result", taskapi.ResultRequest{TaskUID: "t1"})
	require.Equal(t, http.StatusNotFound, w.Code)

	best := map[string]any{"criterion": "entropy", "f1_score": 0.91}
	require.NoError(t, s.FinishTask(ctx, "t1", models.TaskStatusSuccess, best, time.Now()))

	w = post(t, r, "/task/result", taskapi.ResultRequest{TaskUID: "t1"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp taskapi.ResultResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 0.91, resp.Result["f1_score"])
}

func TestSubtaskProjection(t *testing.T) {
	r, s, _ := newTestRouter(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, s.CreateTask(ctx, models.Task{
		TaskUID:    "t1",
		TaskType:   models.TaskTypeGridSearch,
		CreatorUID: "creator-uid",
		Status:     models.TaskStatusCreating,
		CreatedAt:  &now,
		Params:     gridParams(),
	}))
	require.NoError(t, s.CreateSubtask(ctx, models.Subtask{
		SubtaskUID:  "st1",
		TaskUID:     "t1",
		SubtaskType: models.SubtaskTypeGridSearch,
		Status:      models.SubtaskStatusCreating,
		Params:      map[string]any{},
	}))

	w := post(t, r, "/task/subtask", taskapi.SubtaskRequest{SubtaskUID: "st1"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp taskapi.SubtaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "t1", resp.Subtask.TaskUID)

	w = post(t, r, "/task/subtask", taskapi.SubtaskRequest{SubtaskUID: "missing"})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPing(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"success"`)
}

func TestListTasks(t *testing.T) {
	r, s, _ := newTestRouter(t)
	ctx := context.Background()

	w := post(t, r, "/tasks", struct{}{})
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"tasks":[]`)

	now := time.Now()
	require.NoError(t, s.CreateTask(ctx, models.Task{
		TaskUID:    "t1",
		TaskType:   models.TaskTypeGridSearch,
		CreatorUID: "creator-uid",
		Status:     models.TaskStatusCreating,
		CreatedAt:  &now,
		Params:     gridParams(),
	}))

	w = post(t, r, "/tasks", struct{}{})
	require.Equal(t, http.StatusOK, w.Code)

	var resp taskapi.ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Tasks, 1)
}
