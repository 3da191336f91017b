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

	"github.com/gridmesh/gridmesh/internal/executor/store"
	"github.com/gridmesh/gridmesh/internal/executor/worker"
	execapi "github.com/gridmesh/gridmesh/pkg/api/executor"
	"github.com/gridmesh/gridmesh/pkg/database"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/models"
)

type fakeRunner struct {
	store *store.Store

	startErr error
	result   map[string]any

	offered []string
	started []string
}

func (f *fakeRunner) Offer(ctx context.Context, creatorUID, subtaskUID string) error {
	f.offered = append(f.offered, subtaskUID)
	now := time.Now()
	return f.store.Create(ctx, models.ExecutorSubtask{
		SubtaskUID: subtaskUID,
		CreatorUID: creatorUID,
		Status:     models.ExecutorSubtaskStatusWaitingParams,
		CreatedAt:  &now,
	})
}

func (f *fakeRunner) Start(ctx context.Context, req execapi.StartRequest) (*models.ExecutorSubtask, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, req.SubtaskUID)
	return f.store.Get(ctx, req.SubtaskUID)
}

func (f *fakeRunner) Result(context.Context, string) (map[string]any, error) {
	if f.result == nil {
		return nil, store.ErrNotFound
	}
	return f.result, nil
}

func newTestEnv(t *testing.T) (*gin.Engine, *store.Store, *fakeRunner) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logging.NewLogger()
	db, err := database.Connect(database.DefaultConfig(filepath.Join(t.TempDir(), "executor.sqlite")), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Bootstrap(context.Background(), db, store.Schema))

	s := store.NewStore(db)
	runner := &fakeRunner{store: s}

	r := gin.New()
	New(s, runner, logger).Register(r)
	return r, s, runner
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

func TestPing(t *testing.T) {
	r, _, _ := newTestEnv(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"success"`)
}

func TestOfferAccepts(t *testing.T) {
	r, _, runner := newTestEnv(t)

	w := post(t, r, "/subtask/offer", execapi.OfferRequest{
		CreatorUID: "creator-1",
		SubtaskUID: "sub-1",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp execapi.OfferResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, execapi.VerdictAccepted, resp.Verdict)
	require.Equal(t, []string{"sub-1"}, runner.offered)
}

func TestOfferRejectsIncompleteRequest(t *testing.T) {
	r, _, runner := newTestEnv(t)
	w := post(t, r, "/subtask/offer", execapi.OfferRequest{SubtaskUID: "sub-1"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, runner.offered)
}

func TestStartRejectsMalformedMagnet(t *testing.T) {
	r, _, runner := newTestEnv(t)
	w := post(t, r, "/subtask/start", execapi.StartRequest{
		SubtaskUID: "sub-1",
		ImageTag:   "gridmesh/grid_search:abc",
		DatasetUID: "ds-1",
		MagnetLink: "magnet:?xt=urn:sha1:nope!!",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Empty(t, runner.started)
}

func TestStartUnknownSubtaskIs404(t *testing.T) {
	r, _, runner := newTestEnv(t)
	runner.startErr = worker.ErrNotOffered

	w := post(t, r, "/subtask/start", execapi.StartRequest{
		SubtaskUID: "ghost",
		ImageTag:   "gridmesh/grid_search:abc",
		DatasetUID: "ds-1",
		MagnetLink: "magnet:?xt=urn:btih:deadbeef",
	})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartReturnsSubtaskRecord(t *testing.T) {
	r, _, runner := newTestEnv(t)
	require.NoError(t, runner.Offer(context.Background(), "creator-1", "sub-1"))

	w := post(t, r, "/subtask/start", execapi.StartRequest{
		SubtaskUID: "sub-1",
		ImageTag:   "gridmesh/grid_search:abc",
		DatasetUID: "ds-1",
		MagnetLink: "magnet:?xt=urn:btih:deadbeef",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp execapi.StartResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Subtask)
	require.Equal(t, "sub-1", resp.Subtask.SubtaskUID)
	require.Equal(t, []string{"sub-1"}, runner.started)
}

func TestGetAndList(t *testing.T) {
	r, _, runner := newTestEnv(t)
	require.NoError(t, runner.Offer(context.Background(), "creator-1", "sub-1"))

	w := post(t, r, "/subtask", execapi.GetRequest{SubtaskUID: "sub-1"})
	require.Equal(t, http.StatusOK, w.Code)

	var getResp execapi.GetResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &getResp))
	require.Equal(t, models.ExecutorSubtaskStatusWaitingParams, getResp.Subtask.Status)

	w = post(t, r, "/subtask", execapi.GetRequest{SubtaskUID: "ghost"})
	require.Equal(t, http.StatusNotFound, w.Code)

	w = post(t, r, "/subtasks", struct{}{})
	require.Equal(t, http.StatusOK, w.Code)

	var listResp execapi.ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Len(t, listResp.Subtasks, 1)
}

func TestResult(t *testing.T) {
	r, _, runner := newTestEnv(t)

	w := post(t, r, "/subtask/result", execapi.ResultRequest{SubtaskUID: "ghost"})
	require.Equal(t, http.StatusNotFound, w.Code)

	runner.result = map[string]any{"result": []any{map[string]any{"f1_score": 0.91}}}
	w = post(t, r, "/subtask/result", execapi.ResultRequest{SubtaskUID: "sub-1"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp execapi.ResultResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Contains(t, resp.Result, "result")
}
