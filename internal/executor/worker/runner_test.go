package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gridmesh/gridmesh/internal/executor/store"
	"github.com/gridmesh/gridmesh/pkg/api/executor"
	"github.com/gridmesh/gridmesh/pkg/database"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/models"
)

type fakeEnv struct {
	pullStatuses      []models.ImageStatus
	containerStatuses []models.ContainerStatus
	resultFile        string

	pulledTags []string
	runInputs  []string
	runTag     string
}

func (f *fakeEnv) PullImage(_ context.Context, imageTag string) (models.ImageStatus, error) {
	f.pulledTags = append(f.pulledTags, imageTag)
	return models.ImageStatusPulling, nil
}

func (f *fakeEnv) PullImageStatus(context.Context, string) (models.ImageStatus, error) {
	return popStatus(&f.pullStatuses), nil
}

func (f *fakeEnv) RunContainer(_ context.Context, _, imageTag string, inputFiles []string) (models.ContainerStatus, error) {
	f.runTag = imageTag
	f.runInputs = inputFiles
	return models.ContainerStatusCreating, nil
}

func (f *fakeEnv) ContainerStatus(context.Context, string) (models.ContainerStatus, error) {
	return popStatus(&f.containerStatuses), nil
}

func (f *fakeEnv) ContainerResult(context.Context, string) (string, error) {
	return f.resultFile, nil
}

// popStatus consumes the sequence, repeating the last entry forever
func popStatus[T any](statuses *[]T) T {
	s := (*statuses)[0]
	if len(*statuses) > 1 {
		*statuses = (*statuses)[1:]
	}
	return s
}

type fakeData struct {
	dataset *models.Dataset

	downloads []string
}

func (f *fakeData) Download(_ context.Context, datasetUID, _ string) error {
	f.downloads = append(f.downloads, datasetUID)
	return nil
}

func (f *fakeData) Get(context.Context, string) (*models.Dataset, error) {
	return f.dataset, nil
}

func newTestRunner(t *testing.T, env EnvClient, data DataClient) (*Runner, *store.Store) {
	t.Helper()
	logger := logging.NewLogger()
	db, err := database.Connect(database.DefaultConfig(filepath.Join(t.TempDir(), "executor.sqlite")), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Bootstrap(context.Background(), db, store.Schema))

	s := store.NewStore(db)
	r := NewRunner(s, env, data, t.TempDir(), logger)
	r.spawn = func(f func()) { f() }
	return r, s
}

func availableDataset(t *testing.T) *models.Dataset {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "train.csv"), []byte("a,b\n"), 0o644))
	return &models.Dataset{
		DatasetUID: "ds-1",
		Path:       dir,
		Status:     models.DatasetStatusAvailable,
	}
}

func TestOfferIsIdempotent(t *testing.T) {
	r, s := newTestRunner(t, &fakeEnv{}, &fakeData{})
	ctx := context.Background()

	require.NoError(t, r.Offer(ctx, "creator-1", "sub-1"))
	require.NoError(t, r.Offer(ctx, "creator-1", "sub-1"))

	subtasks, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, subtasks, 1)
	require.Equal(t, models.ExecutorSubtaskStatusWaitingParams, subtasks[0].Status)
	require.Equal(t, "creator-1", subtasks[0].CreatorUID)
}

func TestStartWithoutOffer(t *testing.T) {
	r, _ := newTestRunner(t, &fakeEnv{}, &fakeData{})
	_, err := r.Start(context.Background(), executor.StartRequest{SubtaskUID: "ghost"})
	require.ErrorIs(t, err, ErrNotOffered)
}

func TestStartRunsSubtaskToSuccess(t *testing.T) {
	env := &fakeEnv{
		pullStatuses:      []models.ImageStatus{models.ImageStatusPulling, models.ImageStatusPulled},
		containerStatuses: []models.ContainerStatus{models.ContainerStatusRunning, models.ContainerStatusSuccess},
	}
	data := &fakeData{dataset: availableDataset(t)}
	r, s := newTestRunner(t, env, data)
	ctx := context.Background()

	require.NoError(t, r.Offer(ctx, "creator-1", "sub-1"))
	st, err := r.Start(ctx, executor.StartRequest{
		SubtaskUID: "sub-1",
		ImageTag:   "gridmesh/grid_search:abc",
		DatasetUID: "ds-1",
		MagnetLink: "magnet:?xt=urn:btih:deadbeef",
		Params:     map[string]any{"max_depth": []any{2.0, 4.0}},
	})
	require.NoError(t, err)
	require.NotNil(t, st.DatasetUID)
	require.Equal(t, "ds-1", *st.DatasetUID)

	// The run happened synchronously via the test spawn
	final, err := s.Get(ctx, "sub-1")
	require.NoError(t, err)
	require.Equal(t, models.ExecutorSubtaskStatusSuccess, final.Status)
	require.NotNil(t, final.FinishedAt)

	require.Equal(t, []string{"ds-1"}, data.downloads)
	require.Equal(t, []string{"gridmesh/grid_search:abc"}, env.pulledTags)
	require.Equal(t, "gridmesh/grid_search:abc", env.runTag)

	require.Len(t, env.runInputs, 2)
	require.Equal(t, "train.csv", filepath.Base(env.runInputs[0]))
	require.Equal(t, "config.json", filepath.Base(env.runInputs[1]))

	raw, err := os.ReadFile(env.runInputs[1])
	require.NoError(t, err)
	var params map[string]any
	require.NoError(t, json.Unmarshal(raw, &params))
	require.Contains(t, params, "max_depth")
}

func TestStartIsIdempotentAfterLaunch(t *testing.T) {
	env := &fakeEnv{
		pullStatuses:      []models.ImageStatus{models.ImageStatusPulled},
		containerStatuses: []models.ContainerStatus{models.ContainerStatusSuccess},
	}
	data := &fakeData{dataset: availableDataset(t)}
	r, _ := newTestRunner(t, env, data)
	ctx := context.Background()

	require.NoError(t, r.Offer(ctx, "creator-1", "sub-1"))
	req := executor.StartRequest{
		SubtaskUID: "sub-1",
		ImageTag:   "gridmesh/grid_search:abc",
		DatasetUID: "ds-1",
		MagnetLink: "magnet:?xt=urn:btih:deadbeef",
	}
	_, err := r.Start(ctx, req)
	require.NoError(t, err)

	st, err := r.Start(ctx, req)
	require.NoError(t, err)
	require.Equal(t, models.ExecutorSubtaskStatusSuccess, st.Status)
	require.Len(t, data.downloads, 1)
}

func TestPullErrorFailsSubtask(t *testing.T) {
	env := &fakeEnv{
		pullStatuses: []models.ImageStatus{models.ImageStatusPullingError},
	}
	data := &fakeData{dataset: availableDataset(t)}
	r, s := newTestRunner(t, env, data)
	ctx := context.Background()

	require.NoError(t, r.Offer(ctx, "creator-1", "sub-1"))
	_, err := r.Start(ctx, executor.StartRequest{
		SubtaskUID: "sub-1",
		ImageTag:   "gridmesh/grid_search:abc",
		DatasetUID: "ds-1",
		MagnetLink: "magnet:?xt=urn:btih:deadbeef",
	})
	require.NoError(t, err)

	final, err := s.Get(ctx, "sub-1")
	require.NoError(t, err)
	require.Equal(t, models.ExecutorSubtaskStatusError, final.Status)
}

func TestContainerTimeoutMapsToTimeout(t *testing.T) {
	env := &fakeEnv{
		pullStatuses:      []models.ImageStatus{models.ImageStatusPulled},
		containerStatuses: []models.ContainerStatus{models.ContainerStatusTimeout},
	}
	data := &fakeData{dataset: availableDataset(t)}
	r, s := newTestRunner(t, env, data)
	ctx := context.Background()

	require.NoError(t, r.Offer(ctx, "creator-1", "sub-1"))
	_, err := r.Start(ctx, executor.StartRequest{
		SubtaskUID: "sub-1",
		ImageTag:   "gridmesh/grid_search:abc",
		DatasetUID: "ds-1",
		MagnetLink: "magnet:?xt=urn:btih:deadbeef",
	})
	require.NoError(t, err)

	final, err := s.Get(ctx, "sub-1")
	require.NoError(t, err)
	require.Equal(t, models.ExecutorSubtaskStatusTimeout, final.Status)
}

func TestResultParsesOutputJSON(t *testing.T) {
	resultFile := filepath.Join(t.TempDir(), "result.json")
	require.NoError(t, os.WriteFile(resultFile,
		[]byte(`{"result":[{"params":{"max_depth":2},"f1_score":0.91}]}`), 0o644))

	env := &fakeEnv{
		pullStatuses:      []models.ImageStatus{models.ImageStatusPulled},
		containerStatuses: []models.ContainerStatus{models.ContainerStatusSuccess},
		resultFile:        resultFile,
	}
	data := &fakeData{dataset: availableDataset(t)}
	r, _ := newTestRunner(t, env, data)
	ctx := context.Background()

	require.NoError(t, r.Offer(ctx, "creator-1", "sub-1"))
	_, err := r.Start(ctx, executor.StartRequest{
		SubtaskUID: "sub-1",
		ImageTag:   "gridmesh/grid_search:abc",
		DatasetUID: "ds-1",
		MagnetLink: "magnet:?xt=urn:btih:deadbeef",
	})
	require.NoError(t, err)

	result, err := r.Result(ctx, "sub-1")
	require.NoError(t, err)
	require.Contains(t, result, "result")
}

func TestResultRefusedBeforeSuccess(t *testing.T) {
	r, _ := newTestRunner(t, &fakeEnv{}, &fakeData{})
	ctx := context.Background()

	require.NoError(t, r.Offer(ctx, "creator-1", "sub-1"))
	_, err := r.Result(ctx, "sub-1")
	require.Error(t, err)
	require.NotErrorIs(t, err, store.ErrNotFound)

	_, err = r.Result(ctx, "ghost")
	require.ErrorIs(t, err, store.ErrNotFound)
}
