package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gridmesh/gridmesh/internal/envcontroller/store"
	"github.com/gridmesh/gridmesh/pkg/database"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/models"
)

type fakeEngine struct {
	buildErr error
	pushErr  error
	pullErr  error
	runErr   error
	exitCode int64

	builtContext string
	pushedTag    string
	pulledTag    string
	ranInputDir  string
	ranOutputDir string
}

func (f *fakeEngine) Build(_ context.Context, contextDir, tag string) (string, error) {
	f.builtContext = contextDir
	if f.buildErr != nil {
		return "", f.buildErr
	}
	return "sha256:built", nil
}

func (f *fakeEngine) Push(_ context.Context, tag string) error {
	f.pushedTag = tag
	return f.pushErr
}

func (f *fakeEngine) Pull(_ context.Context, tag string) (string, error) {
	f.pulledTag = tag
	if f.pullErr != nil {
		return "", f.pullErr
	}
	return "sha256:pulled", nil
}

func (f *fakeEngine) Run(_ context.Context, tag, inputDir, outputDir string) (string, int64, error) {
	f.ranInputDir = inputDir
	f.ranOutputDir = outputDir
	if f.runErr != nil {
		return "", 0, f.runErr
	}
	return "cid-1", f.exitCode, nil
}

func newTestJobs(t *testing.T, engine ContainerEngine) (*Jobs, *store.Store) {
	t.Helper()
	logger := logging.NewLogger()
	db, err := database.Connect(database.DefaultConfig(filepath.Join(t.TempDir(), "env.sqlite")), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Bootstrap(context.Background(), db, store.Schema))

	s := store.NewStore(db)
	return NewJobs(s, engine, t.TempDir(), nil, logger), s
}

func TestBuildAndPushHappyPath(t *testing.T) {
	engine := &fakeEngine{}
	jobs, s := newTestJobs(t, engine)
	ctx := context.Background()
	tag := "gridmesh/grid_search:abc"

	require.NoError(t, s.UpsertImage(ctx, models.Image{ImageTag: tag, Status: models.ImageStatusBuilding}))
	jobs.BuildAndPush(ctx, "/ctx/grid_search", tag)

	img, err := s.GetImage(ctx, tag)
	require.NoError(t, err)
	require.Equal(t, models.ImageStatusPushed, img.Status)
	require.Equal(t, "sha256:built", *img.ImageID)
	require.Equal(t, "/ctx/grid_search", engine.builtContext)
	require.Equal(t, tag, engine.pushedTag)
}

func TestBuildFailureRecorded(t *testing.T) {
	engine := &fakeEngine{buildErr: errors.New("no Dockerfile")}
	jobs, s := newTestJobs(t, engine)
	ctx := context.Background()
	tag := "gridmesh/grid_search:abc"

	require.NoError(t, s.UpsertImage(ctx, models.Image{ImageTag: tag, Status: models.ImageStatusBuilding}))
	jobs.BuildAndPush(ctx, "/ctx/grid_search", tag)

	img, err := s.GetImage(ctx, tag)
	require.NoError(t, err)
	require.Equal(t, models.ImageStatusBuildingError, img.Status)
	require.Empty(t, engine.pushedTag)
}

func TestPushFailureRecorded(t *testing.T) {
	engine := &fakeEngine{pushErr: errors.New("registry unreachable")}
	jobs, s := newTestJobs(t, engine)
	ctx := context.Background()
	tag := "gridmesh/grid_search:abc"

	require.NoError(t, s.UpsertImage(ctx, models.Image{ImageTag: tag, Status: models.ImageStatusBuilding}))
	jobs.BuildAndPush(ctx, "/ctx/grid_search", tag)

	img, err := s.GetImage(ctx, tag)
	require.NoError(t, err)
	require.Equal(t, models.ImageStatusPushingError, img.Status)
}

func TestPullHappyPath(t *testing.T) {
	engine := &fakeEngine{}
	jobs, s := newTestJobs(t, engine)
	ctx := context.Background()
	tag := "gridmesh/grid_search:abc"

	require.NoError(t, s.UpsertImage(ctx, models.Image{ImageTag: tag, Status: models.ImageStatusPulling}))
	jobs.Pull(ctx, tag)

	img, err := s.GetImage(ctx, tag)
	require.NoError(t, err)
	require.Equal(t, models.ImageStatusPulled, img.Status)
	require.Equal(t, "sha256:pulled", *img.ImageID)
}

func TestPullFailureRecorded(t *testing.T) {
	engine := &fakeEngine{pullErr: errors.New("manifest unknown")}
	jobs, s := newTestJobs(t, engine)
	ctx := context.Background()
	tag := "gridmesh/grid_search:abc"

	require.NoError(t, s.UpsertImage(ctx, models.Image{ImageTag: tag, Status: models.ImageStatusPulling}))
	jobs.Pull(ctx, tag)

	img, err := s.GetImage(ctx, tag)
	require.NoError(t, err)
	require.Equal(t, models.ImageStatusPullingError, img.Status)
}

func TestRunContainerCopiesInputsAndRecordsSuccess(t *testing.T) {
	engine := &fakeEngine{}
	jobs, s := newTestJobs(t, engine)
	ctx := context.Background()

	srcDir := t.TempDir()
	dataset := filepath.Join(srcDir, "dataset.csv")
	config := filepath.Join(srcDir, "config.json")
	require.NoError(t, os.WriteFile(dataset, []byte("a,b\n1,2\n"), 0o644))
	require.NoError(t, os.WriteFile(config, []byte(`{"max_depth":[2,4]}`), 0o644))

	require.NoError(t, s.CreateContainer(ctx, models.ContainerRun{
		SubtaskUID: "sub-1",
		ImageTag:   "gridmesh/grid_search:abc",
		Status:     models.ContainerStatusCreating,
	}))
	jobs.RunContainer(ctx, "sub-1", "gridmesh/grid_search:abc", []string{dataset, config})

	c, err := s.GetContainer(ctx, "sub-1")
	require.NoError(t, err)
	require.Equal(t, models.ContainerStatusSuccess, c.Status)
	require.Equal(t, "cid-1", *c.ContainerID)

	require.Equal(t, filepath.Join(jobs.RuntimeDir("sub-1"), "input"), engine.ranInputDir)
	require.Equal(t, filepath.Join(jobs.RuntimeDir("sub-1"), "output"), engine.ranOutputDir)
	require.FileExists(t, filepath.Join(engine.ranInputDir, "dataset.csv"))
	require.FileExists(t, filepath.Join(engine.ranInputDir, "config.json"))
	require.DirExists(t, engine.ranOutputDir)
}

func TestRunContainerNonZeroExitIsError(t *testing.T) {
	engine := &fakeEngine{exitCode: 1}
	jobs, s := newTestJobs(t, engine)
	ctx := context.Background()

	require.NoError(t, s.CreateContainer(ctx, models.ContainerRun{
		SubtaskUID: "sub-1",
		ImageTag:   "gridmesh/grid_search:abc",
		Status:     models.ContainerStatusCreating,
	}))
	jobs.RunContainer(ctx, "sub-1", "gridmesh/grid_search:abc", nil)

	c, err := s.GetContainer(ctx, "sub-1")
	require.NoError(t, err)
	require.Equal(t, models.ContainerStatusError, c.Status)
}

func TestRunContainerMissingInputIsError(t *testing.T) {
	engine := &fakeEngine{}
	jobs, s := newTestJobs(t, engine)
	ctx := context.Background()

	require.NoError(t, s.CreateContainer(ctx, models.ContainerRun{
		SubtaskUID: "sub-1",
		ImageTag:   "gridmesh/grid_search:abc",
		Status:     models.ContainerStatusCreating,
	}))
	jobs.RunContainer(ctx, "sub-1", "gridmesh/grid_search:abc", []string{"/does/not/exist.csv"})

	c, err := s.GetContainer(ctx, "sub-1")
	require.NoError(t, err)
	require.Equal(t, models.ContainerStatusError, c.Status)
	require.Empty(t, engine.ranInputDir)
}
