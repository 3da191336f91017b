package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gridmesh/gridmesh/internal/datacontroller/store"
	"github.com/gridmesh/gridmesh/pkg/database"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/models"
)

type fakeTransfer struct {
	seedErr     error
	downloadErr error

	seededUID   string
	torrentFile string
	downloaded  string
}

func (f *fakeTransfer) Seed(_ context.Context, datasetUID, torrentFile string) (string, error) {
	f.seededUID = datasetUID
	f.torrentFile = torrentFile
	if f.seedErr != nil {
		return "", f.seedErr
	}
	return "magnet:?xt=urn:btih:deadbeef&dn=" + datasetUID, nil
}

func (f *fakeTransfer) Download(_ context.Context, magnetLink string) error {
	f.downloaded = magnetLink
	return f.downloadErr
}

func newTestJobs(t *testing.T, transfer Transfer) (*Jobs, *store.Store) {
	t.Helper()
	logger := logging.NewLogger()
	db, err := database.Connect(database.DefaultConfig(filepath.Join(t.TempDir(), "data.sqlite")), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Bootstrap(context.Background(), db, store.Schema))

	s := store.NewStore(db)
	return NewJobs(s, transfer, t.TempDir(), t.TempDir(), nil, logger), s
}

func TestPublishStagesSeedsAndRecordsMagnet(t *testing.T) {
	transfer := &fakeTransfer{}
	jobs, s := newTestJobs(t, transfer)
	ctx := context.Background()

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "train.csv"), []byte("a,b\n1,2\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "meta"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "meta", "schema.json"), []byte("{}"), 0o644))

	require.NoError(t, s.Create(ctx, models.Dataset{
		DatasetUID: "ds-1",
		Path:       jobs.DatasetDir("ds-1"),
		Status:     models.DatasetStatusCreating,
	}))
	jobs.Publish(ctx, "ds-1", srcDir)

	d, err := s.Get(ctx, "ds-1")
	require.NoError(t, err)
	require.Equal(t, models.DatasetStatusAvailable, d.Status)
	require.NotNil(t, d.MagnetLink)
	require.Contains(t, *d.MagnetLink, "urn:btih:")

	require.Equal(t, "ds-1", transfer.seededUID)
	require.Equal(t, "ds-1.torrent", filepath.Base(transfer.torrentFile))
	require.FileExists(t, filepath.Join(jobs.DatasetDir("ds-1"), "train.csv"))
	require.FileExists(t, filepath.Join(jobs.DatasetDir("ds-1"), "meta", "schema.json"))
}

func TestPublishSingleFileDataset(t *testing.T) {
	transfer := &fakeTransfer{}
	jobs, s := newTestJobs(t, transfer)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "train.csv")
	require.NoError(t, os.WriteFile(src, []byte("a,b\n1,2\n"), 0o644))

	require.NoError(t, s.Create(ctx, models.Dataset{
		DatasetUID: "ds-1",
		Path:       jobs.DatasetDir("ds-1"),
		Status:     models.DatasetStatusCreating,
	}))
	jobs.Publish(ctx, "ds-1", src)

	require.FileExists(t, filepath.Join(jobs.DatasetDir("ds-1"), "train.csv"))
	d, err := s.Get(ctx, "ds-1")
	require.NoError(t, err)
	require.Equal(t, models.DatasetStatusAvailable, d.Status)
}

func TestPublishSeedFailureLeavesPublishing(t *testing.T) {
	transfer := &fakeTransfer{seedErr: errors.New("no peers")}
	jobs, s := newTestJobs(t, transfer)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "train.csv")
	require.NoError(t, os.WriteFile(src, []byte("a,b\n"), 0o644))

	require.NoError(t, s.Create(ctx, models.Dataset{
		DatasetUID: "ds-1",
		Path:       jobs.DatasetDir("ds-1"),
		Status:     models.DatasetStatusCreating,
	}))
	jobs.Publish(ctx, "ds-1", src)

	d, err := s.Get(ctx, "ds-1")
	require.NoError(t, err)
	require.Equal(t, models.DatasetStatusPublishing, d.Status)
	require.Nil(t, d.MagnetLink)
}

func TestDownloadRecordsAvailability(t *testing.T) {
	transfer := &fakeTransfer{}
	jobs, s := newTestJobs(t, transfer)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, models.Dataset{
		DatasetUID: "ds-1",
		Path:       jobs.DatasetDir("ds-1"),
		Status:     models.DatasetStatusCreating,
	}))
	jobs.Download(ctx, "ds-1", "magnet:?xt=urn:btih:deadbeef")

	d, err := s.Get(ctx, "ds-1")
	require.NoError(t, err)
	require.Equal(t, models.DatasetStatusAvailable, d.Status)
	require.Equal(t, "magnet:?xt=urn:btih:deadbeef", transfer.downloaded)
}

func TestDownloadFailureLeavesDownloading(t *testing.T) {
	transfer := &fakeTransfer{downloadErr: errors.New("swarm unreachable")}
	jobs, s := newTestJobs(t, transfer)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, models.Dataset{
		DatasetUID: "ds-1",
		Path:       jobs.DatasetDir("ds-1"),
		Status:     models.DatasetStatusCreating,
	}))
	jobs.Download(ctx, "ds-1", "magnet:?xt=urn:btih:deadbeef")

	d, err := s.Get(ctx, "ds-1")
	require.NoError(t, err)
	require.Equal(t, models.DatasetStatusDownloading, d.Status)
}
