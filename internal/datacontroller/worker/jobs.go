// Package worker runs the data controller's background transfers.
package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gridmesh/gridmesh/internal/datacontroller/store"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/models"
	"github.com/gridmesh/gridmesh/pkg/monitoring"
)

const (
	// PublishTimeout bounds torrent creation and the first announce
	PublishTimeout = 10 * time.Second
	// DownloadTimeout bounds a full dataset fetch
	DownloadTimeout = 2 * time.Minute
)

// Transfer is the swarm surface the jobs need
type Transfer interface {
	Seed(ctx context.Context, datasetUID, torrentFile string) (string, error)
	Download(ctx context.Context, magnetLink string) error
}

// Jobs runs publishes and downloads against the swarm, persisting every
// status transition
type Jobs struct {
	store       *store.Store
	transfer    Transfer
	metrics     *monitoring.TransferMetrics
	logger      logging.Logger
	dataDir     string
	torrentsDir string
}

// NewJobs creates the job runner. dataDir holds dataset content, one
// subdirectory per uid; torrentsDir holds the generated metainfo files.
// metrics may be nil.
func NewJobs(s *store.Store, transfer Transfer, dataDir, torrentsDir string, metrics *monitoring.TransferMetrics, logger logging.Logger) *Jobs {
	return &Jobs{store: s, transfer: transfer, metrics: metrics, logger: logger, dataDir: dataDir, torrentsDir: torrentsDir}
}

// DatasetDir returns where one dataset's content lives
func (j *Jobs) DatasetDir(datasetUID string) string {
	return filepath.Join(j.dataDir, datasetUID)
}

// Publish copies srcPath into the dataset directory, seeds it and records
// the magnet link
func (j *Jobs) Publish(ctx context.Context, datasetUID, srcPath string) {
	log := j.logger.WithField("dataset_uid", datasetUID)

	if err := copyTree(srcPath, j.DatasetDir(datasetUID)); err != nil {
		log.WithError(err).Error("Failed to stage dataset content")
		return
	}
	j.setStatus(ctx, datasetUID, models.DatasetStatusPublishing)

	seedCtx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()
	torrentFile := filepath.Join(j.torrentsDir, datasetUID+".torrent")
	done := j.metrics.Track("dataset", "publish")
	magnet, err := j.transfer.Seed(seedCtx, datasetUID, torrentFile)
	done(err)
	if err != nil {
		log.WithError(err).Error("Failed to publish dataset")
		return
	}

	if err := j.store.SetMagnetLink(ctx, datasetUID, magnet); err != nil {
		log.WithError(err).Error("Failed to record magnet link")
		return
	}
	j.setStatus(ctx, datasetUID, models.DatasetStatusAvailable)
	log.Info("Dataset published")
}

// Download fetches a remote dataset into the data directory
func (j *Jobs) Download(ctx context.Context, datasetUID, magnetLink string) {
	log := j.logger.WithField("dataset_uid", datasetUID)
	j.setStatus(ctx, datasetUID, models.DatasetStatusDownloading)

	fetchCtx, cancel := context.WithTimeout(ctx, DownloadTimeout)
	defer cancel()
	done := j.metrics.Track("dataset", "download")
	if err := j.transfer.Download(fetchCtx, magnetLink); err != nil {
		done(err)
		log.WithError(err).Error("Failed to download dataset")
		return
	}
	done(nil)

	j.setStatus(ctx, datasetUID, models.DatasetStatusAvailable)
	log.Info("Dataset downloaded")
}

func (j *Jobs) setStatus(ctx context.Context, datasetUID string, status models.DatasetStatus) {
	if err := j.store.SetStatus(ctx, datasetUID, status); err != nil {
		j.logger.WithError(err).WithField("dataset_uid", datasetUID).Error("Failed to set dataset status")
	}
}

// copyTree copies a file or directory tree into dst, creating dst as a
// directory either way
func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat dataset source: %w", err)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("failed to create dataset dir: %w", err)
	}
	if !info.IsDir() {
		return copyFile(src, filepath.Join(dst, filepath.Base(src)))
	}

	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open dataset file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create dataset copy: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy dataset file: %w", err)
	}
	return nil
}
