// Package worker drives accepted subtasks from offer to terminal status on
// the executor side.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gridmesh/gridmesh/internal/executor/store"
	"github.com/gridmesh/gridmesh/pkg/api/executor"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/models"
)

const (
	// ImagePollInterval paces pull status checks against the local
	// environment controller
	ImagePollInterval = 50 * time.Millisecond
	// DatasetPollInterval paces dataset availability checks against the
	// local data controller
	DatasetPollInterval = 100 * time.Millisecond
	// ContainerPollInterval paces container run status checks
	ContainerPollInterval = 50 * time.Millisecond
	// ResourceTimeout bounds how long a subtask may wait for its image and
	// dataset before it is declared timed out
	ResourceTimeout = 2 * time.Minute
)

// EnvClient is the local environment controller surface the runner needs
type EnvClient interface {
	PullImage(ctx context.Context, imageTag string) (models.ImageStatus, error)
	PullImageStatus(ctx context.Context, imageTag string) (models.ImageStatus, error)
	RunContainer(ctx context.Context, subtaskUID, imageTag string, inputFiles []string) (models.ContainerStatus, error)
	ContainerStatus(ctx context.Context, subtaskUID string) (models.ContainerStatus, error)
	ContainerResult(ctx context.Context, subtaskUID string) (string, error)
}

// DataClient is the local data controller surface the runner needs
type DataClient interface {
	Download(ctx context.Context, datasetUID, magnetLink string) error
	Get(ctx context.Context, datasetUID string) (*models.Dataset, error)
}

// Runner accepts subtask offers and runs started subtasks to completion
// against the colocated environment and data controllers
type Runner struct {
	store       *store.Store
	env         EnvClient
	data        DataClient
	logger      logging.Logger
	subtasksDir string
	now         func() time.Time
	// subtask runs outlive the request, so they are launched detached
	spawn func(func())
}

// NewRunner creates the subtask runner. subtasksDir holds the per-subtask
// parameter files handed to containers.
func NewRunner(s *store.Store, env EnvClient, data DataClient, subtasksDir string, logger logging.Logger) *Runner {
	return &Runner{
		store:       s,
		env:         env,
		data:        data,
		logger:      logger,
		subtasksDir: subtasksDir,
		now:         time.Now,
		spawn:       func(f func()) { go f() },
	}
}

// Offer reserves a slot for a subtask. Repeating an offer for the same uid
// is idempotent.
func (r *Runner) Offer(ctx context.Context, creatorUID, subtaskUID string) error {
	if _, err := r.store.Get(ctx, subtaskUID); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	now := r.now()
	return r.store.Create(ctx, models.ExecutorSubtask{
		SubtaskUID: subtaskUID,
		CreatorUID: creatorUID,
		Status:     models.ExecutorSubtaskStatusWaitingParams,
		CreatedAt:  &now,
	})
}

// ErrNotOffered is returned when a start names a subtask no offer reserved
var ErrNotOffered = errors.New("subtask was not offered")

// Start supplies the resources of an offered subtask, kicks off the dataset
// and image fetches and launches the run. A start for an already started
// subtask reports the current record without relaunching anything.
func (r *Runner) Start(ctx context.Context, req executor.StartRequest) (*models.ExecutorSubtask, error) {
	st, err := r.store.Get(ctx, req.SubtaskUID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotOffered
	}
	if err != nil {
		return nil, err
	}
	if st.Status != models.ExecutorSubtaskStatusWaitingParams {
		return st, nil
	}

	if err := r.data.Download(ctx, req.DatasetUID, req.MagnetLink); err != nil {
		return nil, fmt.Errorf("failed to start dataset download: %w", err)
	}
	if _, err := r.env.PullImage(ctx, req.ImageTag); err != nil {
		return nil, fmt.Errorf("failed to start image pull: %w", err)
	}

	if err := r.store.SetDatasetUID(ctx, req.SubtaskUID, req.DatasetUID); err != nil {
		return nil, err
	}
	if err := r.store.SetStatus(ctx, req.SubtaskUID, models.ExecutorSubtaskStatusCreating); err != nil {
		return nil, err
	}
	r.spawn(func() { r.run(context.Background(), req) })

	return r.store.Get(ctx, req.SubtaskUID)
}

// Result reads and parses the output JSON of a successfully finished subtask
func (r *Runner) Result(ctx context.Context, subtaskUID string) (map[string]any, error) {
	st, err := r.store.Get(ctx, subtaskUID)
	if err != nil {
		return nil, err
	}
	if st.Status != models.ExecutorSubtaskStatusSuccess {
		return nil, fmt.Errorf("subtask %s has no result in status %s", subtaskUID, st.Status)
	}

	resultFile, err := r.env.ContainerResult(ctx, subtaskUID)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(resultFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read result file: %w", err)
	}
	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse result file: %w", err)
	}
	return result, nil
}

// run waits for the subtask's resources, starts its container and records
// the terminal status
func (r *Runner) run(ctx context.Context, req executor.StartRequest) {
	log := r.logger.WithField("subtask_uid", req.SubtaskUID)

	resCtx, cancel := context.WithTimeout(ctx, ResourceTimeout)
	err := r.awaitResources(resCtx, req)
	cancel()
	if err != nil {
		status := models.ExecutorSubtaskStatusError
		if errors.Is(err, context.DeadlineExceeded) {
			status = models.ExecutorSubtaskStatusTimeout
		}
		log.WithError(err).Error("Subtask resources never became ready")
		r.finish(ctx, req.SubtaskUID, status)
		return
	}

	inputFiles, err := r.collectInputFiles(ctx, req)
	if err != nil {
		log.WithError(err).Error("Failed to assemble subtask inputs")
		r.finish(ctx, req.SubtaskUID, models.ExecutorSubtaskStatusError)
		return
	}

	if _, err := r.env.RunContainer(ctx, req.SubtaskUID, req.ImageTag, inputFiles); err != nil {
		log.WithError(err).Error("Failed to start subtask container")
		r.finish(ctx, req.SubtaskUID, models.ExecutorSubtaskStatusError)
		return
	}
	if err := r.store.SetStatus(ctx, req.SubtaskUID, models.ExecutorSubtaskStatusRunning); err != nil {
		log.WithError(err).Error("Failed to set subtask status")
	}

	final, err := r.awaitContainer(ctx, req.SubtaskUID)
	if err != nil {
		log.WithError(err).Error("Lost track of subtask container")
		r.finish(ctx, req.SubtaskUID, models.ExecutorSubtaskStatusError)
		return
	}
	r.finish(ctx, req.SubtaskUID, final)
	log.WithField("status", final).Info("Subtask finished")
}

// awaitResources blocks until both the image and the dataset are local
func (r *Runner) awaitResources(ctx context.Context, req executor.StartRequest) error {
	for {
		status, err := r.env.PullImageStatus(ctx, req.ImageTag)
		if err != nil {
			return err
		}
		if status == models.ImageStatusPulled {
			break
		}
		if status == models.ImageStatusPullingError {
			return fmt.Errorf("image pull failed for %s", req.ImageTag)
		}
		if err := sleep(ctx, ImagePollInterval); err != nil {
			return err
		}
	}

	for {
		d, err := r.data.Get(ctx, req.DatasetUID)
		if err != nil {
			return err
		}
		if d != nil && d.Status == models.DatasetStatusAvailable {
			return nil
		}
		if err := sleep(ctx, DatasetPollInterval); err != nil {
			return err
		}
	}
}

// collectInputFiles writes the parameter file and lists the dataset content
func (r *Runner) collectInputFiles(ctx context.Context, req executor.StartRequest) ([]string, error) {
	d, err := r.data.Get(ctx, req.DatasetUID)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(d.Path, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list dataset files: %w", err)
	}

	configFile := filepath.Join(r.subtasksDir, req.SubtaskUID, "config.json")
	if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create subtask dir: %w", err)
	}
	raw, err := json.MarshalIndent(req.Params, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode subtask params: %w", err)
	}
	if err := os.WriteFile(configFile, raw, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write subtask params: %w", err)
	}
	return append(files, configFile), nil
}

// awaitContainer blocks until the container reaches a terminal status
func (r *Runner) awaitContainer(ctx context.Context, subtaskUID string) (models.ExecutorSubtaskStatus, error) {
	for {
		status, err := r.env.ContainerStatus(ctx, subtaskUID)
		if err != nil {
			return "", err
		}
		if status.Terminal() {
			return statusFromContainer(status), nil
		}
		if err := sleep(ctx, ContainerPollInterval); err != nil {
			return "", err
		}
	}
}

func (r *Runner) finish(ctx context.Context, subtaskUID string, status models.ExecutorSubtaskStatus) {
	if err := r.store.Finish(ctx, subtaskUID, status, r.now()); err != nil {
		r.logger.WithError(err).WithField("subtask_uid", subtaskUID).Error("Failed to record subtask finish")
	}
}

func statusFromContainer(s models.ContainerStatus) models.ExecutorSubtaskStatus {
	switch s {
	case models.ContainerStatusSuccess:
		return models.ExecutorSubtaskStatusSuccess
	case models.ContainerStatusTimeout:
		return models.ExecutorSubtaskStatusTimeout
	case models.ContainerStatusCancelled:
		return models.ExecutorSubtaskStatusCancelled
	default:
		return models.ExecutorSubtaskStatusError
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
