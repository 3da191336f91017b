// Package worker runs the environment controller's background jobs: image
// builds, registry transfers and subtask containers.
package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gridmesh/gridmesh/internal/envcontroller/store"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/models"
	"github.com/gridmesh/gridmesh/pkg/monitoring"
)

// ContainerEngine is the engine surface the jobs need; the docker package
// provides the real one
type ContainerEngine interface {
	Build(ctx context.Context, contextDir, tag string) (string, error)
	Push(ctx context.Context, tag string) error
	Pull(ctx context.Context, tag string) (string, error)
	Run(ctx context.Context, tag, inputDir, outputDir string) (string, int64, error)
}

// Jobs executes image and container work against the engine, persisting
// every status transition before the next step
type Jobs struct {
	store      *store.Store
	engine     ContainerEngine
	metrics    *monitoring.TransferMetrics
	logger     logging.Logger
	runtimeDir string
}

// NewJobs creates the job runner. metrics may be nil.
func NewJobs(s *store.Store, engine ContainerEngine, runtimeDir string, metrics *monitoring.TransferMetrics, logger logging.Logger) *Jobs {
	return &Jobs{store: s, engine: engine, metrics: metrics, logger: logger, runtimeDir: runtimeDir}
}

// RuntimeDir returns the runtime directory of one subtask
func (j *Jobs) RuntimeDir(subtaskUID string) string {
	return filepath.Join(j.runtimeDir, subtaskUID)
}

// ResultFile returns the expected result path of one subtask
func (j *Jobs) ResultFile(subtaskUID string) string {
	return filepath.Join(j.runtimeDir, subtaskUID, "output", "result.json")
}

// BuildAndPush builds contextDir into tag and pushes it. The image row must
// already exist in building state.
func (j *Jobs) BuildAndPush(ctx context.Context, contextDir, tag string) {
	log := j.logger.WithField("image_tag", tag)
	log.Info("Building image")

	imageID, err := j.engine.Build(ctx, contextDir, tag)
	if err != nil {
		log.WithError(err).Error("Image build failed")
		j.setImageStatus(ctx, tag, models.ImageStatusBuildingError)
		return
	}
	if err := j.store.SetImageID(ctx, tag, imageID); err != nil {
		log.WithError(err).Error("Failed to record image id")
	}
	log.Info("Image built")

	j.setImageStatus(ctx, tag, models.ImageStatusPushing)
	log.Info("Pushing image")
	done := j.metrics.Track("image", "push")
	if err := j.engine.Push(ctx, tag); err != nil {
		done(err)
		log.WithError(err).Error("Image push failed")
		j.setImageStatus(ctx, tag, models.ImageStatusPushingError)
		return
	}
	done(nil)
	j.setImageStatus(ctx, tag, models.ImageStatusPushed)
	log.Info("Image pushed")
}

// Pull pulls tag from the registry. The image row must already exist in
// pulling state.
func (j *Jobs) Pull(ctx context.Context, tag string) {
	log := j.logger.WithField("image_tag", tag)
	log.Info("Pulling image")

	done := j.metrics.Track("image", "pull")
	imageID, err := j.engine.Pull(ctx, tag)
	done(err)
	if err != nil {
		log.WithError(err).Error("Image pull failed")
		j.setImageStatus(ctx, tag, models.ImageStatusPullingError)
		return
	}
	if err := j.store.SetImageID(ctx, tag, imageID); err != nil {
		log.WithError(err).Error("Failed to record image id")
	}
	j.setImageStatus(ctx, tag, models.ImageStatusPulled)
	log.Info("Image pulled")
}

// RunContainer copies the inputs into the subtask runtime dir, runs the
// container and records the terminal status from its exit code
func (j *Jobs) RunContainer(ctx context.Context, subtaskUID, tag string, inputFiles []string) {
	log := j.logger.WithFields(logging.Fields{
		"subtask_uid": subtaskUID,
		"image_tag":   tag,
	})

	runtimeDir := j.RuntimeDir(subtaskUID)
	inputDir := filepath.Join(runtimeDir, "input")
	outputDir := filepath.Join(runtimeDir, "output")

	j.setContainerStatus(ctx, subtaskUID, models.ContainerStatusFileCopying)
	if err := copyInputFiles(inputFiles, inputDir); err != nil {
		log.WithError(err).Error("Failed to copy input files")
		j.setContainerStatus(ctx, subtaskUID, models.ContainerStatusError)
		return
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		log.WithError(err).Error("Failed to create output dir")
		j.setContainerStatus(ctx, subtaskUID, models.ContainerStatusError)
		return
	}

	j.setContainerStatus(ctx, subtaskUID, models.ContainerStatusRunning)
	log.Info("Running container")

	containerID, exitCode, err := j.engine.Run(ctx, tag, inputDir, outputDir)
	if containerID != "" {
		if serr := j.store.SetContainerID(ctx, subtaskUID, containerID); serr != nil {
			log.WithError(serr).Error("Failed to record container id")
		}
	}
	switch {
	case err != nil:
		log.WithError(err).Error("Container run failed")
		j.setContainerStatus(ctx, subtaskUID, models.ContainerStatusError)
	case exitCode != 0:
		log.WithField("exit_code", exitCode).Warn("Container exited non-zero")
		j.setContainerStatus(ctx, subtaskUID, models.ContainerStatusError)
	default:
		j.setContainerStatus(ctx, subtaskUID, models.ContainerStatusSuccess)
		log.Info("Container finished")
	}
}

func (j *Jobs) setImageStatus(ctx context.Context, tag string, status models.ImageStatus) {
	if err := j.store.SetImageStatus(ctx, tag, status); err != nil {
		j.logger.WithError(err).WithField("image_tag", tag).Error("Failed to set image status")
	}
}

func (j *Jobs) setContainerStatus(ctx context.Context, subtaskUID string, status models.ContainerStatus) {
	if err := j.store.SetContainerStatus(ctx, subtaskUID, status); err != nil {
		j.logger.WithError(err).WithField("subtask_uid", subtaskUID).Error("Failed to set container status")
	}
}

func copyInputFiles(inputFiles []string, inputDir string) error {
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create input dir: %w", err)
	}
	for _, src := range inputFiles {
		if err := copyFile(src, filepath.Join(inputDir, filepath.Base(src))); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create input copy: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy input file: %w", err)
	}
	return nil
}
